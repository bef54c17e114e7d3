package model

import "time"

// ResponseKind tells the parser which terminal render state the executor saw.
type ResponseKind string

const (
	ResponseResults   ResponseKind = "results"
	ResponseNoResults ResponseKind = "no_results"
)

// RawResponse is the rendered markup captured for one query.
type RawResponse struct {
	Identifier string        `json:"identifier"`
	Kind       ResponseKind  `json:"kind"`
	Markup     string        `json:"-"`
	Elapsed    time.Duration `json:"elapsed"`
}

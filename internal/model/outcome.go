package model

// OutcomeStatus classifies the result of querying one identifier.
type OutcomeStatus string

const (
	OutcomeSuccess          OutcomeStatus = "success"
	OutcomeEmpty            OutcomeStatus = "empty"
	OutcomeTransientFailure OutcomeStatus = "transient_failure"
	OutcomePermanentFailure OutcomeStatus = "permanent_failure"
)

// IsTerminal reports whether the status is a valid final classification for
// an identifier. Transient failures only appear in attempt history.
func (s OutcomeStatus) IsTerminal() bool {
	switch s {
	case OutcomeSuccess, OutcomeEmpty, OutcomePermanentFailure:
		return true
	default:
		return false
	}
}

// Attempt records the classification of a single query attempt.
type Attempt struct {
	Number     int           `json:"number"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// QueryOutcome is the final result for one identifier.
type QueryOutcome struct {
	Identifier string          `json:"identifier"`
	Status     OutcomeStatus   `json:"status"`
	Records    []PaymentRecord `json:"records,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Attempts   []Attempt       `json:"attempts,omitempty"`

	// Recreations counts session recreations spent on this identifier.
	Recreations int `json:"recreations,omitempty"`
}

// Failed reports whether the identifier ended in a permanent failure.
func (o QueryOutcome) Failed() bool {
	return o.Status == OutcomePermanentFailure
}

// NewFailure builds a permanent-failure outcome.
func NewFailure(identifier, reason string, attempts []Attempt) QueryOutcome {
	return QueryOutcome{
		Identifier: identifier,
		Status:     OutcomePermanentFailure,
		Reason:     reason,
		Attempts:   attempts,
	}
}

// Package portal drives the disbursement search form: one browser session,
// one query at a time.
package portal

import (
	"context"
)

// Query is the form input for one identifier.
type Query struct {
	Identifier  string
	PeriodStart string // DD/MM/YYYY
	PeriodEnd   string // DD/MM/YYYY
}

// Session owns one browser page on the portal. Implementations are not safe
// for concurrent use; a session serves one query at a time.
type Session interface {
	// Open navigates to the entry page and waits for the search form.
	// Failures are returned as resilience.SessionError.
	Open(ctx context.Context) error
	// Reset returns the form to its ready state between queries.
	Reset(ctx context.Context) error
	// Submit fills the form for q and requests the report.
	Submit(ctx context.Context, q Query) error
	// Snapshot returns the current markup of the result frame.
	Snapshot(ctx context.Context) (string, error)
	// Close releases the browser. Safe to call after a failed Open.
	Close() error
}

// Factory creates unopened sessions. The orchestrator calls it again when a
// session dies.
type Factory func() Session

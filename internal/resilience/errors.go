package resilience

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrRenderTimeout signals that the result page did not finish rendering
// within the per-query wait ceiling. It is always transient.
var ErrRenderTimeout = eris.New("render wait timed out")

// TransientError wraps an error that is safe to retry against the same
// session (block page, incomplete render).
type TransientError struct {
	Err    error
	Reason string
}

func (e *TransientError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with a short reason tag.
func NewTransientError(err error, reason string) *TransientError {
	return &TransientError{Err: err, Reason: reason}
}

// ParseError reports that a response rendered but the expected result table
// structure was missing. Usually a rendering race, so it is retried.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps err as a ParseError.
func NewParseError(err error) *ParseError {
	return &ParseError{Err: err}
}

// SessionError reports that the browser session is unusable. Retrying the
// query on the same session will not help; the session must be recreated.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return "session: " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError wraps err as a SessionError. Already-wrapped errors are
// returned unchanged.
func NewSessionError(err error) error {
	if err == nil {
		return nil
	}
	if IsSession(err) {
		return err
	}
	return &SessionError{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is a
// render timeout, a parse error or an explicit TransientError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsSession(err) {
		return false
	}
	if errors.Is(err, ErrRenderTimeout) {
		return true
	}

	var pe *ParseError
	if errors.As(err, &pe) {
		return true
	}

	var te *TransientError
	return errors.As(err, &te)
}

// IsSession returns true if the error chain carries a SessionError.
func IsSession(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// LooksLikeSessionDeath applies string heuristics to errors surfaced by the
// browser driver, which rarely carry typed causes.
func LooksLikeSessionDeath(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"target closed",
		"websocket",
		"broken pipe",
		"connection reset by peer",
		"connection refused",
		"invalid context",
		"browser has been closed",
		"no such target",
		"exec: ",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Reason returns a compact, single-line description of err for outcome reports.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrRenderTimeout):
		return "timeout"
	case IsSession(err):
		return "session: " + firstLine(rootMessage(err))
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "parse: " + firstLine(rootMessage(pe.Err))
	}
	var te *TransientError
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	return firstLine(err.Error())
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 120
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimSpace(s)
}

package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsTransient_RenderTimeout(t *testing.T) {
	if !IsTransient(ErrRenderTimeout) {
		t.Error("render timeout should be transient")
	}
	wrapped := eris.Wrap(ErrRenderTimeout, "executor: 900123456")
	if !IsTransient(wrapped) {
		t.Error("wrapped render timeout should be transient")
	}
}

func TestIsTransient_ParseError(t *testing.T) {
	err := fmt.Errorf("attempt: %w", NewParseError(errors.New("no table")))
	if !IsTransient(err) {
		t.Error("parse error should be transient")
	}
}

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("captcha page"), "blocked")
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("invalid input")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_SessionWinsOverTransient(t *testing.T) {
	err := NewSessionError(ErrRenderTimeout)
	if IsTransient(err) {
		t.Error("session error must not be retried in place")
	}
	if !IsSession(err) {
		t.Error("expected session error")
	}
}

func TestNewSessionError_NoDoubleWrap(t *testing.T) {
	inner := NewSessionError(errors.New("target closed"))
	outer := NewSessionError(inner)
	if outer != inner {
		t.Error("expected already-wrapped error to be returned unchanged")
	}
	if NewSessionError(nil) != nil {
		t.Error("nil in, nil out")
	}
}

func TestLooksLikeSessionDeath(t *testing.T) {
	cases := map[string]bool{
		"websocket: close 1006 (abnormal closure)": true,
		"target closed":                            true,
		"exec: \"google-chrome\": executable file not found in $PATH": true,
		"no results": false,
	}
	for msg, want := range cases {
		if got := LooksLikeSessionDeath(errors.New(msg)); got != want {
			t.Errorf("%q: expected %v, got %v", msg, want, got)
		}
	}
	if LooksLikeSessionDeath(nil) {
		t.Error("nil error is not a session death")
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{eris.Wrap(ErrRenderTimeout, "wait"), "timeout"},
		{NewParseError(errors.New("no table")), "parse: no table"},
		{NewTransientError(errors.New("captcha"), "blocked"), "blocked"},
		{NewSessionError(errors.New("target closed")), "session: target closed"},
		{errors.New("line one\nline two"), "line one"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, "blocked")
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to find inner error")
	}
	if te.Error() != "blocked: root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}

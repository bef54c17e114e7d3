package portal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/parser"
	"github.com/sells-group/giro-cli/internal/resilience"
	"github.com/sells-group/giro-cli/internal/telemetry"
)

const (
	defaultQueryTimeout = 35 * time.Second
	defaultPollInitial  = 500 * time.Millisecond
	defaultPollCap      = 4 * time.Second
)

// ExecutorConfig controls how long and how often the executor polls.
type ExecutorConfig struct {
	// QueryTimeout is the per-query render wait ceiling.
	QueryTimeout time.Duration
	// PollInitial is the first poll interval; it doubles up to PollCap.
	PollInitial time.Duration
	PollCap     time.Duration
	PeriodStart string
	PeriodEnd   string
}

// Executor submits one identifier and waits for the report to render.
type Executor struct {
	cfg      ExecutorConfig
	detector *parser.Parser
}

// NewExecutor creates an Executor. detector classifies snapshots while polling.
func NewExecutor(cfg ExecutorConfig, detector *parser.Parser) *Executor {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = defaultPollInitial
	}
	if cfg.PollCap < cfg.PollInitial {
		cfg.PollCap = max(defaultPollCap, cfg.PollInitial)
	}
	return &Executor{cfg: cfg, detector: detector}
}

// Execute submits identifier on s and polls the result frame until it shows
// results, an explicit no-results message, or the query timeout elapses.
// A timeout yields resilience.ErrRenderTimeout; a block page yields a
// TransientError. "No results" is a normal response, not an error. The
// session is left dirty and must be Reset before the next call.
func (e *Executor) Execute(ctx context.Context, s Session, identifier string) (resp model.RawResponse, err error) {
	ctx, span := telemetry.Tracer("portal").Start(ctx, "portal.execute",
		trace.WithAttributes(attribute.String("giro.identifier", identifier)))
	defer func() {
		span.SetAttributes(attribute.String("giro.response", string(resp.Kind)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, resilience.Reason(err))
		}
		span.End()
	}()

	resp = model.RawResponse{Identifier: identifier}
	start := time.Now()

	baseline, err := s.Snapshot(ctx)
	if err != nil && resilience.IsSession(err) {
		return resp, err
	}

	q := Query{
		Identifier:  identifier,
		PeriodStart: e.cfg.PeriodStart,
		PeriodEnd:   e.cfg.PeriodEnd,
	}
	if err := s.Submit(ctx, q); err != nil {
		if resilience.IsSession(err) {
			return resp, err
		}
		return resp, resilience.NewTransientError(err, "submit")
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	interval := e.cfg.PollInitial
	var last parser.RenderState
	for {
		markup, err := s.Snapshot(waitCtx)
		switch {
		case err == nil:
			state := parser.RenderPending
			if markup != baseline {
				state = e.detector.DetectRender(markup)
			}
			if state != last {
				zap.L().Debug("portal: render state",
					zap.String("identifier", identifier),
					zap.String("state", string(state)),
				)
				last = state
			}
			switch state {
			case parser.RenderResults:
				resp.Kind = model.ResponseResults
				resp.Markup = markup
				resp.Elapsed = time.Since(start)
				return resp, nil
			case parser.RenderNoResults:
				resp.Kind = model.ResponseNoResults
				resp.Markup = markup
				resp.Elapsed = time.Since(start)
				return resp, nil
			case parser.RenderBlocked:
				_, kind := parser.DetectBlock(markup)
				return resp, resilience.NewTransientError(
					eris.Errorf("portal: blocked page (%s) for %s", kind, identifier), "blocked")
			}
		case resilience.IsSession(err):
			return resp, err
		case ctx.Err() != nil:
			return resp, eris.Wrap(ctx.Err(), "portal: execute cancelled")
		}

		select {
		case <-ctx.Done():
			return resp, eris.Wrap(ctx.Err(), "portal: execute cancelled")
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return resp, eris.Wrap(ctx.Err(), "portal: execute cancelled")
			}
			return resp, eris.Wrapf(resilience.ErrRenderTimeout, "portal: %s after %s", identifier, e.cfg.QueryTimeout)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > e.cfg.PollCap {
			interval = e.cfg.PollCap
		}
	}
}

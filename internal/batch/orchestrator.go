// Package batch runs the per-identifier query loop over one browser session
// and collects outcomes into a BatchRun.
package batch

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/parser"
	"github.com/sells-group/giro-cli/internal/portal"
	"github.com/sells-group/giro-cli/internal/resilience"
	"github.com/sells-group/giro-cli/internal/telemetry"
)

// Config controls pacing and session recovery.
type Config struct {
	// InterQueryDelay is the minimum spacing between consecutive queries.
	InterQueryDelay time.Duration
	// SessionRecreations bounds how many times a dead session is replaced
	// while working on the same identifier. Default: 1.
	SessionRecreations int
}

// Orchestrator drives one session through an identifier list. It is not
// safe for concurrent use; use RunSharded for parallel pipelines.
type Orchestrator struct {
	cfg        Config
	newSession portal.Factory
	executor   *portal.Executor
	parser     *parser.Parser
	policy     *resilience.Policy
	limiter    *rate.Limiter

	tracker *Tracker
	shard   int

	session   portal.Session
	cancelled atomic.Bool
}

// New creates an Orchestrator. tracker may be nil, in which case a private
// tracker is created per Run.
func New(cfg Config, factory portal.Factory, executor *portal.Executor, p *parser.Parser, policy *resilience.Policy, tracker *Tracker) *Orchestrator {
	if cfg.SessionRecreations < 0 {
		cfg.SessionRecreations = 0
	}
	limit := rate.Inf
	if cfg.InterQueryDelay > 0 {
		limit = rate.Every(cfg.InterQueryDelay)
	}
	return &Orchestrator{
		cfg:        cfg,
		newSession: factory,
		executor:   executor,
		parser:     p,
		policy:     policy,
		limiter:    rate.NewLimiter(limit, 1),
		tracker:    tracker,
	}
}

// Cancel asks the orchestrator to stop before the next identifier. The
// in-flight identifier completes normally.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (o *Orchestrator) Cancelled() bool {
	return o.cancelled.Load()
}

// Run queries every identifier in order and returns the finalized run. It
// only returns an error for invalid input; per-identifier failures are
// recorded as outcomes and the session is always released.
func (o *Orchestrator) Run(ctx context.Context, identifiers []string) (*model.BatchRun, error) {
	ids := Unique(identifiers)
	if len(ids) == 0 {
		return nil, eris.New("batch: no identifiers")
	}

	run := model.NewBatchRun(ids)
	tracker := o.tracker
	if tracker == nil {
		tracker = NewTracker(len(ids), LogObserver())
	}
	defer o.closeSession()

	for _, id := range ids {
		if o.Cancelled() || ctx.Err() != nil {
			run.Finish(true)
			o.logStop(run)
			return run, nil
		}

		if err := o.limiter.Wait(ctx); err != nil {
			run.Finish(true)
			o.logStop(run)
			return run, nil
		}

		start := time.Now()
		qctx, span := telemetry.Tracer("batch").Start(ctx, "batch.query", trace.WithAttributes(
			attribute.String("giro.identifier", id),
			attribute.Int("giro.shard", o.shard),
		))
		outcome := o.query(qctx, id)
		span.SetAttributes(
			attribute.String("giro.status", string(outcome.Status)),
			attribute.Int("giro.records", len(outcome.Records)),
			attribute.Int("giro.attempts", len(outcome.Attempts)),
			attribute.Int("giro.recreations", outcome.Recreations),
		)
		if outcome.Failed() {
			span.SetStatus(codes.Error, outcome.Reason)
		}
		span.End()

		run.Record(outcome)
		tracker.Add(run.ID, o.shard, outcome, time.Since(start))
	}

	run.Finish(ctx.Err() != nil)
	return run, nil
}

// query produces the final outcome for one identifier, replacing the
// session up to SessionRecreations times when it dies.
func (o *Orchestrator) query(ctx context.Context, id string) model.QueryOutcome {
	var history []model.Attempt
	recreations := 0

	for {
		var (
			outcome model.QueryOutcome
			err     error
		)
		if err = o.ensureSession(ctx); err == nil {
			outcome, err = o.policy.Run(ctx, id, o.attempt(id))
			history = append(history, outcome.Attempts...)
			if err == nil {
				outcome.Attempts = history
				outcome.Recreations = recreations
				return outcome
			}
		}

		if ctx.Err() != nil {
			return withRecreations(model.NewFailure(id, "cancelled", history), recreations)
		}

		zap.L().Warn("batch: session failed",
			zap.String("identifier", id),
			zap.Int("recreations", recreations),
			zap.Error(err),
		)
		o.closeSession()

		if recreations >= o.cfg.SessionRecreations {
			return withRecreations(model.NewFailure(id, resilience.Reason(err), history), recreations)
		}
		recreations++
	}
}

// attempt composes reset, execute and parse for one try.
func (o *Orchestrator) attempt(id string) resilience.AttemptFunc {
	return func(ctx context.Context, _ int) ([]model.PaymentRecord, error) {
		if err := o.session.Reset(ctx); err != nil {
			if resilience.IsSession(err) {
				return nil, err
			}
			return nil, resilience.NewTransientError(err, "reset")
		}
		resp, err := o.executor.Execute(ctx, o.session, id)
		if err != nil {
			return nil, err
		}
		return o.parser.Parse(resp)
	}
}

func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.session != nil {
		return nil
	}
	s := o.newSession()
	if err := s.Open(ctx); err != nil {
		_ = s.Close()
		return resilience.NewSessionError(err)
	}
	o.session = s
	return nil
}

func (o *Orchestrator) closeSession() {
	if o.session == nil {
		return
	}
	if err := o.session.Close(); err != nil {
		zap.L().Debug("batch: close session", zap.Error(err))
	}
	o.session = nil
}

func (o *Orchestrator) logStop(run *model.BatchRun) {
	zap.L().Warn("batch: stopped before completion",
		zap.String("run_id", run.ID),
		zap.Int("processed", run.Processed()),
		zap.Int("total", len(run.Identifiers)),
	)
}

func withRecreations(o model.QueryOutcome, n int) model.QueryOutcome {
	o.Recreations = n
	return o
}

// Unique returns ids without blanks or repeats, keeping first-seen order.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		key := parser.NormalizeIdentifier(id)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}

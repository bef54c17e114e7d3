package batch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/giro-cli/internal/model"
)

// Builder creates a fresh orchestrator for one shard. Each shard owns its
// session; nothing but the tracker is shared between shards.
type Builder func() *Orchestrator

// Pool runs an identifier list as n independent pipelines over disjoint,
// contiguous shards.
type Pool struct {
	build     Builder
	shards    int
	observers []Observer

	mu        sync.Mutex
	running   []*Orchestrator
	cancelled atomic.Bool
}

// NewPool creates a Pool. shards below 1 is treated as 1.
func NewPool(shards int, build Builder, observers ...Observer) *Pool {
	if shards < 1 {
		shards = 1
	}
	return &Pool{build: build, shards: shards, observers: observers}
}

// Cancel stops every shard before its next identifier.
func (p *Pool) Cancel() {
	p.cancelled.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.running {
		o.Cancel()
	}
}

// Run splits identifiers into shards, runs each on its own orchestrator and
// merges the shard runs back into input order.
func (p *Pool) Run(ctx context.Context, identifiers []string) (*model.BatchRun, error) {
	ids := Unique(identifiers)
	if len(ids) == 0 {
		return nil, eris.New("batch: no identifiers")
	}

	parts := Split(ids, p.shards)
	tracker := NewTracker(len(ids), p.observers...)
	runs := make([]*model.BatchRun, len(parts))

	p.mu.Lock()
	p.running = make([]*Orchestrator, len(parts))
	for i := range parts {
		o := p.build()
		o.tracker = tracker
		o.shard = i
		if p.cancelled.Load() {
			o.Cancel()
		}
		p.running[i] = o
	}
	orchestrators := p.running
	p.mu.Unlock()

	zap.L().Info("batch: starting",
		zap.Int("identifiers", len(ids)),
		zap.Int("shards", len(parts)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			run, err := orchestrators[i].Run(gctx, part)
			if err != nil {
				return eris.Wrapf(err, "batch: shard %d", i)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := model.MergeRuns(ids, runs...)
	merged.Cancelled = merged.Cancelled || p.cancelled.Load() || ctx.Err() != nil
	zap.L().Info("batch: finished",
		zap.String("run_id", merged.ID),
		zap.Int("processed", merged.Processed()),
		zap.Int("succeeded", merged.Succeeded),
		zap.Int("empty", merged.Empty),
		zap.Int("failed", merged.Failed),
		zap.Bool("cancelled", merged.Cancelled),
	)
	return merged, nil
}

// RunSharded is a one-shot Pool.Run.
func RunSharded(ctx context.Context, identifiers []string, shards int, build Builder, observers ...Observer) (*model.BatchRun, error) {
	return NewPool(shards, build, observers...).Run(ctx, identifiers)
}

// Split cuts ids into at most n contiguous, non-empty parts of near-equal size.
func Split(ids []string, n int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > len(ids) {
		n = len(ids)
	}
	parts := make([][]string, 0, n)
	size, extra := len(ids)/n, len(ids)%n
	start := 0
	for i := range n {
		end := start + size
		if i < extra {
			end++
		}
		parts = append(parts, ids[start:end])
		start = end
	}
	return parts
}

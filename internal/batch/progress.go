package batch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/model"
)

// Progress is emitted after every identifier.
type Progress struct {
	RunID      string              `json:"run_id"`
	Shard      int                 `json:"shard"`
	Identifier string              `json:"identifier"`
	Status     model.OutcomeStatus `json:"status"`
	Records    int                 `json:"records"`
	Attempts   int                 `json:"attempts"`
	Duration   time.Duration       `json:"duration"`

	Processed int `json:"processed"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Empty     int `json:"empty"`
	Failed    int `json:"failed"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use when the batch runs sharded.
type Observer interface {
	OnProgress(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress)

// OnProgress calls f(p).
func (f ObserverFunc) OnProgress(p Progress) { f(p) }

// Tracker holds the run-wide tally shared by all shards.
type Tracker struct {
	mu        sync.Mutex
	total     int
	processed int
	succeeded int
	empty     int
	failed    int
	observers []Observer
}

// NewTracker creates a tracker expecting total identifiers.
func NewTracker(total int, observers ...Observer) *Tracker {
	return &Tracker{total: total, observers: observers}
}

// Add folds one outcome into the tally and notifies observers.
func (t *Tracker) Add(runID string, shard int, o model.QueryOutcome, elapsed time.Duration) Progress {
	t.mu.Lock()
	t.processed++
	switch o.Status {
	case model.OutcomeSuccess:
		t.succeeded++
	case model.OutcomeEmpty:
		t.empty++
	default:
		t.failed++
	}
	p := Progress{
		RunID:      runID,
		Shard:      shard,
		Identifier: o.Identifier,
		Status:     o.Status,
		Records:    len(o.Records),
		Attempts:   len(o.Attempts),
		Duration:   elapsed,
		Processed:  t.processed,
		Total:      t.total,
		Succeeded:  t.succeeded,
		Empty:      t.empty,
		Failed:     t.failed,
	}
	observers := t.observers
	t.mu.Unlock()

	for _, obs := range observers {
		obs.OnProgress(p)
	}
	return p
}

// LogObserver logs one structured line per identifier.
func LogObserver() Observer {
	return ObserverFunc(func(p Progress) {
		log := zap.L().With(
			zap.String("run_id", p.RunID),
			zap.String("identifier", p.Identifier),
		)
		fields := []zap.Field{
			zap.Int("processed", p.Processed),
			zap.Int("total", p.Total),
			zap.String("status", string(p.Status)),
			zap.Int("records", p.Records),
			zap.Int("attempts", p.Attempts),
			zap.Int64("duration_ms", p.Duration.Milliseconds()),
			zap.Int("succeeded", p.Succeeded),
			zap.Int("empty", p.Empty),
			zap.Int("failed", p.Failed),
		}
		if p.Status == model.OutcomePermanentFailure {
			log.Warn("batch: identifier failed", fields...)
			return
		}
		log.Info("batch: identifier done", fields...)
	})
}

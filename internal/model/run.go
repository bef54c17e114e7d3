package model

import (
	"time"

	"github.com/google/uuid"
)

// BatchRun is the aggregate state of one extraction over an identifier list.
type BatchRun struct {
	ID          string         `json:"id"`
	Identifiers []string       `json:"identifiers"`
	Outcomes    []QueryOutcome `json:"outcomes"`

	Succeeded int  `json:"succeeded"`
	Empty     int  `json:"empty"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// NewBatchRun starts a run over the given identifiers.
func NewBatchRun(identifiers []string) *BatchRun {
	ids := make([]string, len(identifiers))
	copy(ids, identifiers)
	return &BatchRun{
		ID:          uuid.NewString(),
		Identifiers: ids,
		Outcomes:    make([]QueryOutcome, 0, len(ids)),
		StartedAt:   time.Now().UTC(),
	}
}

// Record appends the final outcome for one identifier and updates counters.
func (r *BatchRun) Record(o QueryOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeEmpty:
		r.Empty++
	default:
		r.Failed++
	}
}

// Processed returns the number of identifiers with a recorded outcome.
func (r *BatchRun) Processed() int {
	return len(r.Outcomes)
}

// Finish marks the run complete.
func (r *BatchRun) Finish(cancelled bool) {
	r.Cancelled = r.Cancelled || cancelled
	r.FinishedAt = time.Now().UTC()
}

// Records returns the records of every successful outcome in outcome order.
func (r *BatchRun) Records() []PaymentRecord {
	var out []PaymentRecord
	for _, o := range r.Outcomes {
		if o.Status != OutcomeSuccess {
			continue
		}
		out = append(out, o.Records...)
	}
	return out
}

// MergeRuns combines shard runs into one run ordered by the given identifier
// list. Identifiers with no outcome in any shard are left out.
func MergeRuns(identifiers []string, runs ...*BatchRun) *BatchRun {
	merged := NewBatchRun(identifiers)
	byID := make(map[string]QueryOutcome)
	for _, r := range runs {
		if r == nil {
			continue
		}
		if r.StartedAt.Before(merged.StartedAt) {
			merged.StartedAt = r.StartedAt
		}
		merged.Cancelled = merged.Cancelled || r.Cancelled
		for _, o := range r.Outcomes {
			if _, ok := byID[o.Identifier]; !ok {
				byID[o.Identifier] = o
			}
		}
	}
	for _, id := range identifiers {
		if o, ok := byID[id]; ok {
			merged.Record(o)
			delete(byID, id)
		}
	}
	merged.FinishedAt = time.Now().UTC()
	return merged
}

// Package consolidate merges per-identifier results into one deduplicated,
// ordered table and writes it out.
package consolidate

import (
	"cmp"
	"slices"
	"time"

	"github.com/sells-group/giro-cli/internal/model"
)

// Columns is the header of the consolidated table.
var Columns = []string{
	"identifier",
	"entity_name",
	"disbursement_date",
	"amount",
	"concept",
	"source_entity",
}

// Table is the consolidated output of one run.
type Table struct {
	RunID       string
	GeneratedAt time.Time
	Records     []model.PaymentRecord
	Outcomes    []model.QueryOutcome
	Cancelled   bool
}

// Consolidate builds the table for run. Only records of success outcomes are
// included; they are deduplicated and sorted by identifier, date, amount and
// concept. run is not modified.
func Consolidate(run *model.BatchRun) *Table {
	t := &Table{GeneratedAt: time.Now()}
	if run == nil {
		return t
	}
	t.RunID = run.ID
	t.Cancelled = run.Cancelled
	t.Outcomes = append([]model.QueryOutcome(nil), run.Outcomes...)

	records := Dedupe(run.Records())
	Sort(records)
	t.Records = records
	return t
}

// Dedupe drops records whose key was already seen, keeping the first
// occurrence. The input slice is not modified.
func Dedupe(records []model.PaymentRecord) []model.PaymentRecord {
	seen := make(map[model.RecordKey]struct{}, len(records))
	out := make([]model.PaymentRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Sort orders records by identifier, then date, amount and concept.
func Sort(records []model.PaymentRecord) {
	slices.SortStableFunc(records, func(a, b model.PaymentRecord) int {
		if c := cmp.Compare(a.Identifier, b.Identifier); c != 0 {
			return c
		}
		if c := a.DisbursementDate.Compare(b.DisbursementDate); c != 0 {
			return c
		}
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Concept, b.Concept)
	})
}

// Failed returns the identifiers that ended in permanent failure, in run order.
func (t *Table) Failed() []string {
	var out []string
	for _, o := range t.Outcomes {
		if o.Failed() {
			out = append(out, o.Identifier)
		}
	}
	return out
}

// Identifiers returns the distinct identifiers present in the records.
func (t *Table) Identifiers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.Records {
		if _, ok := seen[r.Identifier]; ok {
			continue
		}
		seen[r.Identifier] = struct{}{}
		out = append(out, r.Identifier)
	}
	return out
}

// Row returns r as table cells in Columns order.
func Row(r model.PaymentRecord) []string {
	return []string{
		r.Identifier,
		r.EntityName,
		r.DateString(),
		r.AmountString(),
		r.Concept,
		r.SourceEntity,
	}
}

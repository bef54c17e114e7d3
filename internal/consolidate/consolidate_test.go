package consolidate

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/giro-cli/internal/model"
)

func rec(id, date, amount, concept string) model.PaymentRecord {
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return model.PaymentRecord{
		Identifier:       id,
		EntityName:       "ENTIDAD " + id,
		DisbursementDate: d,
		Amount:           decimal.RequireFromString(amount),
		Concept:          concept,
		SourceEntity:     "ADRES",
	}
}

func testRun() *model.BatchRun {
	run := model.NewBatchRun([]string{"900123456", "800111222", "900999999", "700000001"})
	run.Record(model.QueryOutcome{
		Identifier: "900123456",
		Status:     model.OutcomeSuccess,
		Records: []model.PaymentRecord{
			rec("900123456", "2026-02-12", "50000", "PRESUPUESTOS MAXIMOS"),
			rec("900123456", "2026-01-05", "1234567.00", "GIRO DIRECTO"),
			rec("900123456", "2026-01-05", "1234567", "GIRO DIRECTO"),
		},
		Attempts: []model.Attempt{{Number: 1, Status: model.OutcomeSuccess}},
	})
	run.Record(model.QueryOutcome{
		Identifier: "800111222",
		Status:     model.OutcomeSuccess,
		Records:    []model.PaymentRecord{rec("800111222", "2025-03-01", "10.50", "")},
		Attempts:   []model.Attempt{{Number: 1, Status: model.OutcomeSuccess}},
	})
	run.Record(model.NewFailure("900999999", "timeout", []model.Attempt{
		{Number: 1, Status: model.OutcomeTransientFailure, Reason: "timeout"},
		{Number: 2, Status: model.OutcomeTransientFailure, Reason: "timeout"},
		{Number: 3, Status: model.OutcomeTransientFailure, Reason: "timeout"},
	}))
	run.Record(model.QueryOutcome{Identifier: "700000001", Status: model.OutcomeEmpty})
	run.Finish(false)
	return run
}

func TestConsolidate(t *testing.T) {
	run := testRun()
	table := Consolidate(run)

	assert.Equal(t, run.ID, table.RunID)
	require.Len(t, table.Records, 3)
	assert.Equal(t, "800111222", table.Records[0].Identifier)
	assert.Equal(t, "2026-01-05", table.Records[1].DateString())
	assert.Equal(t, "2026-02-12", table.Records[2].DateString())

	assert.Equal(t, []string{"900999999"}, table.Failed())
	assert.Len(t, table.Outcomes, 4)
}

func TestConsolidate_IgnoresNonSuccessRecords(t *testing.T) {
	run := model.NewBatchRun([]string{"A", "B"})
	run.Record(model.QueryOutcome{
		Identifier: "A",
		Status:     model.OutcomePermanentFailure,
		Records:    []model.PaymentRecord{rec("A", "2026-01-01", "1", "")},
	})
	run.Record(model.QueryOutcome{Identifier: "B", Status: model.OutcomeEmpty})

	table := Consolidate(run)
	assert.Empty(t, table.Records)
}

func TestConsolidate_DistinctIdentifiersBound(t *testing.T) {
	run := testRun()
	table := Consolidate(run)
	assert.LessOrEqual(t, len(table.Identifiers()), run.Succeeded)

	keys := make(map[model.RecordKey]struct{})
	for _, r := range table.Records {
		_, dup := keys[r.Key()]
		assert.False(t, dup, "duplicate key %v", r.Key())
		keys[r.Key()] = struct{}{}
	}
}

func TestConsolidate_Idempotent(t *testing.T) {
	run := testRun()
	before := len(run.Outcomes[0].Records)

	first := Consolidate(run)
	second := Consolidate(run)
	require.Len(t, first.Records, 3)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Records, Dedupe(first.Records), "consolidated table has nothing left to dedupe")
	assert.Len(t, run.Outcomes[0].Records, before, "run untouched")
}

func TestConsolidate_Nil(t *testing.T) {
	table := Consolidate(nil)
	assert.Empty(t, table.Records)
	assert.Empty(t, table.Failed())
}

func TestDedupe(t *testing.T) {
	in := []model.PaymentRecord{
		rec("A", "2026-01-01", "100", "X"),
		rec("A", "2026-01-01", "100.00", "X"),
		rec("A", "2026-01-01", "100", "Y"),
		rec("B", "2026-01-01", "100", "X"),
		rec("A", "2026-01-02", "100", "X"),
	}
	once := Dedupe(in)
	assert.Len(t, once, 4)
	assert.Equal(t, once, Dedupe(once), "idempotent")
	assert.Len(t, in, 5, "input untouched")
}

func TestSort_Deterministic(t *testing.T) {
	a := []model.PaymentRecord{
		rec("B", "2026-01-01", "1", ""),
		rec("A", "2026-01-02", "5", "Y"),
		rec("A", "2026-01-02", "5", "X"),
		rec("A", "2026-01-02", "2", "Z"),
		rec("A", "2026-01-01", "9", ""),
	}
	Sort(a)
	got := make([]string, len(a))
	for i, r := range a {
		got[i] = r.Identifier + "|" + r.DateString() + "|" + r.AmountString() + "|" + r.Concept
	}
	assert.Equal(t, []string{
		"A|2026-01-01|9.00|",
		"A|2026-01-02|2.00|Z",
		"A|2026-01-02|5.00|X",
		"A|2026-01-02|5.00|Y",
		"B|2026-01-01|1.00|",
	}, got)
}

func TestWriteCSV_BOM(t *testing.T) {
	table := Consolidate(testRun())

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table, CSVOptions{BOM: true}))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}), "missing BOM")

	rows, err := csv.NewReader(bytes.NewReader(out[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{"800111222", "ENTIDAD 800111222", "2025-03-01", "10.50", "", "ADRES"}, rows[1])
	assert.Equal(t, "1234567.00", rows[2][3])
}

func TestWriteCSV_Delimiter(t *testing.T) {
	table := Consolidate(testRun())

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table, CSVOptions{Delimiter: ';'}))

	first := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, strings.Join(Columns, ";"), first)
	assert.False(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))
}

func TestWriteOutcomes(t *testing.T) {
	table := Consolidate(testRun())

	var buf bytes.Buffer
	require.NoError(t, WriteOutcomes(&buf, table, CSVOptions{}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"identifier", "status", "records", "attempts", "recreations", "reason"}, rows[0])
	assert.Equal(t, []string{"900123456", "success", "3", "1", "0", ""}, rows[1])
	assert.Equal(t, []string{"900999999", "permanent_failure", "0", "3", "0", "timeout"}, rows[3])
	assert.Equal(t, "empty", rows[4][1])
}

func TestWriteFailed(t *testing.T) {
	table := Consolidate(testRun())

	var buf bytes.Buffer
	require.NoError(t, WriteFailed(&buf, table))
	assert.Equal(t, "900999999\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	table := Consolidate(testRun())

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, table))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	pagos, ok := f.Sheet[SheetRecords]
	require.True(t, ok)
	require.Len(t, pagos.Rows, 4)
	assert.Equal(t, "identifier", pagos.Rows[0].Cells[0].String())
	assert.Equal(t, "800111222", pagos.Rows[1].Cells[0].String())
	amount, err := pagos.Rows[1].Cells[amountColumn].Float()
	require.NoError(t, err)
	assert.InDelta(t, 10.5, amount, 0.001)

	results, ok := f.Sheet[SheetOutcomes]
	require.True(t, ok)
	require.Len(t, results.Rows, 5)
	assert.Equal(t, "permanent_failure", results.Rows[3].Cells[1].String())
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 1, 31, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "ConsolidadoADRES_20260131.csv", FileName("ConsolidadoADRES", at, "csv"))
	assert.Equal(t, "x_20260131.xlsx", FileName("x", at, ".xlsx"))
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	table := Consolidate(testRun())

	files, err := Save(table, SaveOptions{Dir: dir, CSV: CSVOptions{BOM: true}})
	require.NoError(t, err)

	stamp := table.GeneratedAt.Format("20060102")
	assert.Equal(t, filepath.Join(dir, "ConsolidadoADRES_"+stamp+".csv"), files.Table)
	assert.Equal(t, filepath.Join(dir, "ConsolidadoADRES_resultados_"+stamp+".csv"), files.Outcomes)
	assert.Equal(t, filepath.Join(dir, "ConsolidadoADRES_fallidos_"+stamp+".txt"), files.Failed)

	for _, p := range []string{files.Table, files.Outcomes, files.Failed} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestSave_NoFailuresSkipsList(t *testing.T) {
	run := model.NewBatchRun([]string{"A"})
	run.Record(model.QueryOutcome{Identifier: "A", Status: model.OutcomeEmpty})

	files, err := Save(Consolidate(run), SaveOptions{Dir: t.TempDir(), Format: "xlsx"})
	require.NoError(t, err)
	assert.Empty(t, files.Failed)
	assert.True(t, strings.HasSuffix(files.Table, ".xlsx"))
}

func TestSave_UnsupportedFormat(t *testing.T) {
	_, err := Save(Consolidate(testRun()), SaveOptions{Dir: t.TempDir(), Format: "json"})
	assert.Error(t, err)
}

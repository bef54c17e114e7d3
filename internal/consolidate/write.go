package consolidate

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sells-group/giro-cli/internal/model"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	// SheetRecords and SheetOutcomes name the XLSX sheets.
	SheetRecords  = "Pagos"
	SheetOutcomes = "Resultados"
)

// amountColumn is the index of "amount" in Columns.
const amountColumn = 3

var outcomeColumns = []string{"identifier", "status", "records", "attempts", "recreations", "reason"}

// CSVOptions configures delimited output.
type CSVOptions struct {
	Delimiter rune // default ','
	BOM       bool // prefix output with a UTF-8 byte order mark
}

// FileName returns "<prefix>_<YYYYMMDD>.<ext>".
func FileName(prefix string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, at.Format("20060102"), strings.TrimPrefix(ext, "."))
}

// WriteCSV writes the record table with a header row.
func WriteCSV(w io.Writer, t *Table, opts CSVOptions) error {
	return writeDelimited(w, opts, Columns, len(t.Records), func(i int) []string {
		return Row(t.Records[i])
	})
}

// WriteOutcomes writes one line per queried identifier with its final status.
func WriteOutcomes(w io.Writer, t *Table, opts CSVOptions) error {
	return writeDelimited(w, opts, outcomeColumns, len(t.Outcomes), func(i int) []string {
		return outcomeRow(t.Outcomes[i])
	})
}

// WriteFailed writes the permanently failed identifiers, one per line, in a
// form that can be fed back as input.
func WriteFailed(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	for _, id := range t.Failed() {
		if _, err := bw.WriteString(id + "\n"); err != nil {
			return eris.Wrap(err, "consolidate: write failed list")
		}
	}
	return eris.Wrap(bw.Flush(), "consolidate: flush failed list")
}

// WriteXLSX writes the records to sheet "Pagos" and the outcomes to sheet
// "Resultados".
func WriteXLSX(w io.Writer, t *Table) error {
	f := xlsx.NewFile()

	pagos, err := f.AddSheet(SheetRecords)
	if err != nil {
		return eris.Wrap(err, "consolidate: add records sheet")
	}
	addRow(pagos, Columns)
	for _, r := range t.Records {
		row := pagos.AddRow()
		for i, v := range Row(r) {
			cell := row.AddCell()
			if i == amountColumn {
				cell.SetFloatWithFormat(r.Amount.InexactFloat64(), "#,##0.00")
				continue
			}
			cell.SetString(v)
		}
	}

	results, err := f.AddSheet(SheetOutcomes)
	if err != nil {
		return eris.Wrap(err, "consolidate: add outcomes sheet")
	}
	addRow(results, outcomeColumns)
	for _, o := range t.Outcomes {
		addRow(results, outcomeRow(o))
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "consolidate: write xlsx")
	}
	return nil
}

// Files lists what Save wrote.
type Files struct {
	Table    string
	Outcomes string
	Failed   string
}

// SaveOptions configures Save.
type SaveOptions struct {
	Dir    string
	Prefix string
	Format string // csv or xlsx
	CSV    CSVOptions
}

// Save writes the table, the outcome report and, when any identifier failed,
// the failed list into opts.Dir, naming each by prefix and generation date.
func Save(t *Table, opts SaveOptions) (Files, error) {
	var files Files
	if opts.Prefix == "" {
		opts.Prefix = "ConsolidadoADRES"
	}
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return files, eris.Errorf("consolidate: unsupported format %q", opts.Format)
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return files, eris.Wrapf(err, "consolidate: create %s", opts.Dir)
		}
	}

	files.Table = filepath.Join(opts.Dir, FileName(opts.Prefix, t.GeneratedAt, format))
	err := writeFile(files.Table, func(w io.Writer) error {
		if format == FormatXLSX {
			return WriteXLSX(w, t)
		}
		return WriteCSV(w, t, opts.CSV)
	})
	if err != nil {
		return files, err
	}

	files.Outcomes = filepath.Join(opts.Dir, FileName(opts.Prefix+"_resultados", t.GeneratedAt, FormatCSV))
	if err := writeFile(files.Outcomes, func(w io.Writer) error {
		return WriteOutcomes(w, t, opts.CSV)
	}); err != nil {
		return files, err
	}

	if len(t.Failed()) > 0 {
		files.Failed = filepath.Join(opts.Dir, FileName(opts.Prefix+"_fallidos", t.GeneratedAt, "txt"))
		if err := writeFile(files.Failed, func(w io.Writer) error {
			return WriteFailed(w, t)
		}); err != nil {
			return files, err
		}
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "consolidate: create %s", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "consolidate: close %s", path)
}

func writeDelimited(w io.Writer, opts CSVOptions, header []string, n int, row func(int) []string) error {
	out := w
	var bom io.WriteCloser
	if opts.BOM {
		bom = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		out = bom
	}

	cw := csv.NewWriter(out)
	if opts.Delimiter != 0 {
		cw.Comma = opts.Delimiter
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "consolidate: write header")
	}
	for i := range n {
		if err := cw.Write(row(i)); err != nil {
			return eris.Wrap(err, "consolidate: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "consolidate: flush")
	}
	if bom != nil {
		if err := bom.Close(); err != nil {
			return eris.Wrap(err, "consolidate: flush bom writer")
		}
	}
	return nil
}

func outcomeRow(o model.QueryOutcome) []string {
	return []string{
		o.Identifier,
		string(o.Status),
		strconv.Itoa(len(o.Records)),
		strconv.Itoa(len(o.Attempts)),
		strconv.Itoa(o.Recreations),
		o.Reason,
	}
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

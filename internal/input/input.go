// Package input loads identifier lists from text, CSV, YAML or XLSX files.
package input

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// Load reads identifiers from path, choosing the reader by extension:
// .csv, .yaml/.yml, .xlsx, anything else as plain text. Blank entries are
// dropped; order and repeats are preserved.
func Load(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close()

	switch ext {
	case ".csv":
		return ReadCSV(f)
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return ReadText(f)
	}
}

// ReadText reads one identifier per line. Lines starting with '#' are
// comments.
func ReadText(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(stripBOM(r))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "input: read text")
	}
	return ids, nil
}

// ReadCSV reads the first column. A first row without any digit is taken as
// a header and skipped. ',' and ';' delimiters are both accepted.
func ReadCSV(r io.Reader) ([]string, error) {
	br := bufio.NewReader(stripBOM(r))
	comma := ','
	if peek, _ := br.Peek(4096); sniffSemicolon(peek) {
		comma = ';'
	}

	reader := csv.NewReader(br)
	reader.Comma = comma
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var col []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "input: read csv row")
		}
		if len(record) == 0 {
			continue
		}
		col = append(col, record[0])
	}
	return firstColumn(col), nil
}

// ReadYAML accepts either a top-level list or a mapping with an
// "identifiers" list. Numeric scalars are read as strings.
func ReadYAML(r io.Reader) ([]string, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "input: decode yaml")
	}
	node := &doc
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	var ids []string
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&ids); err != nil {
			return nil, eris.Wrap(err, "input: decode identifier list")
		}
	case yaml.MappingNode:
		var wrapped struct {
			Identifiers []string `yaml:"identifiers"`
		}
		if err := node.Decode(&wrapped); err != nil {
			return nil, eris.Wrap(err, "input: decode identifiers key")
		}
		ids = wrapped.Identifiers
	default:
		return nil, eris.New("input: yaml must be a list or contain an identifiers list")
	}
	return clean(ids), nil
}

// ReadXLSX reads the first column of the first sheet.
func ReadXLSX(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("input: %s has no sheets", path)
	}

	var col []string
	for _, row := range f.Sheets[0].Rows {
		if row == nil || len(row.Cells) == 0 {
			continue
		}
		col = append(col, row.Cells[0].String())
	}
	return firstColumn(col), nil
}

func firstColumn(col []string) []string {
	col = clean(col)
	if len(col) > 0 && !strings.ContainsAny(col[0], "0123456789") {
		col = col[1:]
	}
	return col
}

func clean(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func stripBOM(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// sniffSemicolon reports whether the first line uses ';' but not ','.
func sniffSemicolon(b []byte) bool {
	line := string(b)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.Contains(line, ";") && !strings.Contains(line, ",")
}

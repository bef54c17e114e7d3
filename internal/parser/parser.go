// Package parser turns rendered portal markup into payment records.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/resilience"
)

// RenderState is what a snapshot of the result frame currently shows.
type RenderState string

const (
	RenderPending   RenderState = "pending"
	RenderLoading   RenderState = "loading"
	RenderResults   RenderState = "results"
	RenderNoResults RenderState = "no_results"
	RenderBlocked   RenderState = "blocked"
)

// Terminal reports whether the executor can stop waiting.
func (s RenderState) Terminal() bool {
	return s == RenderResults || s == RenderNoResults || s == RenderBlocked
}

// Selectors describe where the portal renders its result table.
type Selectors struct {
	// ResultSelector scopes the rows considered part of the report.
	ResultSelector string
	// AnchorPrefix marks the cell carrying "<prefix><id>-<name>".
	AnchorPrefix string
	// MinCells is the minimum number of td cells for a data row.
	MinCells int
	// NoResultsText lists phrases the portal shows for an empty report.
	NoResultsText []string
	// LoadingText lists phrases shown while the report is rendering.
	LoadingText []string
}

// DefaultSelectors returns the selectors for the ADRES report viewer.
func DefaultSelectors() Selectors {
	return Selectors{
		ResultSelector: "table",
		AnchorPrefix:   "NIT-",
		MinCells:       6,
		NoResultsText: []string{
			"no se encontraron registros",
			"no se encontraron resultados",
			"no hay datos",
			"no existen registros",
		},
		LoadingText: []string{"cargando", "loading..."},
	}
}

// Parser extracts PaymentRecords from rendered markup. It is stateless and
// safe for concurrent use.
type Parser struct {
	sel Selectors
}

// New creates a Parser. Unset selector fields fall back to defaults.
func New(sel Selectors) *Parser {
	def := DefaultSelectors()
	if sel.ResultSelector == "" {
		sel.ResultSelector = def.ResultSelector
	}
	if sel.AnchorPrefix == "" {
		sel.AnchorPrefix = def.AnchorPrefix
	}
	if sel.MinCells <= 0 {
		sel.MinCells = def.MinCells
	}
	if sel.NoResultsText == nil {
		sel.NoResultsText = def.NoResultsText
	}
	if sel.LoadingText == nil {
		sel.LoadingText = def.LoadingText
	}
	return &Parser{sel: sel}
}

// Parse returns the records in resp for resp.Identifier. A no-results
// response yields zero records. A results response without any anchored row,
// or whose anchored rows yield no record for the identifier, fails with a
// ParseError, which callers treat as a rendering race.
func (p *Parser) Parse(resp model.RawResponse) ([]model.PaymentRecord, error) {
	if resp.Kind == model.ResponseNoResults {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Markup))
	if err != nil {
		return nil, resilience.NewParseError(eris.Wrap(err, "read markup"))
	}

	rows := p.anchoredRows(p.dataRows(doc))
	if len(rows) == 0 {
		return nil, resilience.NewParseError(eris.Errorf("no result rows for %s", resp.Identifier))
	}

	want := NormalizeIdentifier(resp.Identifier)
	seen := make(map[model.RecordKey]struct{})
	var records []model.PaymentRecord
	for _, cols := range rows {
		rec, ok := p.parseRow(cols)
		if !ok {
			continue
		}
		if want != "" && NormalizeIdentifier(rec.Identifier) != want {
			continue
		}
		rec.Identifier = resp.Identifier
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, resilience.NewParseError(eris.Errorf("%d result rows but none parsed for %s", len(rows), resp.Identifier))
	}
	return records, nil
}

// DetectRender classifies a snapshot of the result frame.
func (p *Parser) DetectRender(markup string) RenderState {
	if strings.TrimSpace(markup) == "" {
		return RenderPending
	}
	if blocked, _ := DetectBlock(markup); blocked {
		return RenderBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return RenderPending
	}
	text := strings.ToLower(CleanText(doc.Text()))

	for _, phrase := range p.sel.NoResultsText {
		if phrase != "" && strings.Contains(text, strings.ToLower(phrase)) {
			return RenderNoResults
		}
	}
	for _, phrase := range p.sel.LoadingText {
		if phrase != "" && strings.Contains(text, strings.ToLower(phrase)) {
			return RenderLoading
		}
	}
	if len(p.anchoredRows(p.dataRows(doc))) > 0 {
		return RenderResults
	}
	return RenderPending
}

// dataRows returns the non-empty cell texts of every row inside the result
// scope with at least MinCells direct td children. Nested tables are visited
// as their own rows.
func (p *Parser) dataRows(doc *goquery.Document) [][]string {
	var rows [][]string
	doc.Find(p.sel.ResultSelector).Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < p.sel.MinCells {
			return
		}
		var cols []string
		cells.Each(func(_ int, td *goquery.Selection) {
			if td.Find("table").Length() > 0 {
				return
			}
			if txt := CleanText(td.Text()); txt != "" {
				cols = append(cols, txt)
			}
		})
		if len(cols) > 0 {
			rows = append(rows, cols)
		}
	})
	return rows
}

// anchoredRows keeps the rows with a cell starting with the anchor prefix.
// Header and total rows have none.
func (p *Parser) anchoredRows(rows [][]string) [][]string {
	prefix := strings.ToUpper(p.sel.AnchorPrefix)
	var out [][]string
	for _, cols := range rows {
		for _, cell := range cols {
			if strings.HasPrefix(strings.ToUpper(cell), prefix) {
				out = append(out, cols)
				break
			}
		}
	}
	return out
}

// parseRow anchors on the "NIT-<id>-<name>" cell and reads the disbursement
// fields that follow it: date, amount, then optional concept and source.
func (p *Parser) parseRow(cols []string) (model.PaymentRecord, bool) {
	prefix := strings.ToUpper(p.sel.AnchorPrefix)
	for idx, cell := range cols {
		if !strings.HasPrefix(strings.ToUpper(cell), prefix) {
			continue
		}
		if idx+2 >= len(cols) {
			continue
		}
		amountText := cols[idx+2]
		if !strings.ContainsAny(amountText, "$0123456789") {
			continue
		}

		parts := strings.SplitN(cell[len(prefix):], "-", 2)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			continue
		}

		date, err := ParseDate(cols[idx+1])
		if err != nil {
			return model.PaymentRecord{}, false
		}
		amount, err := ParseAmount(amountText)
		if err != nil {
			return model.PaymentRecord{}, false
		}

		return model.PaymentRecord{
			Identifier:       strings.TrimSpace(parts[0]),
			EntityName:       strings.TrimSpace(parts[1]),
			DisbursementDate: date,
			Amount:           amount,
			Concept:          optional(cols, idx+3),
			SourceEntity:     optional(cols, idx+4),
		}, true
	}
	return model.PaymentRecord{}, false
}

func optional(cols []string, idx int) string {
	if idx < len(cols) {
		return cols[idx]
	}
	return ""
}

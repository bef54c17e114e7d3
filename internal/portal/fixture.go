package portal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/giro-cli/internal/resilience"
)

// formPage is what a FixtureSession shows before any query is submitted.
const formPage = `<html><body><form>` +
	`<input type="text"/><input type="text"/><input type="text"/>` +
	`<input type="submit" value="Ver informe"/></form></body></html>`

// NoResultsPage is shown for identifiers without a fixture file when no other
// page is configured.
const NoResultsPage = `<html><body><div>No se encontraron registros para los filtros seleccionados.</div></body></html>`

// FixtureSession replays saved result pages from a directory instead of
// driving a browser. A query for identifier X renders <dir>/X.html; a missing
// file renders the no-results page. Used for offline runs and tests.
type FixtureSession struct {
	dir       string
	noResults string

	mu      sync.Mutex
	open    bool
	closed  bool
	current string
	queries []Query
}

// NewFixtureSession creates a session over dir. noResults is the markup shown
// when an identifier has no fixture file; empty selects NoResultsPage.
func NewFixtureSession(dir, noResults string) *FixtureSession {
	if noResults == "" {
		noResults = NoResultsPage
	}
	return &FixtureSession{dir: dir, noResults: noResults}
}

// FixtureFactory returns a Factory producing FixtureSessions over dir.
func FixtureFactory(dir, noResults string) Factory {
	return func() Session { return NewFixtureSession(dir, noResults) }
}

func (f *FixtureSession) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := os.Stat(f.dir)
	if err != nil {
		return resilience.NewSessionError(eris.Wrap(err, "fixture: open dir"))
	}
	if !info.IsDir() {
		return resilience.NewSessionError(eris.Errorf("fixture: %s is not a directory", f.dir))
	}
	f.open = true
	f.current = formPage
	return nil
}

func (f *FixtureSession) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	f.current = formPage
	return nil
}

func (f *FixtureSession) Submit(_ context.Context, q Query) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return err
	}
	f.queries = append(f.queries, q)

	name := q.Identifier + ".html"
	if strings.ContainsAny(q.Identifier, `/\`) || !filepath.IsLocal(name) {
		return eris.Errorf("fixture: identifier %q is not a plain file name", q.Identifier)
	}
	b, err := os.ReadFile(filepath.Join(f.dir, name))
	switch {
	case err == nil:
		f.current = string(b)
	case os.IsNotExist(err):
		f.current = f.noResults
	default:
		return eris.Wrapf(err, "fixture: read %s", q.Identifier)
	}
	return nil
}

func (f *FixtureSession) Snapshot(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ready(); err != nil {
		return "", err
	}
	return f.current, nil
}

func (f *FixtureSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.open = false
	return nil
}

// Queries returns the queries submitted so far.
func (f *FixtureSession) Queries() []Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Query, len(f.queries))
	copy(out, f.queries)
	return out
}

func (f *FixtureSession) ready() error {
	if f.closed || !f.open {
		return resilience.NewSessionError(eris.New("fixture: session not open"))
	}
	return nil
}

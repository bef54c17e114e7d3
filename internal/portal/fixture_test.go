package portal_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/portal"
	"github.com/sells-group/giro-cli/internal/resilience"
)

func TestFixtureSession_ServesFiles(t *testing.T) {
	ctx := context.Background()
	s := portal.NewFixtureSession("testdata", noResultsMarkup)
	require.NoError(t, s.Open(ctx))
	t.Cleanup(func() { _ = s.Close() })

	exec := newExecutor(time.Second)

	resp, err := exec.Execute(ctx, s, "900123456")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseResults, resp.Kind)

	require.NoError(t, s.Reset(ctx))
	resp, err = exec.Execute(ctx, s, "800000000")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseNoResults, resp.Kind)

	queries := s.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, "01/01/2025", queries[0].PeriodStart)
	assert.Equal(t, "31/01/2026", queries[0].PeriodEnd)
}

func TestFixtureSession_OpenMissingDir(t *testing.T) {
	s := portal.NewFixtureSession("testdata/does-not-exist", "")
	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsSession(err))
	assert.NoError(t, s.Close(), "close after failed open")
}

func TestFixtureSession_ClosedIsSessionError(t *testing.T) {
	s := portal.NewFixtureSession("testdata", "")
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.Snapshot(context.Background())
	assert.True(t, resilience.IsSession(err))
}

func TestFixtureSession_RejectsPathIdentifiers(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pages")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.html"), []byte("<table>secret</table>"), 0o644))

	ctx := context.Background()
	s := portal.NewFixtureSession(dir, "")
	require.NoError(t, s.Open(ctx))
	t.Cleanup(func() { _ = s.Close() })

	for _, id := range []string{"../secret", `..\secret`, "sub/900123456", "/etc/passwd"} {
		t.Run(id, func(t *testing.T) {
			err := s.Submit(ctx, portal.Query{Identifier: id})
			require.Error(t, err)
			assert.False(t, resilience.IsSession(err))

			page, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.NotContains(t, page, "secret")
		})
	}
}

package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/giro-cli/internal/batch"
	"github.com/sells-group/giro-cli/internal/config"
	"github.com/sells-group/giro-cli/internal/model"
)

// setupCommandEnv runs the command from an empty directory with fast run
// settings and returns that directory.
func setupCommandEnv(t *testing.T) string {
	t.Helper()
	pages, err := filepath.Abs(filepath.Join("testdata", "pages"))
	require.NoError(t, err)

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GIRO_RUN_INTER_QUERY_DELAY_MS", "1")
	t.Setenv("GIRO_RUN_QUERY_TIMEOUT_SECS", "2")
	t.Setenv("GIRO_RUN_POLL_INTERVAL_MS", "5")
	t.Setenv("GIRO_RUN_BACKOFF_BASE_MS", "1")
	t.Setenv("GIRO_LOG_LEVEL", "error")

	require.NoError(t, os.Symlink(pages, filepath.Join(dir, "pages")))
	return dir
}

func TestExtractCommand_Fixtures(t *testing.T) {
	dir := setupCommandEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nits.txt"), []byte("900123456\n# pending\n900999999\n900123456\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"extract", "--input", "nits.txt", "--fixtures", "pages", "--output-dir", "out"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "2 NITs")
	assert.Contains(t, out.String(), "1 with payments, 1 empty, 0 failed, 2 records")

	stamp := time.Now().Format("20060102")
	b, err := os.ReadFile(filepath.Join(dir, "out", "ConsolidadoADRES_"+stamp+".csv"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}))

	rows, err := csv.NewReader(bytes.NewReader(b[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"900123456", "CLINICA SAN RAFAEL S.A.S.", "2026-01-05", "1234567.00", "GIRO DIRECTO", "NUEVA EPS"}, rows[1])
	assert.Equal(t, []string{"900123456", "CLINICA SAN RAFAEL S.A.S.", "2026-02-12", "50000.00", "PRESUPUESTOS MAXIMOS", "ADRES"}, rows[2])

	_, err = os.Stat(filepath.Join(dir, "out", "ConsolidadoADRES_resultados_"+stamp+".csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "out", "ConsolidadoADRES_fallidos_"+stamp+".txt"))
	assert.True(t, os.IsNotExist(err), "no failed list without failures")
}

func TestParseCommand(t *testing.T) {
	page, err := filepath.Abs(filepath.Join("testdata", "pages", "900123456.html"))
	require.NoError(t, err)
	setupCommandEnv(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"parse", page, "--nit", "900123456"})

	require.NoError(t, rootCmd.Execute())

	var got struct {
		State   string                `json:"state"`
		Records []model.PaymentRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "results", got.State)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "1234567", got.Records[0].Amount.String())
}

func TestCollectIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nits.csv")
	require.NoError(t, os.WriteFile(path, []byte("nit\n900123456\n800111222\n"), 0644))

	ids, err := collectIdentifiers(path, []string{"800111222", "700000001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"900123456", "800111222", "700000001"}, ids)

	_, err = collectIdentifiers("", nil)
	assert.Error(t, err)

	_, err = collectIdentifiers(filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.Error(t, err)
}

func TestNormalizePeriod(t *testing.T) {
	tests := []struct {
		start, end         string
		wantStart, wantEnd string
		wantErr            bool
	}{
		{"01/01/2025", "31/01/2026", "01/01/2025", "31/01/2026", false},
		{"01/01/2025", "01/01/2025", "01/01/2025", "01/01/2025", false},
		{"2025-01-01", "31-1-2026", "01/01/2025", "31/01/2026", false},
		{"1/6/2025", "2025/12/31", "01/06/2025", "31/12/2025", false},
		{"31/01/2026", "01/01/2025", "", "", true},
		{"2025", "31/01/2026", "", "", true},
		{"01/01/2025", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.start+"_"+tt.end, func(t *testing.T) {
			start, end, err := normalizePeriod(tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	setupCommandEnv(t)
	c, err := config.Load()
	require.NoError(t, err)
	return c
}

func TestInitExtract(t *testing.T) {
	c := testConfig(t)

	env, err := initExtract(c, "pages")
	require.NoError(t, err)
	assert.Equal(t, 3, env.Retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, env.Retry.BackoffBase)
	assert.NotNil(t, env.Retry.OnRetry)
	assert.Equal(t, 1, env.Batch.SessionRecreations)
	assert.Equal(t, time.Millisecond, env.Batch.InterQueryDelay)

	run, err := batch.RunSharded(t.Context(), []string{"900123456", "800111222"}, 2, env.Builder())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Empty)
	assert.Equal(t, []string{"900123456", "800111222"}, run.Identifiers)
}

func TestInitExtract_NormalizesPeriod(t *testing.T) {
	c := testConfig(t)
	c.Portal.PeriodStart = "2025-06-01"
	c.Portal.PeriodEnd = "31-12-2025"

	_, err := initExtract(c, "pages")
	require.NoError(t, err)
	assert.Equal(t, "01/06/2025", c.Portal.PeriodStart)
	assert.Equal(t, "31/12/2025", c.Portal.PeriodEnd)
}

func TestInitExtract_InvalidConfig(t *testing.T) {
	c := testConfig(t)

	c.Portal.PeriodStart = "31/12/2026"
	_, err := initExtract(c, "pages")
	assert.Error(t, err)

	c = testConfig(t)
	c.Run.MaxAttempts = 0
	_, err = initExtract(c, "pages")
	assert.Error(t, err)
}

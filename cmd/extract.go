package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/batch"
	"github.com/sells-group/giro-cli/internal/consolidate"
	"github.com/sells-group/giro-cli/internal/input"
	"github.com/sells-group/giro-cli/internal/metrics"
	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/telemetry"
)

var (
	extractInput       string
	extractNITs        []string
	extractFrom        string
	extractTo          string
	extractOutputDir   string
	extractFormat      string
	extractShards      int
	extractFixtures    string
	extractMetricsAddr string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Query the portal for every NIT and write the consolidated table",
	Long: `Reads beneficiary NITs, queries the Lupa al Giro report once per NIT and
writes the consolidated disbursements plus an outcome report.

Press Ctrl+C once to stop after the current NIT and keep partial results;
press it again to abort immediately.

Examples:
  # NITs from a file, default period
  giro-cli extract --input nits.txt

  # Two NITs, custom period, Excel output
  giro-cli extract --nit 900123456 --nit 800111222 --from 01/06/2025 --to 31/12/2025 --format xlsx

  # Offline run against saved pages
  giro-cli extract --input nits.csv --fixtures ./pages`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		applyExtractFlags(cmd)

		ids, err := collectIdentifiers(extractInput, extractNITs)
		if err != nil {
			return err
		}

		env, err := initExtract(cfg, extractFixtures)
		if err != nil {
			return err
		}

		printBanner(cmd.OutOrStdout(), len(ids))

		var observers []batch.Observer
		observers = append(observers, batch.LogObserver())

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			Endpoint: cfg.Tracing.Endpoint,
			Insecure: cfg.Tracing.Insecure,
			Version:  version,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				zap.L().Warn("extract: tracing shutdown", zap.Error(err))
			}
		}()

		if cfg.Metrics.Addr != "" {
			m := metrics.New()
			srv, err := metrics.Serve(ctx, cfg.Metrics.Addr, m)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Shutdown(context.Background()) }()
			observers = append(observers, m)
		}

		pool := batch.NewPool(cfg.Run.Shards, env.Builder(), observers...)
		runCtx, stop := watchInterrupts(ctx, pool)
		defer stop()

		run, err := pool.Run(runCtx, ids)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		return writeResults(cmd.OutOrStdout(), run)
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringVarP(&extractInput, "input", "i", "", "file with NITs (.txt, .csv, .yaml, .xlsx)")
	f.StringArrayVar(&extractNITs, "nit", nil, "NIT to query (repeatable)")
	f.StringVar(&extractFrom, "from", "", "period start DD/MM/YYYY (default from config)")
	f.StringVar(&extractTo, "to", "", "period end DD/MM/YYYY (default from config)")
	f.StringVarP(&extractOutputDir, "output-dir", "o", "", "output directory (default from config)")
	f.StringVar(&extractFormat, "format", "", "output format: csv or xlsx (default from config)")
	f.IntVar(&extractShards, "shards", 0, "parallel browser sessions (default from config)")
	f.StringVar(&extractFixtures, "fixtures", "", "replay <NIT>.html pages from this directory instead of launching Chrome")
	f.StringVar(&extractMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	rootCmd.AddCommand(extractCmd)
}

// applyExtractFlags overlays explicitly set flags on the loaded config.
func applyExtractFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("from") {
		cfg.Portal.PeriodStart = extractFrom
	}
	if f.Changed("to") {
		cfg.Portal.PeriodEnd = extractTo
	}
	if f.Changed("output-dir") {
		cfg.Output.Dir = extractOutputDir
	}
	if f.Changed("format") {
		cfg.Output.Format = extractFormat
	}
	if f.Changed("shards") {
		cfg.Run.Shards = extractShards
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = extractMetricsAddr
	}
}

// collectIdentifiers merges the input file and --nit values, de-duplicated in
// first-seen order.
func collectIdentifiers(path string, nits []string) ([]string, error) {
	var ids []string
	if path != "" {
		loaded, err := input.Load(path)
		if err != nil {
			return nil, err
		}
		ids = append(ids, loaded...)
	}
	ids = append(ids, nits...)

	unique := batch.Unique(ids)
	if len(unique) == 0 {
		return nil, eris.New("no NITs given: use --input or --nit")
	}
	if dropped := len(ids) - len(unique); dropped > 0 {
		zap.L().Info("extract: dropped duplicate or blank NITs", zap.Int("dropped", dropped))
	}
	return unique, nil
}

func printBanner(w io.Writer, n int) {
	estimate := cfg.Run.EstimatedDuration(n).Round(time.Minute)
	fmt.Fprintf(w, "Lupa al Giro: %d NITs, period %s - %s, %d shard(s), estimated %s\n",
		n, cfg.Portal.PeriodStart, cfg.Portal.PeriodEnd, max(cfg.Run.Shards, 1), estimate)
	zap.L().Info("extract: starting",
		zap.Int("identifiers", n),
		zap.String("period_start", cfg.Portal.PeriodStart),
		zap.String("period_end", cfg.Portal.PeriodEnd),
		zap.Int("shards", cfg.Run.Shards),
		zap.Duration("estimated", estimate),
	)
}

// watchInterrupts turns the first SIGINT/SIGTERM into a cooperative stop and
// the second into context cancellation.
func watchInterrupts(ctx context.Context, pool *batch.Pool) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		stopping := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if !stopping {
					stopping = true
					zap.L().Warn("extract: interrupt received, stopping after the current NIT (press again to abort)")
					pool.Cancel()
					continue
				}
				zap.L().Warn("extract: second interrupt, aborting")
				cancel()
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func writeResults(w io.Writer, run *model.BatchRun) error {
	table := consolidate.Consolidate(run)
	files, err := consolidate.Save(table, consolidate.SaveOptions{
		Dir:    cfg.Output.Dir,
		Prefix: cfg.Output.Prefix,
		Format: cfg.Output.Format,
		CSV: consolidate.CSVOptions{
			Delimiter: cfg.Output.DelimiterRune(),
			BOM:       cfg.Output.BOM,
		},
	})
	if err != nil {
		return eris.Wrap(err, "extract: write results")
	}

	status := "complete"
	if run.Cancelled {
		status = "stopped early"
	}
	fmt.Fprintf(w, "Run %s %s: %d/%d NITs, %d with payments, %d empty, %d failed, %d records\n",
		run.ID, status, run.Processed(), len(run.Identifiers), run.Succeeded, run.Empty, run.Failed, len(table.Records))
	fmt.Fprintf(w, "  table:    %s\n", files.Table)
	fmt.Fprintf(w, "  outcomes: %s\n", files.Outcomes)
	if files.Failed != "" {
		fmt.Fprintf(w, "  failed:   %s (re-run with --input)\n", files.Failed)
	}

	zap.L().Info("extract: done",
		zap.String("run_id", run.ID),
		zap.Bool("cancelled", run.Cancelled),
		zap.Int("records", len(table.Records)),
		zap.Strings("failed", table.Failed()),
	)
	return nil
}

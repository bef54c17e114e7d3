package main

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/batch"
	"github.com/sells-group/giro-cli/internal/config"
	"github.com/sells-group/giro-cli/internal/parser"
	"github.com/sells-group/giro-cli/internal/portal"
	"github.com/sells-group/giro-cli/internal/resilience"
)

// extractEnv holds the components shared by every shard of one extraction.
type extractEnv struct {
	Parser   *parser.Parser
	Executor *portal.Executor
	Sessions portal.Factory
	Retry    resilience.RetryConfig
	Batch    batch.Config
}

// initExtract builds the extraction components from c. A non-empty fixtures
// directory replaces Chrome with saved pages.
func initExtract(c *config.Config, fixtures string) (*extractEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	start, end, err := normalizePeriod(c.Portal.PeriodStart, c.Portal.PeriodEnd)
	if err != nil {
		return nil, err
	}
	c.Portal.PeriodStart, c.Portal.PeriodEnd = start, end

	p := parser.New(selectors(c.Portal))
	env := &extractEnv{
		Parser: p,
		Executor: portal.NewExecutor(portal.ExecutorConfig{
			QueryTimeout: c.Run.QueryTimeout(),
			PollInitial:  c.Run.PollInterval(),
			PollCap:      c.Run.PollCap(),
			PeriodStart:  c.Portal.PeriodStart,
			PeriodEnd:    c.Portal.PeriodEnd,
		}, p),
		Retry: resilience.FromRetryConfig(c.Run.MaxAttempts, c.Run.BackoffBaseMs, c.Run.BackoffCapMs, c.Run.JitterFraction),
		Batch: batch.Config{
			InterQueryDelay:    c.Run.InterQueryDelay(),
			SessionRecreations: c.Run.SessionRecreations,
		},
	}
	env.Retry.OnRetry = resilience.RetryLogger()

	if fixtures != "" {
		zap.L().Info("extract: replaying fixtures", zap.String("dir", fixtures))
		env.Sessions = portal.FixtureFactory(fixtures, "")
	} else {
		env.Sessions = portal.ChromeFactory(chromeConfig(c.Portal))
	}
	return env, nil
}

// Builder returns a batch.Builder giving each shard its own orchestrator.
func (e *extractEnv) Builder() batch.Builder {
	return func() *batch.Orchestrator {
		return batch.New(e.Batch, e.Sessions, e.Executor, e.Parser, resilience.NewPolicy(e.Retry), nil)
	}
}

func selectors(p config.PortalConfig) parser.Selectors {
	return parser.Selectors{
		ResultSelector: p.ResultSelector,
		AnchorPrefix:   p.AnchorPrefix,
		NoResultsText:  p.NoResultsText,
		LoadingText:    p.LoadingText,
	}
}

func chromeConfig(p config.PortalConfig) portal.ChromeConfig {
	return portal.ChromeConfig{
		URL:             p.URL,
		FrameSelector:   p.FrameSelector,
		SubmitLabel:     p.SubmitLabel,
		ResultSelector:  p.ResultSelector,
		OpenTimeout:     p.OpenTimeout(),
		ActionTimeout:   p.ElementTimeout(),
		Headless:        p.Headless,
		ExecPath:        p.ChromePath,
		UserAgent:       p.UserAgent,
		DialogSelectors: p.DialogSelectors,
	}
}

// periodLayout is the date format the portal form accepts.
const periodLayout = "02/01/2006"

// normalizePeriod checks both bounds are dates with start not after end and
// returns them in the form's DD/MM/YYYY layout.
func normalizePeriod(start, end string) (string, string, error) {
	from, err := parser.ParseDate(start)
	if err != nil {
		return "", "", eris.Wrapf(err, "invalid period start %q", start)
	}
	to, err := parser.ParseDate(end)
	if err != nil {
		return "", "", eris.Wrapf(err, "invalid period end %q", end)
	}
	if from.After(to) {
		return "", "", eris.Errorf("period start %s is after end %s", start, end)
	}
	return from.Format(periodLayout), to.Format(periodLayout), nil
}

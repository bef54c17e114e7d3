package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Portal  PortalConfig  `yaml:"portal" mapstructure:"portal"`
	Run     RunConfig     `yaml:"run" mapstructure:"run"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PortalConfig describes the search portal and the browser that drives it.
type PortalConfig struct {
	URL                string   `yaml:"url" mapstructure:"url"`
	FrameSelector      string   `yaml:"frame_selector" mapstructure:"frame_selector"`
	SubmitLabel        string   `yaml:"submit_label" mapstructure:"submit_label"`
	ResultSelector     string   `yaml:"result_selector" mapstructure:"result_selector"`
	AnchorPrefix       string   `yaml:"anchor_prefix" mapstructure:"anchor_prefix"`
	NoResultsText      []string `yaml:"no_results_text" mapstructure:"no_results_text"`
	LoadingText        []string `yaml:"loading_text" mapstructure:"loading_text"`
	DialogSelectors    []string `yaml:"dialog_selectors" mapstructure:"dialog_selectors"`
	PeriodStart        string   `yaml:"period_start" mapstructure:"period_start"`
	PeriodEnd          string   `yaml:"period_end" mapstructure:"period_end"`
	OpenTimeoutSecs    int      `yaml:"open_timeout_secs" mapstructure:"open_timeout_secs"`
	ElementTimeoutSecs int      `yaml:"element_timeout_secs" mapstructure:"element_timeout_secs"`
	Headless           bool     `yaml:"headless" mapstructure:"headless"`
	ChromePath         string   `yaml:"chrome_path" mapstructure:"chrome_path"`
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// RunConfig controls retries, render waits, pacing and sharding.
type RunConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	QueryTimeoutSecs   int     `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	PollIntervalMs     int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollCapMs          int     `yaml:"poll_cap_ms" mapstructure:"poll_cap_ms"`
	InterQueryDelayMs  int     `yaml:"inter_query_delay_ms" mapstructure:"inter_query_delay_ms"`
	BackoffBaseMs      int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffCapMs       int     `yaml:"backoff_cap_ms" mapstructure:"backoff_cap_ms"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	SessionRecreations int     `yaml:"session_recreations" mapstructure:"session_recreations"`
	Shards             int     `yaml:"shards" mapstructure:"shards"`
}

// OutputConfig controls where and how the consolidated table is written.
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Format    string `yaml:"format" mapstructure:"format"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	BOM       bool   `yaml:"bom" mapstructure:"bom"`
}

// MetricsConfig configures the optional Prometheus endpoint. Empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// TracingConfig configures OTLP/HTTP span export. Empty Endpoint disables it.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// OpenTimeout returns the session open timeout.
func (p PortalConfig) OpenTimeout() time.Duration {
	return time.Duration(p.OpenTimeoutSecs) * time.Second
}

// ElementTimeout returns the per-action browser timeout.
func (p PortalConfig) ElementTimeout() time.Duration {
	return time.Duration(p.ElementTimeoutSecs) * time.Second
}

// QueryTimeout returns the per-query render wait ceiling.
func (r RunConfig) QueryTimeout() time.Duration {
	return time.Duration(r.QueryTimeoutSecs) * time.Second
}

// PollInterval returns the initial render poll interval.
func (r RunConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// PollCap returns the longest render poll interval.
func (r RunConfig) PollCap() time.Duration {
	return time.Duration(r.PollCapMs) * time.Millisecond
}

// InterQueryDelay returns the minimum spacing between queries.
func (r RunConfig) InterQueryDelay() time.Duration {
	return time.Duration(r.InterQueryDelayMs) * time.Millisecond
}

// EstimatedDuration is a rough wall-clock estimate for n identifiers that all
// render in time on the first attempt.
func (r RunConfig) EstimatedDuration(n int) time.Duration {
	shards := max(r.Shards, 1)
	perQuery := max(r.QueryTimeout(), r.InterQueryDelay())
	rounds := (n + shards - 1) / shards
	return time.Duration(rounds) * perQuery
}

// DelimiterRune returns the output delimiter, defaulting to ','.
func (o OutputConfig) DelimiterRune() rune {
	switch o.Delimiter {
	case "":
		return ','
	case `\t`, "tab":
		return '\t'
	}
	return []rune(o.Delimiter)[0]
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GIRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("portal.url", "https://www.adres.gov.co/lupa-al-giro/identifica-tu-giro")
	v.SetDefault("portal.frame_selector", "iframe[id*='WebPartWPQ4']")
	v.SetDefault("portal.submit_label", "Ver informe")
	v.SetDefault("portal.result_selector", "table")
	v.SetDefault("portal.anchor_prefix", "NIT-")
	v.SetDefault("portal.no_results_text", []string{
		"no se encontraron registros",
		"no se encontraron resultados",
		"no hay datos",
		"no existen registros",
	})
	v.SetDefault("portal.loading_text", []string{"cargando", "loading..."})
	v.SetDefault("portal.dialog_selectors", []string{".ms-dlgOverlay", ".ms-dlgContent", "[role='dialog']"})
	v.SetDefault("portal.period_start", "01/01/2025")
	v.SetDefault("portal.period_end", "31/01/2026")
	v.SetDefault("portal.open_timeout_secs", 30)
	v.SetDefault("portal.element_timeout_secs", 15)
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.chrome_path", "")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.query_timeout_secs", 35)
	v.SetDefault("run.poll_interval_ms", 500)
	v.SetDefault("run.poll_cap_ms", 4000)
	v.SetDefault("run.inter_query_delay_ms", 2000)
	v.SetDefault("run.backoff_base_ms", 2000)
	v.SetDefault("run.backoff_cap_ms", 30000)
	v.SetDefault("run.jitter_fraction", 0.0)
	v.SetDefault("run.session_recreations", 1)
	v.SetDefault("run.shards", 1)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.prefix", "ConsolidadoADRES")
	v.SetDefault("output.format", "csv")
	v.SetDefault("output.delimiter", ",")
	v.SetDefault("output.bom", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values an extraction run depends on.
func (c *Config) Validate() error {
	var errs []string

	if c.Portal.URL == "" {
		errs = append(errs, "portal.url is required")
	}
	if c.Portal.PeriodStart == "" || c.Portal.PeriodEnd == "" {
		errs = append(errs, "portal.period_start and portal.period_end are required")
	}
	if c.Run.MaxAttempts < 1 {
		errs = append(errs, "run.max_attempts must be >= 1")
	}
	if c.Run.QueryTimeoutSecs < 1 {
		errs = append(errs, "run.query_timeout_secs must be >= 1")
	}
	if c.Run.InterQueryDelayMs < 0 || c.Run.BackoffBaseMs < 0 || c.Run.BackoffCapMs < 0 {
		errs = append(errs, "run delays must be >= 0")
	}
	if c.Run.JitterFraction < 0 || c.Run.JitterFraction > 1 {
		errs = append(errs, "run.jitter_fraction must be between 0 and 1")
	}
	if c.Run.SessionRecreations < 0 {
		errs = append(errs, "run.session_recreations must be >= 0")
	}
	if c.Run.Shards < 1 || c.Run.Shards > 16 {
		errs = append(errs, "run.shards must be between 1 and 16")
	}
	switch strings.ToLower(c.Output.Format) {
	case "csv", "xlsx":
	default:
		errs = append(errs, "output.format must be csv or xlsx")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/giro-cli/internal/resilience"
)

// ChromeConfig configures a headless Chrome session against the portal.
type ChromeConfig struct {
	URL             string
	FrameSelector   string
	SubmitLabel     string
	ResultSelector  string
	OpenTimeout     time.Duration
	ActionTimeout   time.Duration
	Headless        bool
	ExecPath        string
	UserAgent       string
	WindowWidth     int
	WindowHeight    int
	MinFormInputs   int
	DialogSelectors []string
}

// ChromeSession is a Session backed by one chromedp-managed Chrome process.
type ChromeSession struct {
	cfg ChromeConfig

	mu          sync.Mutex
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context
	closed      bool
}

// NewChromeSession creates an unopened session.
func NewChromeSession(cfg ChromeConfig) *ChromeSession {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 15 * time.Second
	}
	if cfg.MinFormInputs <= 0 {
		cfg.MinFormInputs = 3
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	return &ChromeSession{cfg: cfg}
}

// ChromeFactory returns a Factory producing ChromeSessions with cfg.
func ChromeFactory(cfg ChromeConfig) Factory {
	return func() Session { return NewChromeSession(cfg) }
}

// Open launches Chrome, loads the entry page and waits until the form frame
// exposes its inputs.
func (c *ChromeSession) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil {
		return resilience.NewSessionError(eris.New("chrome: session already open"))
	}

	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.Headless {
		opts = append(opts,
			chromedp.Flag("headless", "new"),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
		)
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(zap.S().Debugf),
		chromedp.WithErrorf(zap.S().Debugf),
	)
	c.allocCancel = allocCancel
	c.ctxCancel = ctxCancel
	c.browserCtx = browserCtx

	// Start the browser on the unbounded context; a timeout on the first Run
	// would tear the browser down with it.
	if err := chromedp.Run(browserCtx); err != nil {
		return resilience.NewSessionError(eris.Wrap(err, "chrome: start browser"))
	}

	runCtx, cancel := c.bounded(ctx, c.cfg.OpenTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(c.cfg.URL),
		chromedp.WaitReady(c.cfg.FrameSelector, chromedp.ByQuery),
	)
	if err != nil {
		return resilience.NewSessionError(eris.Wrap(err, "chrome: open portal"))
	}

	if err := c.waitForm(runCtx); err != nil {
		return resilience.NewSessionError(eris.Wrap(err, "chrome: wait for form"))
	}

	zap.L().Debug("chrome: session ready", zap.String("url", c.cfg.URL))
	return nil
}

// Reset clears the form inputs, leftover dialogs and the previous report in
// place. It reloads the page only when the form cannot be found.
func (c *ChromeSession) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	runCtx, cancel := c.bounded(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var inputs int
	err := chromedp.Run(runCtx, chromedp.Evaluate(c.resetScript(), &inputs))
	if err == nil && inputs >= c.cfg.MinFormInputs {
		return nil
	}
	if err := c.classify(err); resilience.IsSession(err) {
		return err
	}

	zap.L().Debug("chrome: in-place reset failed, reloading", zap.Int("inputs", inputs), zap.Error(err))
	reloadCtx, cancelReload := c.bounded(ctx, c.cfg.OpenTimeout)
	defer cancelReload()
	if err := chromedp.Run(reloadCtx,
		chromedp.Navigate(c.cfg.URL),
		chromedp.WaitReady(c.cfg.FrameSelector, chromedp.ByQuery),
	); err != nil {
		return c.classify(eris.Wrap(err, "chrome: reload portal"))
	}
	if err := c.waitForm(reloadCtx); err != nil {
		return c.classify(eris.Wrap(err, "chrome: wait for form after reload"))
	}
	return nil
}

// Submit injects the period and identifier into the frame's text inputs and
// clicks the report button.
func (c *ChromeSession) Submit(ctx context.Context, q Query) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	runCtx, cancel := c.bounded(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(c.submitScript(q), &ok)); err != nil {
		return c.classify(eris.Wrap(err, "chrome: submit"))
	}
	if !ok {
		return eris.Errorf("chrome: form not ready for %s", q.Identifier)
	}
	return nil
}

// Snapshot returns the outer HTML of the form frame's document.
func (c *ChromeSession) Snapshot(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return "", err
	}
	runCtx, cancel := c.bounded(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(c.snapshotScript(), &html)); err != nil {
		return "", c.classify(eris.Wrap(err, "chrome: snapshot"))
	}
	return html, nil
}

// Close stops Chrome. Idempotent and safe after a failed Open.
func (c *ChromeSession) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.browserCtx != nil {
		cancelCtx, cancel := context.WithTimeout(c.browserCtx, 5*time.Second)
		err = chromedp.Cancel(cancelCtx)
		cancel()
	}
	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "chrome: close")
	}
	return nil
}

func (c *ChromeSession) ready() error {
	if c.closed {
		return resilience.NewSessionError(eris.New("chrome: session closed"))
	}
	if c.browserCtx == nil {
		return resilience.NewSessionError(eris.New("chrome: session not open"))
	}
	if err := c.browserCtx.Err(); err != nil {
		return resilience.NewSessionError(eris.Wrap(err, "chrome: browser gone"))
	}
	return nil
}

// bounded derives a context from the browser context that also ends when
// the caller's ctx does.
func (c *ChromeSession) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// classify promotes driver errors to SessionError when the browser is gone.
func (c *ChromeSession) classify(err error) error {
	if err == nil {
		return nil
	}
	if c.browserCtx == nil || c.browserCtx.Err() != nil || resilience.LooksLikeSessionDeath(err) {
		return resilience.NewSessionError(err)
	}
	return err
}

func (c *ChromeSession) waitForm(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		var inputs int
		if err := chromedp.Run(ctx, chromedp.Evaluate(c.countInputsScript(), &inputs)); err == nil && inputs >= c.cfg.MinFormInputs {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// frameUnavailable is the exception message scripts throw when the form
// frame's document cannot be read.
const frameUnavailable = "giro: form frame document unavailable"

// frameDocJS evaluates to the document of the form frame. It throws when the
// frame is missing or its document is unreadable, e.g. cross-origin.
func (c *ChromeSession) frameDocJS() string {
	return fmt.Sprintf(`(function(){
		var f = document.querySelector(%s);
		var d = null;
		if (f) {
			try { d = f.contentDocument || (f.contentWindow && f.contentWindow.document) || null; } catch (e) { d = null; }
		}
		if (!d) { throw new Error(%s); }
		return d;
	})()`, jsString(c.cfg.FrameSelector), jsString(frameUnavailable))
}

func (c *ChromeSession) countInputsScript() string {
	return fmt.Sprintf(`(function(){
		var d = %s;
		return d.querySelectorAll('input[type="text"]').length;
	})()`, c.frameDocJS())
}

func (c *ChromeSession) resetScript() string {
	dialogs, _ := json.Marshal(c.cfg.DialogSelectors)
	return fmt.Sprintf(`(function(){
		var d = %s;
		var inputs = d.querySelectorAll('input[type="text"]');
		for (var i = 0; i < inputs.length; i++) { inputs[i].value = ''; }
		var dialogs = %s || [];
		for (var j = 0; j < dialogs.length; j++) {
			d.querySelectorAll(dialogs[j]).forEach(function(n){ n.remove(); });
		}
		var results = d.querySelectorAll(%s);
		results.forEach(function(n){ if (!n.querySelector('input')) { n.remove(); } });
		return inputs.length;
	})()`, c.frameDocJS(), string(dialogs), jsString(c.cfg.ResultSelector))
}

func (c *ChromeSession) submitScript(q Query) string {
	return fmt.Sprintf(`(function(){
		var d = %s;
		var inputs = d.querySelectorAll('input[type="text"]');
		if (inputs.length < 3) { return false; }
		inputs[0].value = %s;
		inputs[1].value = %s;
		inputs[2].value = %s;
		var btn = d.querySelector('input[value=' + JSON.stringify(%s) + ']');
		if (!btn) { return false; }
		btn.click();
		return true;
	})()`, c.frameDocJS(), jsString(q.PeriodStart), jsString(q.PeriodEnd), jsString(q.Identifier), jsString(c.cfg.SubmitLabel))
}

func (c *ChromeSession) snapshotScript() string {
	return fmt.Sprintf(`(function(){
		var d = %s;
		return d.documentElement ? d.documentElement.outerHTML : '';
	})()`, c.frameDocJS())
}

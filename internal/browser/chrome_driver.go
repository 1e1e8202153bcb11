package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
)

// ChromeConfig holds the headless Chrome settings
type ChromeConfig struct {
	Headless          bool          `json:"headless"`
	UserAgent         string        `json:"user_agent"`
	UserDataDir       string        `json:"user_data_dir"`
	StartupTimeout    time.Duration `json:"startup_timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	ActionTimeout     time.Duration `json:"action_timeout"`
	CaptureConsole    bool          `json:"capture_console"`
}

// NewChromeConfig converts the [browser] config section
func NewChromeConfig(cfg common.BrowserConfig) ChromeConfig {
	return ChromeConfig{
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		UserDataDir:       cfg.UserDataDir,
		StartupTimeout:    common.ParseDurationOr(cfg.StartupTimeout, 30*time.Second),
		NavigationTimeout: common.ParseDurationOr(cfg.NavigationTimeout, 45*time.Second),
		ActionTimeout:     common.ParseDurationOr(cfg.ActionTimeout, 20*time.Second),
		CaptureConsole:    cfg.CaptureConsole,
	}
}

// ChromeDriver implements interfaces.PageAutomationDriver over one chromedp tab
type ChromeDriver struct {
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	config          ChromeConfig
	logger          arbor.ILogger

	consoleMu     sync.Mutex
	consoleErrors []string

	closeOnce sync.Once
}

var _ interfaces.PageAutomationDriver = (*ChromeDriver)(nil)

// NewChromeDriver starts Chrome and verifies it responds
func NewChromeDriver(config ChromeConfig, logger arbor.ILogger) (*ChromeDriver, error) {
	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(config)...)

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)

	d := &ChromeDriver{
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		config:          config,
		logger:          logger,
	}

	// Allocate the browser on the long-lived context so a startup timeout cannot kill it
	if err := chromedp.Run(browserCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if config.CaptureConsole {
		d.listenConsole()
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, config.StartupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		d.Close()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	var title string
	if err := chromedp.Run(testCtx, chromedp.Title(&title)); err != nil {
		d.Close()
		return nil, fmt.Errorf("browser failed responsiveness test: %w", err)
	}

	logger.Info().
		Bool("headless", config.Headless).
		Bool("profile", config.UserDataDir != "").
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return d, nil
}

func allocatorOptions(config ChromeConfig) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}
	return opts
}

// listenConsole records page exceptions and console.error output
func (d *ChromeDriver) listenConsole() {
	chromedp.ListenTarget(d.browserCtx, func(ev interface{}) {
		var msg string
		switch e := ev.(type) {
		case *runtime.EventExceptionThrown:
			desc := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				desc = e.ExceptionDetails.Exception.Description
			}
			msg = "exception: " + desc
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			var parts []string
			for _, arg := range e.Args {
				if arg.Value != nil {
					parts = append(parts, string(arg.Value))
				} else if arg.Description != "" {
					parts = append(parts, arg.Description)
				}
			}
			if len(parts) == 0 {
				return
			}
			msg = "console.error: " + strings.Join(parts, " ")
		default:
			return
		}

		d.consoleMu.Lock()
		d.consoleErrors = append(d.consoleErrors, msg)
		d.consoleMu.Unlock()

		d.logger.Debug().Str("page_error", msg).Msg("Portal page reported an error")
	})
}

// ConsoleErrors returns the page errors seen so far
func (d *ChromeDriver) ConsoleErrors() []string {
	d.consoleMu.Lock()
	defer d.consoleMu.Unlock()
	out := make([]string, len(d.consoleErrors))
	copy(out, d.consoleErrors)
	return out
}

// runContext derives a tab context bounded by timeout and by the caller's ctx
func (d *ChromeDriver) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url, checks the main document status and waits for the body
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := d.runContext(ctx, d.config.NavigationTimeout)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return &interfaces.NavigationError{URL: url, Cause: contextCause(ctx, err)}
	}
	if resp != nil && resp.Status != 0 && (resp.Status < 200 || resp.Status >= 300) {
		return &interfaces.NavigationError{URL: url, StatusCode: int(resp.Status)}
	}

	if err := chromedp.Run(runCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return &interfaces.NavigationError{URL: url, Cause: contextCause(ctx, err)}
	}

	d.logger.Debug().Str("url", url).Msg("Navigation complete")
	return nil
}

// Extract returns the outer HTML of the first element matching spec.Selector
func (d *ChromeDriver) Extract(ctx context.Context, spec interfaces.ExtractSpec) (string, error) {
	var result pageResult
	if err := d.Evaluate(ctx, extractScript(spec), &result); err != nil {
		return "", &interfaces.ExtractionError{Selector: spec.Selector, Cause: err}
	}
	if !result.Found {
		return "", &interfaces.ExtractionError{Selector: spec.Selector, Cause: interfaces.ErrElementNotFound}
	}
	return result.HTML, nil
}

// Act performs action through the in-page evaluation channel
func (d *ChromeDriver) Act(ctx context.Context, action interfaces.Action) error {
	script, err := actionScript(action)
	if err != nil {
		return err
	}

	var result pageResult
	if err := d.Evaluate(ctx, script, &result); err != nil {
		return &interfaces.ExtractionError{Selector: action.Selector, Cause: err}
	}
	if !result.Found {
		return &interfaces.ExtractionError{Selector: action.Selector, Cause: interfaces.ErrElementNotFound}
	}
	if result.Error != "" {
		return &interfaces.ExtractionError{Selector: action.Selector, Cause: errors.New(result.Error)}
	}
	return nil
}

// Evaluate runs script in the page and decodes the result into out (may be nil)
func (d *ChromeDriver) Evaluate(ctx context.Context, script string, out interface{}) error {
	runCtx, cancel := d.runContext(ctx, d.config.ActionTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", contextCause(ctx, err))
	}
	return nil
}

// Close shuts the browser down. Later calls are no-ops.
func (d *ChromeDriver) Close() error {
	d.closeOnce.Do(func() {
		if d.browserCancel != nil {
			d.browserCancel()
		}
		if d.allocatorCancel != nil {
			d.allocatorCancel()
		}
		d.logger.Debug().Msg("Browser closed")
	})
	return nil
}

// contextCause prefers the caller's cancellation over chromedp's generic error
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

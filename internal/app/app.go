// Package app wires configuration, storage, the browser and the portal
// parsers into runnable harvests.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/browser"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/harvest"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/portal"
	"github.com/ternarybob/harvester/internal/storage"
	"github.com/ternarybob/harvester/internal/timing"
)

// DriverFactory launches a fresh browser for one run
type DriverFactory func() (interfaces.PageAutomationDriver, error)

// Option customizes an App
type Option func(*App)

// WithDriverFactory replaces the headless Chrome launcher
func WithDriverFactory(factory DriverFactory) Option {
	return func(a *App) {
		a.newDriver = factory
	}
}

// WithCacheStore uses store instead of the one selected by storage.type
func WithCacheStore(store interfaces.CacheStore) Option {
	return func(a *App) {
		a.Cache = store
	}
}

// App holds all application components and dependencies
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Cache   interfaces.CacheStore
	Timing  *timing.Policy
	Listing *portal.ListingParser
	History *portal.HistoryFetcher

	newDriver DriverFactory
	runMu     sync.Mutex
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.newDriver == nil {
		chromeConfig := browser.NewChromeConfig(cfg.Browser)
		app.newDriver = func() (interfaces.PageAutomationDriver, error) {
			return browser.NewChromeDriver(chromeConfig, logger)
		}
	}

	if app.Cache == nil {
		store, err := storage.NewCacheStore(logger, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache store: %w", err)
		}
		app.Cache = store
	}

	if cfg.Timing.Seed != 0 {
		app.Timing = timing.NewSeeded(cfg.Timing.Seed)
	} else {
		app.Timing = timing.New()
	}
	app.Timing.WithFloor(common.ParseDurationOr(cfg.Timing.Floor, timing.DefaultFloor))

	app.Listing = portal.NewListingParser(cfg.Portal.BaseURL, cfg.Listing, logger)
	app.History = portal.NewHistoryFetcher(cfg.History, logger)

	logger.Debug().
		Str("portal", cfg.Portal.BaseURL).
		Str("storage_type", cfg.Storage.Type).
		Str("date_from", cfg.Listing.DateFrom).
		Msg("Application initialized")

	return app, nil
}

// RunOnce performs one full harvest with a fresh browser session, then
// writes the configured report and series exports. Runs never overlap.
func (a *App) RunOnce(ctx context.Context) (*models.Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	driver, err := a.newDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	session := browser.NewSession(driver, a.Timing, browser.NewSessionConfig(a.Config.Timing, a.Config.Browser), a.Logger)
	harvester := harvest.NewHarvester(session, a.Listing, a.History, a.Cache, a.Timing, a.Logger)

	runConfig := harvest.NewRunConfig(a.Config.Harvest)
	runConfig.OnProgress = func(p models.Progress) {
		a.Logger.Info().Str("progress", fmt.Sprintf("%.0f%%", p.Percentage)).Msg(p.Text)
	}
	runConfig.OnInstrumentProgress = func(p models.Progress) {
		a.Logger.Debug().Str("progress", fmt.Sprintf("%.0f%%", p.Percentage)).Msg(p.Text)
	}

	report, err := harvester.Run(ctx, runConfig)
	if err != nil {
		return nil, err
	}

	if path := a.Config.Report.Path; path != "" {
		if err := harvest.WriteReport(path, report); err != nil {
			return report, err
		}
		a.Logger.Info().Str("path", path).Msg("Report written")
	}

	if dir := a.Config.Report.SeriesDir; dir != "" {
		n, err := harvest.WriteSeries(dir, report)
		if err != nil {
			return report, err
		}
		a.Logger.Info().Str("dir", dir).Int("files", n).Msg("Series exported")
	}

	for _, failure := range report.Failures() {
		a.Logger.Warn().
			Str("identity", failure.Instrument.Identity).
			Str("instrument", failure.Instrument.String()).
			Str("error", failure.Error).
			Msg("Instrument failed")
	}

	a.Logger.Info().Str("run_id", report.RunID).Msg(harvest.Summary(report))
	return report, nil
}

// CachedIdentities lists the identities currently held in the cache
func (a *App) CachedIdentities(ctx context.Context) ([]string, error) {
	return a.Cache.List(ctx)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.Cache == nil {
		return nil
	}
	start := time.Now()
	if err := a.Cache.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close cache store")
		return err
	}
	a.Logger.Debug().Dur("elapsed", time.Since(start)).Msg("Cache store closed")
	return nil
}

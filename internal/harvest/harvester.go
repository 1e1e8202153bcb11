// Package harvest runs one harvesting pass: list instruments once, then fetch
// or reuse each instrument's history in listing order on a single worker.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/timing"
)

// RunConfig holds the options of one run
type RunConfig struct {
	MaxAge            time.Duration
	BetweenItemDelay  time.Duration
	BetweenItemJitter float64

	// OnProgress receives run-level progress once per processed instrument
	OnProgress models.ProgressFunc
	// OnInstrumentProgress receives the history fetcher's per-page progress
	OnInstrumentProgress models.ProgressFunc

	Limit      int  // 0 = all instruments
	Force      bool // Ignore freshness
	MergeStale bool // Keep points of a stale matching entry missing from the refetch
}

// NewRunConfig builds run options from the [harvest] section
func NewRunConfig(cfg common.HarvestConfig) RunConfig {
	return RunConfig{
		MaxAge:            common.ParseDurationOr(cfg.MaxAge, 24*time.Hour),
		BetweenItemDelay:  common.ParseDurationOr(cfg.BetweenItemDelay, 3*time.Second),
		BetweenItemJitter: cfg.BetweenItemJitter,
		Limit:             cfg.Limit,
		Force:             cfg.Force,
		MergeStale:        cfg.MergeStale,
	}
}

// Harvester orchestrates one session through listing and per-instrument fetches.
// A Harvester owns its session and closes it when Run returns.
type Harvester struct {
	session interfaces.PageSession
	listing interfaces.ListingParser
	history interfaces.HistoryFetcher
	cache   interfaces.CacheStore
	timing  *timing.Policy
	logger  arbor.ILogger
	now     func() time.Time

	closeOnce sync.Once
}

// NewHarvester creates a harvester over explicit collaborators
func NewHarvester(
	session interfaces.PageSession,
	listing interfaces.ListingParser,
	history interfaces.HistoryFetcher,
	cache interfaces.CacheStore,
	policy *timing.Policy,
	logger arbor.ILogger,
) *Harvester {
	return &Harvester{
		session: session,
		listing: listing,
		history: history,
		cache:   cache,
		timing:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for timestamps and elapsed times
func (h *Harvester) WithClock(now func() time.Time) *Harvester {
	h.now = now
	return h
}

// Run lists the portal's instruments and processes each in order. Listing
// failures are returned as errors. Per-instrument failures are recorded in
// the report. Cancellation yields a partial report with Cancelled set.
func (h *Harvester) Run(ctx context.Context, cfg RunConfig) (*models.Report, error) {
	defer h.closeSession()

	start := h.now()
	report := &models.Report{
		RunID:       common.NewRunID(),
		GeneratedAt: start.UTC(),
		Results:     []models.FetchResult{},
	}

	h.logger.Info().Str("run_id", report.RunID).Msg("Harvest run started")

	instruments, err := h.listing.FetchInstrumentList(ctx, h.session)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Warn().Str("run_id", report.RunID).Msg("Harvest cancelled during listing")
			report.Cancelled = true
			report.TotalElapsedMs = h.now().Sub(start).Milliseconds()
			return report, nil
		}
		return nil, fmt.Errorf("failed to fetch instrument list: %w", err)
	}

	conflicting := make(map[int]models.Conflict)
	for _, c := range models.FindConflicts(instruments) {
		conflicting[c.Second] = c
		h.logger.Warn().
			Str("identity", c.Identity).
			Int("first_row", c.First).
			Int("row", c.Second).
			Msg("Listing rows share an identity but disagree on exercise price or grant date")
	}

	if cfg.Limit > 0 && cfg.Limit < len(instruments) {
		instruments = instruments[:cfg.Limit]
	}
	report.TotalInstruments = len(instruments)

	h.logger.Info().
		Int("instruments", len(instruments)).
		Dur("max_age", cfg.MaxAge).
		Bool("force", cfg.Force).
		Msg("Processing instruments")

	fetchedPrevious := false
	for i, inst := range instruments {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		if fetchedPrevious {
			if err := h.timing.Delay(ctx, cfg.BetweenItemDelay, cfg.BetweenItemJitter); err != nil {
				report.Cancelled = true
				break
			}
		}

		var conflict *models.Conflict
		if c, ok := conflicting[i]; ok {
			conflict = &c
		}

		// Cancellation is honoured between instruments only. The instrument in
		// flight runs to completion, bounded by the driver's own timeouts.
		result, fetched := h.processInstrument(context.WithoutCancel(ctx), inst, conflict, cfg)

		report.Add(result)
		fetchedPrevious = fetched

		cfg.OnProgress.Emit(float64(i+1)/float64(len(instruments))*100,
			fmt.Sprintf("%d/%d %s (ok %d, failed %d, cached %d)",
				i+1, len(instruments), inst.DisplayName, report.SuccessCount, report.FailureCount, report.CacheHits))
	}

	report.TotalElapsedMs = h.now().Sub(start).Milliseconds()

	event := h.logger.Info()
	if report.Cancelled {
		event = h.logger.Warn()
	}
	event.
		Str("run_id", report.RunID).
		Int("total", report.TotalInstruments).
		Int("processed", len(report.Results)).
		Int("succeeded", report.SuccessCount).
		Int("failed", report.FailureCount).
		Int("cache_hits", report.CacheHits).
		Bool("cancelled", report.Cancelled).
		Int64("elapsed_ms", report.TotalElapsedMs).
		Msg("Harvest run finished")

	return report, nil
}

// processInstrument never panics. fetched reports whether the portal was contacted.
func (h *Harvester) processInstrument(ctx context.Context, inst models.InstrumentMetadata, conflict *models.Conflict, cfg RunConfig) (result models.FetchResult, fetched bool) {
	start := h.now()
	result = models.FetchResult{Instrument: inst}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("identity", inst.Identity).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while processing instrument")
			result.Success = false
			result.FromCache = false
			result.Series = nil
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.ElapsedMs = h.now().Sub(start).Milliseconds()
	}()

	if conflict != nil {
		err := fmt.Errorf("%w: %s already listed at row %d with different exercise price or grant date",
			interfaces.ErrInconsistentListing, inst.Identity, conflict.First+1)
		result.Error = err.Error()
		return result, false
	}

	var stale *models.CacheEntry
	if entry, ok := h.cache.Get(ctx, inst.Identity); ok {
		switch {
		case !entry.Matches(inst):
			h.logger.Debug().
				Str("identity", inst.Identity).
				Msg("Cached entry was fetched for different instrument attributes - refetching")
		case !cfg.Force && h.cache.IsFresh(entry, cfg.MaxAge):
			series := entry.Series
			result.Success = true
			result.FromCache = true
			result.Series = &series
			h.logger.Debug().
				Str("identity", inst.Identity).
				Int("points", len(series.Points)).
				Msg("Cache hit")
			return result, false
		default:
			stale = entry
		}
	}

	fetched = true
	series, err := h.history.FetchHistory(ctx, h.session, inst, cfg.OnInstrumentProgress)
	if err != nil {
		h.logFetchError(inst, err)
		result.Error = err.Error()
		return result, fetched
	}

	if cfg.MergeStale && stale != nil {
		if added := series.Merge(stale.Series); added > 0 {
			h.logger.Debug().
				Str("identity", inst.Identity).
				Int("merged", added).
				Msg("Merged points from stale cache entry")
		}
	}

	if err := h.cache.Put(ctx, inst.Identity, models.NewCacheEntry(inst, *series)); err != nil {
		h.logger.Warn().Err(err).Str("identity", inst.Identity).Msg("Failed to write cache entry")
	}

	result.Success = true
	result.Series = series
	return result, fetched
}

func (h *Harvester) logFetchError(inst models.InstrumentMetadata, err error) {
	kind := "fetch"
	var navErr *interfaces.NavigationError
	var extErr *interfaces.ExtractionError
	var histErr *interfaces.HistoryExtractionError
	switch {
	case errors.As(err, &navErr):
		kind = "navigation"
	case errors.As(err, &histErr):
		kind = "empty_history"
	case errors.As(err, &extErr):
		kind = "extraction"
	}
	h.logger.Warn().
		Err(err).
		Str("identity", inst.Identity).
		Str("instrument", inst.String()).
		Str("kind", kind).
		Msg("Instrument history fetch failed")
}

func (h *Harvester) closeSession() {
	h.closeOnce.Do(func() {
		if err := h.session.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to close browser session")
		}
	})
}

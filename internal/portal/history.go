package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// HistoryFetcher pages through an instrument's detail view until no new
// price points appear
type HistoryFetcher struct {
	config common.HistoryConfig
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.HistoryFetcher = (*HistoryFetcher)(nil)

// NewHistoryFetcher creates a fetcher for the detail view described by config
func NewHistoryFetcher(config common.HistoryConfig, logger arbor.ILogger) *HistoryFetcher {
	if config.MaxPages <= 0 {
		config.MaxPages = 1
	}
	return &HistoryFetcher{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock used to stamp FetchedAt
func (f *HistoryFetcher) WithClock(now func() time.Time) *HistoryFetcher {
	f.now = now
	return f
}

// FetchHistory returns every distinct point shown for instrument, in the
// order first seen. A detail view with no points is a HistoryExtractionError.
func (f *HistoryFetcher) FetchHistory(ctx context.Context, session interfaces.PageSession, instrument models.InstrumentMetadata, onProgress models.ProgressFunc) (*models.PriceSeries, error) {
	if instrument.DetailURL == "" {
		return nil, &interfaces.HistoryExtractionError{Identity: instrument.Identity}
	}

	if err := session.Navigate(ctx, instrument.DetailURL); err != nil {
		return nil, fmt.Errorf("failed to open detail view: %w", err)
	}

	seen := make(map[string]struct{})
	var points []models.PricePoint
	pages := 0
	exhausted := false

	for pages < f.config.MaxPages {
		html, err := session.RunInPage(ctx, interfaces.ExtractSpec{Selector: f.config.TableSelector})
		if err != nil {
			if interfaces.IsElementMissing(err) {
				exhausted = true
				break
			}
			return nil, err
		}
		pages++

		added := 0
		for _, p := range ParseHistory(html, f.config.DateColumn, f.config.PriceColumn) {
			key := strings.TrimSpace(p.Date)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			points = append(points, p)
			added++
		}

		onProgress.Emit(float64(pages)/float64(f.config.MaxPages)*100,
			fmt.Sprintf("%s: page %d, %d points", instrument.DisplayName, pages, len(points)))

		f.logger.Debug().
			Str("identity", instrument.Identity).
			Int("page", pages).
			Int("added", added).
			Int("total", len(points)).
			Msg("History page read")

		if added == 0 || f.config.LoadMoreSelector == "" {
			exhausted = true
			break
		}

		if err := session.PerformAction(ctx, interfaces.Action{
			Kind:     interfaces.ActionClick,
			Selector: f.config.LoadMoreSelector,
		}); err != nil {
			if interfaces.IsElementMissing(err) {
				exhausted = true
				break
			}
			return nil, err
		}
	}

	truncated := !exhausted && len(points) > 0
	if truncated {
		f.logger.Warn().
			Str("identity", instrument.Identity).
			Int("max_pages", f.config.MaxPages).
			Int("points", len(points)).
			Msg("History page limit reached while pages still added points - series is incomplete")
	}

	if len(points) == 0 {
		return nil, &interfaces.HistoryExtractionError{
			Identity: instrument.Identity,
			URL:      instrument.DetailURL,
			Pages:    pages,
		}
	}

	onProgress.Emit(100, fmt.Sprintf("%s: %d points", instrument.DisplayName, len(points)))

	return &models.PriceSeries{
		Identity:  instrument.Identity,
		Points:    points,
		FetchedAt: f.now().UTC(),
		Truncated: truncated,
	}, nil
}

// ParseHistory reads (date, price) rows from a history table fragment. Rows
// without a recognizable date or a positive price are skipped.
func ParseHistory(html string, dateColumn, priceColumn int) []models.PricePoint {
	var points []models.PricePoint

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return points
	}

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Children().Filter("td")
		date := cellText(cells, dateColumn)
		if date == "" {
			return
		}
		if _, err := models.ParseDate(date); err != nil {
			return
		}
		price, ok := ParseNumber(cellText(cells, priceColumn))
		if !ok || !price.IsPositive() {
			return
		}
		points = append(points, models.PricePoint{Date: date, Price: price})
	})

	return points
}

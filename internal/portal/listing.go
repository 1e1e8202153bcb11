// Package portal drives the portal's listing and detail views through a
// paced browser session and turns their tables into models.
package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ListingOptions controls how a results table is read
type ListingOptions struct {
	BaseURL       string
	Columns       common.ColumnLayout
	MinColumns    int
	IdentityParam string
}

// ListingParser loads the listing view, applies the date filter and parses the results
type ListingParser struct {
	config common.ListingConfig
	base   string
	logger arbor.ILogger
}

var _ interfaces.ListingParser = (*ListingParser)(nil)

// NewListingParser creates a parser for the listing view at baseURL
func NewListingParser(baseURL string, config common.ListingConfig, logger arbor.ILogger) *ListingParser {
	return &ListingParser{
		config: config,
		base:   baseURL,
		logger: logger,
	}
}

// FetchInstrumentList returns the listed instruments in table order. A
// missing results table yields an empty list. Navigation and filter failures
// are returned as errors.
func (p *ListingParser) FetchInstrumentList(ctx context.Context, session interfaces.PageSession) ([]models.InstrumentMetadata, error) {
	start := time.Now()

	if err := session.Navigate(ctx, p.base); err != nil {
		return nil, fmt.Errorf("failed to load listing view: %w", err)
	}

	if err := session.PerformAction(ctx, interfaces.Action{
		Kind:     interfaces.ActionSetValue,
		Selector: p.config.DateField,
		Value:    p.config.DateFrom,
	}); err != nil {
		return nil, fmt.Errorf("failed to set date filter: %w", err)
	}

	if err := session.PerformAction(ctx, interfaces.Action{
		Kind:     interfaces.ActionClick,
		Selector: p.config.SubmitSelector,
	}); err != nil {
		return nil, fmt.Errorf("failed to submit listing filter: %w", err)
	}

	if err := session.Settle(ctx); err != nil {
		return nil, err
	}

	html, err := session.RunInPage(ctx, interfaces.ExtractSpec{Selector: p.config.TableSelector})
	if err != nil {
		if interfaces.IsElementMissing(err) {
			p.logger.Warn().
				Str("selector", p.config.TableSelector).
				Msg("Listing results table not found - returning empty list")
			return []models.InstrumentMetadata{}, nil
		}
		return nil, err
	}

	instruments := ParseListing(html, ListingOptions{
		BaseURL:       p.base,
		Columns:       p.config.Columns,
		MinColumns:    p.config.MinColumns,
		IdentityParam: p.config.IdentityParam,
	})

	p.logger.Info().
		Int("instruments", len(instruments)).
		Str("date_from", p.config.DateFrom).
		Dur("elapsed", time.Since(start)).
		Msg("Listing parsed")

	return instruments, nil
}

// ParseListing reads instrument rows from a results table fragment. Rows with
// fewer than MinColumns cells are skipped. Unparseable numbers become zero
// and unparseable dates the zero date. The result is never nil.
func ParseListing(html string, opts ListingOptions) []models.InstrumentMetadata {
	instruments := []models.InstrumentMetadata{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return instruments
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || opts.BaseURL == "" {
		base = nil
	}

	col := opts.Columns
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Children().Filter("td")
		if cells.Length() == 0 || cells.Length() < opts.MinColumns {
			return
		}

		grantDate, _ := models.ParseDate(cellText(cells, col.GrantDate))

		inst := models.InstrumentMetadata{
			Kind:                cellText(cells, col.Kind),
			DisplayName:         cellText(cells, col.Name),
			GrantDate:           grantDate,
			ExercisePrice:       numberOrZero(cellText(cells, col.ExercisePrice)),
			CurrencyCode:        strings.ToUpper(cellText(cells, col.Currency)),
			LastKnownPrice:      numberOrZero(cellText(cells, col.LastPrice)),
			LastUpdateLabel:     cellText(cells, col.LastUpdate),
			UnderlyingReference: cellText(cells, col.Underlying),
			DetailURL:           cellLink(cells, col.Link, base),
		}
		inst.Identity = DeriveIdentity(inst, opts.IdentityParam)

		instruments = append(instruments, inst)
	})

	return instruments
}

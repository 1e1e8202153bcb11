package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// pointTimeLayouts lists the date formats the portal emits.
var pointTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PricePoint is one historical observation. Date keeps the portal's
// original text ("YYYY-MM-DD" or "YYYY-MM-DD HH:MM").
type PricePoint struct {
	Date  string          `json:"date" yaml:"date"`
	Price decimal.Decimal `json:"price" yaml:"price"`
}

// DateOnly returns the YYYY-MM-DD prefix of the point's date.
func (p PricePoint) DateOnly() string {
	return DatePrefix(p.Date)
}

// Time parses the point's date. Unparseable dates return the zero time.
func (p PricePoint) Time() time.Time {
	s := strings.TrimSpace(p.Date)
	for _, layout := range pointTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// PriceSeries is the full history of one instrument. Points are kept in the
// order the portal emitted them; use Chronological for sorted access.
type PriceSeries struct {
	Identity  string       `json:"identity" yaml:"identity"`
	Points    []PricePoint `json:"points" yaml:"points"`
	FetchedAt time.Time    `json:"fetched_at" yaml:"fetched_at"`

	// Truncated is set when pagination stopped at the page limit while
	// pages were still adding points
	Truncated bool `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Chronological returns a copy of the points sorted oldest first.
func (s PriceSeries) Chronological() []PricePoint {
	out := slices.Clone(s.Points)
	slices.SortStableFunc(out, func(a, b PricePoint) int {
		return a.Time().Compare(b.Time())
	})
	return out
}

// FindByDate returns the first point whose date prefix matches day.
func (s PriceSeries) FindByDate(day string) (PricePoint, bool) {
	day = DatePrefix(day)
	for _, p := range s.Points {
		if p.DateOnly() == day {
			return p, true
		}
	}
	return PricePoint{}, false
}

// Merge appends points from older whose date is absent from s and returns
// the number of points added. s keeps its own FetchedAt.
func (s *PriceSeries) Merge(older PriceSeries) int {
	have := make(map[string]struct{}, len(s.Points))
	for _, p := range s.Points {
		have[strings.TrimSpace(p.Date)] = struct{}{}
	}
	added := 0
	for _, p := range older.Points {
		key := strings.TrimSpace(p.Date)
		if _, ok := have[key]; ok {
			continue
		}
		have[key] = struct{}{}
		s.Points = append(s.Points, p)
		added++
	}
	return added
}

// CacheEntry is the persisted form of one instrument's history.
type CacheEntry struct {
	Identity            string          `json:"identity"`
	Series              PriceSeries     `json:"series"`
	SourceExercisePrice decimal.Decimal `json:"source_exercise_price"`
	SourceGrantDate     Date            `json:"source_grant_date"`
}

// NewCacheEntry builds an entry for series fetched for instrument.
func NewCacheEntry(instrument InstrumentMetadata, series PriceSeries) *CacheEntry {
	return &CacheEntry{
		Identity:            instrument.Identity,
		Series:              series,
		SourceExercisePrice: instrument.ExercisePrice,
		SourceGrantDate:     instrument.GrantDate,
	}
}

// Matches reports whether the entry was fetched for the same exercise price
// and grant date as instrument.
func (e *CacheEntry) Matches(instrument InstrumentMetadata) bool {
	return instrument.SameSource(e.SourceExercisePrice, e.SourceGrantDate)
}

package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstrumentMetadata is one row of the portal listing view.
type InstrumentMetadata struct {
	Identity            string          `json:"identity" yaml:"identity"`
	Kind                string          `json:"kind" yaml:"kind"`
	DisplayName         string          `json:"display_name" yaml:"display_name"`
	GrantDate           Date            `json:"grant_date" yaml:"grant_date"`
	ExercisePrice       decimal.Decimal `json:"exercise_price" yaml:"exercise_price"`
	CurrencyCode        string          `json:"currency_code" yaml:"currency_code"`
	LastKnownPrice      decimal.Decimal `json:"last_known_price" yaml:"last_known_price"`
	LastUpdateLabel     string          `json:"last_update_label" yaml:"last_update_label"`
	UnderlyingReference string          `json:"underlying_reference" yaml:"underlying_reference"`

	// DetailURL opens the instrument detail view. It may embed session
	// tokens and is never used as a cache key.
	DetailURL string `json:"detail_url" yaml:"detail_url"`
}

// String returns a short label for logs.
func (i InstrumentMetadata) String() string {
	return fmt.Sprintf("%s (%s @ %s)", i.DisplayName, i.GrantDate, i.ExercisePrice.String())
}

// SameSource reports whether two records agree on the attributes that
// define an instrument's price history.
func (i InstrumentMetadata) SameSource(exercisePrice decimal.Decimal, grantDate Date) bool {
	return i.ExercisePrice.Equal(exercisePrice) && i.GrantDate.Equal(grantDate)
}

// Conflict describes two listing rows sharing an identity but disagreeing
// on exercise price or grant date.
type Conflict struct {
	Identity string
	First    int // index of the first occurrence
	Second   int // index of the conflicting occurrence
}

// FindConflicts returns every listing index whose identity was already seen
// with a different exercise price or grant date. Exact duplicates are not
// conflicts.
func FindConflicts(instruments []InstrumentMetadata) []Conflict {
	seen := make(map[string]int, len(instruments))
	var conflicts []Conflict
	for i, inst := range instruments {
		first, ok := seen[inst.Identity]
		if !ok {
			seen[inst.Identity] = i
			continue
		}
		prev := instruments[first]
		if !prev.SameSource(inst.ExercisePrice, inst.GrantDate) {
			conflicts = append(conflicts, Conflict{Identity: inst.Identity, First: first, Second: i})
		}
	}
	return conflicts
}

package common

import (
	"fmt"
	"time"
)

// FreshnessResult contains the result of a cache freshness check.
type FreshnessResult struct {
	// IsFresh indicates whether the cached series can be reused without refetching.
	IsFresh bool
	// Age is how long ago the series was fetched.
	Age time.Duration
	// Reason provides a human-readable explanation for the decision.
	Reason string
}

// IsFresh reports whether data fetched at fetchedAt is still usable at now.
// The boundary is exclusive and a non-positive maxAge is never fresh.
func IsFresh(fetchedAt, now time.Time, maxAge time.Duration) bool {
	return CheckFreshness(fetchedAt, now, maxAge).IsFresh
}

// CheckFreshness determines whether cached data is fresh.
func CheckFreshness(fetchedAt, now time.Time, maxAge time.Duration) FreshnessResult {
	if fetchedAt.IsZero() {
		return FreshnessResult{Reason: "no fetch time recorded"}
	}

	age := now.Sub(fetchedAt)
	if maxAge <= 0 {
		return FreshnessResult{Age: age, Reason: "max age disabled, always refetch"}
	}

	if age < maxAge {
		return FreshnessResult{
			IsFresh: true,
			Age:     age,
			Reason:  fmt.Sprintf("fetched %s ago, within max age %s", age.Round(time.Second), maxAge),
		}
	}

	return FreshnessResult{
		Age:    age,
		Reason: fmt.Sprintf("fetched %s ago, older than max age %s", age.Round(time.Second), maxAge),
	}
}

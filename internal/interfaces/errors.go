package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound is returned by drivers when a selector matches nothing
	ErrElementNotFound = errors.New("element not found")

	// ErrInconsistentListing marks an instrument whose identity was already
	// listed with a different exercise price or grant date
	ErrInconsistentListing = errors.New("inconsistent listing data")

	// ErrSessionClosed is returned by a session used after Close
	ErrSessionClosed = errors.New("browser session closed")
)

// NavigationError reports a page load that timed out or did not succeed.
type NavigationError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Cause      error
}

func (e *NavigationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("navigation to %s failed (status %d)", e.URL, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("navigation to %s failed", e.URL)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// ExtractionError reports that the expected page structure was absent or an
// in-page routine failed. It is the usual symptom of portal layout drift.
type ExtractionError struct {
	Selector string
	Cause    error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction of %q failed: %v", e.Selector, e.Cause)
	}
	return fmt.Sprintf("extraction of %q failed", e.Selector)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// HistoryExtractionError reports a listed instrument whose detail view
// yielded no price points.
type HistoryExtractionError struct {
	Identity string
	URL      string
	Pages    int
}

func (e *HistoryExtractionError) Error() string {
	return fmt.Sprintf("no price history found for %s at %s after %d page(s)", e.Identity, e.URL, e.Pages)
}

// IsElementMissing reports whether err means the selected element is absent.
func IsElementMissing(err error) bool {
	return errors.Is(err, ErrElementNotFound)
}

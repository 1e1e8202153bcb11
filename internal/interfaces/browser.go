package interfaces

import (
	"context"
)

// ExtractSpec selects a page fragment. Extract returns the outer HTML of the
// first element matching Selector.
type ExtractSpec struct {
	Selector string `json:"selector"`
}

// ActionKind names a simulated user action
type ActionKind string

const (
	// ActionSetValue assigns Value to an input and fires input/change events
	ActionSetValue ActionKind = "set_value"
	// ActionClick clicks the element
	ActionClick ActionKind = "click"
	// ActionSubmit submits the form owning the element
	ActionSubmit ActionKind = "submit"
)

// Action describes one simulated user action.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Selector string     `json:"selector"`
	Value    string     `json:"value,omitempty"`
}

// PageAutomationDriver is the boundary to a concrete headless browser.
// Implementations run extraction and actions inside the page's DOM context
// and return ErrElementNotFound (wrapped) when a selector matches nothing.
type PageAutomationDriver interface {
	// Navigate loads url and waits for basic readiness
	Navigate(ctx context.Context, url string) error

	// Extract returns the outer HTML selected by spec
	Extract(ctx context.Context, spec ExtractSpec) (string, error)

	// Evaluate runs script in the page and decodes its result into out
	Evaluate(ctx context.Context, script string, out interface{}) error

	// Act performs a user action through the in-page evaluation channel
	Act(ctx context.Context, action Action) error

	// Close releases the browser. It must be safe to call once.
	Close() error
}

// PageSession is the paced view of one browser tab used by the portal
// parsers. Pacing between calls is the session's responsibility.
type PageSession interface {
	Navigate(ctx context.Context, url string) error
	RunInPage(ctx context.Context, spec ExtractSpec) (string, error)
	PerformAction(ctx context.Context, action Action) error

	// Settle waits for asynchronous page updates after a submit
	Settle(ctx context.Context) error

	Close() error
}

// Package browsertest provides an in-memory PageAutomationDriver that serves
// HTML fixtures and scripted actions, for tests that must not start Chrome.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/harvester/internal/interfaces"
)

// ActionFunc reacts to an action, usually by replacing the page content.
type ActionFunc func(d *Driver, action interfaces.Action) error

// EvaluateFunc answers Evaluate calls.
type EvaluateFunc func(script string) (interface{}, error)

// Driver is a scripted fake browser. It is safe for concurrent use.
type Driver struct {
	mu          sync.Mutex
	pages       map[string]string
	navErrors   map[string]error
	handlers    map[string]ActionFunc
	values      map[string]string
	content     string
	currentURL  string
	navigations []string
	actions     []interfaces.Action
	closeCount  int
	evaluate    EvaluateFunc
}

var _ interfaces.PageAutomationDriver = (*Driver)(nil)

// New returns an empty driver.
func New() *Driver {
	return &Driver{
		pages:     make(map[string]string),
		navErrors: make(map[string]error),
		handlers:  make(map[string]ActionFunc),
		values:    make(map[string]string),
	}
}

// AddPage serves html at url.
func (d *Driver) AddPage(url, html string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = html
	return d
}

// FailNavigation makes navigation to url return err.
func (d *Driver) FailNavigation(url string, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navErrors[url] = err
	return d
}

// OnAction registers fn for actions of kind on selector.
func (d *Driver) OnAction(kind interfaces.ActionKind, selector string, fn ActionFunc) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerKey(kind, selector)] = fn
	return d
}

// OnEvaluate sets the Evaluate responder.
func (d *Driver) OnEvaluate(fn EvaluateFunc) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluate = fn
	return d
}

// SetContent replaces the current document.
func (d *Driver) SetContent(html string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = html
}

// Content returns the current document.
func (d *Driver) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// Value returns the last value set on selector.
func (d *Driver) Value(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[selector]
}

// Navigations returns every navigated URL in order.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// Actions returns every performed action in order.
func (d *Driver) Actions() []interfaces.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]interfaces.Action(nil), d.actions...)
}

// CloseCount returns how many times Close was called.
func (d *Driver) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.navigations = append(d.navigations, url)
	if err, ok := d.navErrors[url]; ok {
		return err
	}
	html, ok := d.pages[url]
	if !ok {
		return &interfaces.NavigationError{URL: url, StatusCode: 404}
	}
	d.content = html
	d.currentURL = url
	return nil
}

func (d *Driver) Extract(ctx context.Context, spec interfaces.ExtractSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	content := d.content
	d.mu.Unlock()

	sel, err := find(content, spec.Selector)
	if err != nil {
		return "", &interfaces.ExtractionError{Selector: spec.Selector, Cause: err}
	}
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", &interfaces.ExtractionError{Selector: spec.Selector, Cause: err}
	}
	return html, nil
}

func (d *Driver) Act(ctx context.Context, action interfaces.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	content := d.content
	d.actions = append(d.actions, action)
	handler := d.handlers[handlerKey(action.Kind, action.Selector)]
	d.mu.Unlock()

	if _, err := find(content, action.Selector); err != nil {
		return &interfaces.ExtractionError{Selector: action.Selector, Cause: err}
	}

	if action.Kind == interfaces.ActionSetValue {
		d.mu.Lock()
		d.values[action.Selector] = action.Value
		d.mu.Unlock()
	}

	if handler != nil {
		return handler(d, action)
	}
	return nil
}

func (d *Driver) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	fn := d.evaluate
	d.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("evaluate not scripted")
	}
	result, err := fn(script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCount++
	return nil
}

// find returns the first match of selector in html.
func find(html, selector string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, interfaces.ErrElementNotFound
	}
	return sel, nil
}

func handlerKey(kind interfaces.ActionKind, selector string) string {
	return string(kind) + "|" + selector
}

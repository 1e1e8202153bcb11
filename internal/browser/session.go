// Package browser owns the headless browser session used to drive the portal.
// Every primitive is followed by a randomized pause so callers never sleep.
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/timing"
)

// SessionConfig controls pacing between browser primitives
type SessionConfig struct {
	ActionDelay  time.Duration
	ActionJitter float64
	SettleDelay  time.Duration
	SettleJitter float64

	// MaxNavigationsPerMinute caps page loads. 0 disables the ceiling.
	MaxNavigationsPerMinute int
}

// NewSessionConfig builds pacing settings from the [timing] and [browser] sections
func NewSessionConfig(t common.TimingConfig, b common.BrowserConfig) SessionConfig {
	return SessionConfig{
		ActionDelay:             common.ParseDurationOr(t.ActionDelay, 1200*time.Millisecond),
		ActionJitter:            t.ActionJitter,
		SettleDelay:             common.ParseDurationOr(t.SettleDelay, 2500*time.Millisecond),
		SettleJitter:            t.SettleJitter,
		MaxNavigationsPerMinute: b.MaxNavigationsPerMinute,
	}
}

// Session is the paced controller for one browser tab. It is not meant for
// concurrent use; calls are serialized.
type Session struct {
	driver  interfaces.PageAutomationDriver
	timing  *timing.Policy
	limiter *rate.Limiter
	config  SessionConfig
	logger  arbor.ILogger

	mu         sync.Mutex
	closeOnce  sync.Once
	closed     atomic.Bool
	closeCount atomic.Int32
	closeErr   error
}

var _ interfaces.PageSession = (*Session)(nil)

// NewSession wraps driver with the pacing policy
func NewSession(driver interfaces.PageAutomationDriver, policy *timing.Policy, config SessionConfig, logger arbor.ILogger) *Session {
	s := &Session{
		driver: driver,
		timing: policy,
		config: config,
		logger: logger,
	}
	if config.MaxNavigationsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.MaxNavigationsPerMinute)), 1)
	}
	return s
}

// Navigate loads url and paces afterwards
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return interfaces.ErrSessionClosed
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := s.driver.Navigate(ctx, url); err != nil {
		var navErr *interfaces.NavigationError
		if errors.As(err, &navErr) {
			return err
		}
		return &interfaces.NavigationError{URL: url, Cause: err}
	}

	s.logger.Debug().
		Str("url", url).
		Dur("elapsed", time.Since(start)).
		Msg("Page loaded")

	return s.pace(ctx)
}

// RunInPage extracts the fragment described by spec and paces afterwards
func (s *Session) RunInPage(ctx context.Context, spec interfaces.ExtractSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return "", interfaces.ErrSessionClosed
	}

	html, err := s.driver.Extract(ctx, spec)
	if err != nil {
		return "", asExtractionError(spec.Selector, err)
	}

	return html, s.pace(ctx)
}

// PerformAction runs a simulated user action and paces afterwards
func (s *Session) PerformAction(ctx context.Context, action interfaces.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return interfaces.ErrSessionClosed
	}

	if err := s.driver.Act(ctx, action); err != nil {
		return asExtractionError(action.Selector, err)
	}

	s.logger.Debug().
		Str("action", string(action.Kind)).
		Str("selector", action.Selector).
		Msg("Action performed")

	return s.pace(ctx)
}

// Settle waits for asynchronous page updates
func (s *Session) Settle(ctx context.Context) error {
	return s.timing.Delay(ctx, s.config.SettleDelay, s.config.SettleJitter)
}

func (s *Session) pace(ctx context.Context) error {
	return s.timing.Delay(ctx, s.config.ActionDelay, s.config.ActionJitter)
}

// Close releases the driver exactly once. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeCount.Add(1)
		s.closeErr = s.driver.Close()
		s.logger.Debug().Msg("Browser session closed")
	})
	return s.closeErr
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// CloseCount returns how many times the driver was closed
func (s *Session) CloseCount() int {
	return int(s.closeCount.Load())
}

func asExtractionError(selector string, err error) error {
	var extErr *interfaces.ExtractionError
	if errors.As(err, &extErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &interfaces.ExtractionError{Selector: selector, Cause: err}
}

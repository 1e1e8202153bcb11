// Package timing produces randomized, human-like delays between browser
// actions. The random source is pluggable so tests can use a fixed seed.
package timing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// DefaultFloor is the shortest delay a policy ever produces.
const DefaultFloor = 50 * time.Millisecond

// Source yields uniformly distributed values in [0, 1).
type Source interface {
	Float64() float64
}

// SleepFunc suspends the caller for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy draws delays as base scaled by a factor in
// [1 - jitter/2, 1 + jitter/2], never below its floor.
type Policy struct {
	mu    sync.Mutex
	src   Source
	floor time.Duration
	sleep SleepFunc
}

// New returns a policy backed by a time-seeded random source.
func New() *Policy {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a deterministic policy.
func NewSeeded(seed int64) *Policy {
	return NewWithSource(rand.New(rand.NewSource(seed)))
}

// NewWithSource returns a policy drawing factors from src.
func NewWithSource(src Source) *Policy {
	return &Policy{
		src:   src,
		floor: DefaultFloor,
		sleep: Sleep,
	}
}

// WithFloor sets the minimum delay. Non-positive values keep the default.
func (p *Policy) WithFloor(floor time.Duration) *Policy {
	if floor > 0 {
		p.floor = floor
	}
	return p
}

// WithSleeper replaces the function used to wait. Tests use it to record
// delays without blocking.
func (p *Policy) WithSleeper(fn SleepFunc) *Policy {
	if fn != nil {
		p.sleep = fn
	}
	return p
}

// Floor returns the minimum delay.
func (p *Policy) Floor() time.Duration {
	return p.floor
}

// Duration draws one delay. Jitter is clamped to [0, 2].
func (p *Policy) Duration(base time.Duration, jitter float64) time.Duration {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 2 {
		jitter = 2
	}

	p.mu.Lock()
	r := p.src.Float64()
	p.mu.Unlock()

	factor := 1 - jitter/2 + r*jitter
	d := time.Duration(float64(base) * factor)
	if d < p.floor {
		d = p.floor
	}
	return d
}

// Delay waits for a drawn duration. It returns ctx.Err() if the context
// ends first.
func (p *Policy) Delay(ctx context.Context, base time.Duration, jitter float64) error {
	return p.sleep(ctx, p.Duration(base, jitter))
}

// Sleep waits for d with context cancellation support.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

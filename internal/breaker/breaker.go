package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"murmur/internal/errclass"
	"murmur/internal/services"
)

// State names the breaker position for diagnostics.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	// DefaultFailureThreshold opens the breaker after this many consecutive failures.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long the breaker stays open before admitting a probe.
	DefaultResetTimeout = 30 * time.Second
)

// Breaker wraps calls to one remote dependency. All state is guarded by the
// mutex and mutated only inside Execute; callers never touch raw counters.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	lastFailure         time.Time
	open                bool
	probing             bool
	histogram           map[errclass.Category]int
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithThreshold overrides the consecutive-failure threshold.
func WithThreshold(threshold int) Option {
	return func(b *Breaker) {
		if threshold > 0 {
			b.threshold = threshold
		}
	}
}

// WithResetTimeout overrides the open-state cooldown.
func WithResetTimeout(timeout time.Duration) Option {
	return func(b *Breaker) {
		if timeout > 0 {
			b.resetTimeout = timeout
		}
	}
}

// WithClock overrides time observation (used in tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New builds a breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		threshold:    DefaultFailureThreshold,
		resetTimeout: DefaultResetTimeout,
		now:          time.Now,
		histogram:    make(map[errclass.Category]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the breaker. While the breaker is open, calls fail
// fast with a circuit-open error without invoking fn; once the reset timeout
// has elapsed exactly one probe is admitted and its outcome decides the next
// state. Success resets the consecutive-failure counter but not the
// histogram.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.now().Sub(b.lastFailure) < b.resetTimeout {
		return services.Wrap(services.ErrCircuitOpen, b.name, "execute",
			fmt.Sprintf("circuit breaker open, retry after %s", b.resetTimeout), nil)
	}
	if b.probing {
		return services.Wrap(services.ErrCircuitOpen, b.name, "execute",
			"circuit breaker half-open, probe already in flight", nil)
	}
	b.probing = true
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.consecutiveFailures = 0
		b.open = false
		return
	}

	b.consecutiveFailures++
	b.lastFailure = b.now()
	b.histogram[errclass.Classify(err).Category]++
	if b.consecutiveFailures >= b.threshold {
		b.open = true
	}
}

// Snapshot captures breaker state for diagnostics and batch pacing.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
	Histogram           map[errclass.Category]int
}

// Snapshot returns a copy of the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := StateClosed
	if b.open {
		state = StateOpen
		if b.now().Sub(b.lastFailure) >= b.resetTimeout {
			state = StateHalfOpen
		}
	}

	histogram := make(map[errclass.Category]int, len(b.histogram))
	for category, count := range b.histogram {
		histogram[category] = count
	}
	return Snapshot{
		Name:                b.name,
		State:               state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
		Histogram:           histogram,
	}
}

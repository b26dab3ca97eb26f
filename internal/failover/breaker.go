// internal/failover/breaker.go
package failover

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/provider"
)

// breakerState is one provider's circuit position.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "halfOpen"
	default:
		return "unknown"
	}
}

type circuit struct {
	state        breakerState
	failures     int
	successes    int
	lastFailTime time.Time
}

// Breaker tracks a circuit per provider so a backend that keeps failing
// stops receiving failover probes until its reset window elapses.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	circuits map[provider.Type]*circuit
	logger   *zap.Logger
	now      func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets failures before a circuit opens.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets half-open successes before a circuit closes.
func WithSuccessThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.successThreshold = n }
}

// WithResetTimeout sets how long an open circuit blocks before probing.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.resetTimeout = d }
}

// NewBreaker creates a per-provider circuit breaker.
func NewBreaker(logger *zap.Logger, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold: 5,
		successThreshold: 1,
		resetTimeout:     60 * time.Second,
		circuits:         make(map[provider.Type]*circuit),
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) circuitFor(t provider.Type) *circuit {
	c, ok := b.circuits[t]
	if !ok {
		c = &circuit{state: stateClosed}
		b.circuits[t] = c
	}
	return c
}

// Allow reports whether the provider may receive a failover attempt. An
// open circuit transitions to half-open once the reset window elapses,
// letting one probe through.
func (b *Breaker) Allow(t provider.Type) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(t)
	if c.state == stateOpen {
		if b.now().Sub(c.lastFailTime) > b.resetTimeout {
			c.state = stateHalfOpen
			c.failures = 0
			c.successes = 0
			b.logger.Info("circuit half-open", zap.String("provider", t.String()))
		} else {
			return false
		}
	}
	return true
}

// RecordSuccess closes a half-open circuit once enough probes pass.
func (b *Breaker) RecordSuccess(t provider.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(t)
	c.successes++
	c.failures = 0

	if c.state == stateHalfOpen && c.successes >= b.successThreshold {
		c.state = stateClosed
		b.logger.Info("circuit closed", zap.String("provider", t.String()))
	}
}

// RecordFailure opens the circuit at the failure threshold. A half-open
// circuit re-opens on the first failed probe.
func (b *Breaker) RecordFailure(t provider.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(t)
	c.failures++
	c.successes = 0
	c.lastFailTime = b.now()

	if c.state == stateHalfOpen || c.failures >= b.failureThreshold {
		if c.state != stateOpen {
			b.logger.Warn("circuit opened",
				zap.String("provider", t.String()),
				zap.Int("failures", c.failures))
		}
		c.state = stateOpen
	}
}

// State returns the provider's current circuit state name.
func (b *Breaker) State(t provider.Type) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitFor(t).state.String()
}

// Reset closes the provider's circuit.
func (b *Breaker) Reset(t provider.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits[t] = &circuit{state: stateClosed}
}

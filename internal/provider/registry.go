// internal/provider/registry.go
package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
)

const (
	latencyAlpha     = 0.3 // EWMA smoothing for observed latency
	reliabilityDecay = 0.9
	degradedAfter    = 3 // consecutive failures before health drops
)

// Registry tracks every registered backend and which one is current.
// Health and score mutate continuously; descriptors are never deleted,
// only deactivated.
type Registry struct {
	mu          sync.RWMutex
	providers   map[Type]Provider
	descriptors map[Type]*Descriptor
	current     Type
	hasCurrent  bool

	activateTimeout   time.Duration
	deactivateTimeout time.Duration
	logger            *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithActivateTimeout bounds provider activation hooks.
func WithActivateTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.activateTimeout = d }
}

// WithDeactivateTimeout bounds provider deactivation hooks.
func WithDeactivateTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.deactivateTimeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		providers:         make(map[Type]Provider),
		descriptors:       make(map[Type]*Descriptor),
		activateTimeout:   30 * time.Second,
		deactivateTimeout: 10 * time.Second,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider. Idempotent by type: re-registration refreshes
// capabilities and static signals but preserves accumulated health, score
// and failure counters.
func (r *Registry) Register(p Provider, signals Signals) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := p.Type()
	r.providers[t] = p

	if existing, ok := r.descriptors[t]; ok {
		existing.Categories = p.Categories()
		existing.Signals.CostPerOp = signals.CostPerOp
		existing.Signals.GasFee = signals.GasFee
		existing.Signals.SecurityRating = signals.SecurityRating
		existing.Signals.GeographicAffinity = signals.GeographicAffinity
		r.logger.Debug("provider re-registered", zap.Stringer("provider", t))
		return
	}

	if signals.SuccessRatio == 0 {
		signals.SuccessRatio = 1.0
	}
	if signals.Uptime == 0 {
		signals.Uptime = 1.0
	}

	r.descriptors[t] = &Descriptor{
		Type:         t,
		Categories:   p.Categories(),
		Health:       HealthDeactivated,
		Signals:      signals,
		RegisteredAt: time.Now(),
	}
	r.logger.Info("provider registered",
		zap.Stringer("provider", t),
		zap.Uint8("categories", uint8(p.Categories())))
}

// Activate invokes the backend's activation hook under the configured
// timeout. On timeout or failure the provider is marked Unreachable and an
// error Result is returned; Activate itself never hangs or panics.
func (r *Registry) Activate(ctx context.Context, t Type) *core.Result[bool] {
	p, ok := r.Get(t)
	if !ok {
		return core.Failf[bool]("provider %s is not registered", t)
	}

	res := r.invokeHook(ctx, r.activateTimeout, func(hookCtx context.Context) *core.Result[bool] {
		return p.ActivateProvider(hookCtx)
	})
	if res.IsError {
		if errors.Is(res.Err, context.Canceled) {
			r.logger.Warn("provider activation cancelled", zap.Stringer("provider", t))
			return res
		}
		r.markHealth(t, HealthUnreachable, res.Err)
		r.logger.Warn("provider activation failed",
			zap.Stringer("provider", t),
			zap.String("reason", res.Message))
		return res
	}

	r.markHealth(t, HealthActive, nil)

	r.mu.Lock()
	if !r.hasCurrent {
		r.current = t
		r.hasCurrent = true
	}
	r.mu.Unlock()

	r.logger.Info("provider activated", zap.Stringer("provider", t))
	return res
}

// Deactivate invokes the backend's deactivation hook under its timeout and
// marks the descriptor Deactivated regardless of hook outcome.
func (r *Registry) Deactivate(ctx context.Context, t Type) *core.Result[bool] {
	p, ok := r.Get(t)
	if !ok {
		return core.Failf[bool]("provider %s is not registered", t)
	}

	res := r.invokeHook(ctx, r.deactivateTimeout, func(hookCtx context.Context) *core.Result[bool] {
		return p.DeactivateProvider(hookCtx)
	})

	r.markHealth(t, HealthDeactivated, res.Err)
	r.logger.Info("provider deactivated",
		zap.Stringer("provider", t),
		zap.Bool("cleanShutdown", !res.IsError))
	return res
}

// invokeHook bounds an adapter lifecycle call. The hook runs in its own
// goroutine so a stuck adapter cannot wedge the registry.
func (r *Registry) invokeHook(ctx context.Context, timeout time.Duration,
	hook func(context.Context) *core.Result[bool]) *core.Result[bool] {

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *core.Result[bool], 1)
	go func() {
		done <- hook(hookCtx)
	}()

	select {
	case res := <-done:
		return res
	case <-hookCtx.Done():
		// The caller going away is not the adapter being slow.
		if errors.Is(hookCtx.Err(), context.Canceled) {
			return core.FailErr[bool](hookCtx.Err(), "provider lifecycle hook cancelled")
		}
		return core.FailErr[bool](core.ErrAdapterTimeout, "provider lifecycle hook timed out")
	}
}

// Current returns the presently active provider descriptor.
func (r *Registry) Current() (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.hasCurrent {
		return Descriptor{}, false
	}
	d, ok := r.descriptors[r.current]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// SetCurrent switches the active provider. The target must be Active.
func (r *Registry) SetCurrent(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[t]
	if !ok {
		return core.ErrNoProviderAvailable
	}
	if d.Health != HealthActive {
		return core.ErrProviderNotActive
	}
	r.current = t
	r.hasCurrent = true
	r.logger.Info("current provider switched", zap.Stringer("provider", t))
	return nil
}

// Get returns the registered provider instance.
func (r *Registry) Get(t Type) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	return p, ok
}

// Describe returns a copy of the descriptor for one provider.
func (r *Registry) Describe(t Type) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[t]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Snapshot returns descriptor copies sorted by ascending type.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// RecordSuccess folds a completed operation into the provider's signals:
// latency feeds the moving average, reliability and uptime recover.
func (r *Registry) RecordSuccess(t Type, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[t]
	if !ok {
		return
	}

	ms := float64(latency.Milliseconds())
	if d.Signals.LatencyMS == 0 {
		d.Signals.LatencyMS = ms
	} else {
		d.Signals.LatencyMS = d.Signals.LatencyMS*(1-latencyAlpha) + ms*latencyAlpha
	}
	d.Signals.SuccessRatio = d.Signals.SuccessRatio*reliabilityDecay + (1 - reliabilityDecay)
	d.Signals.Uptime = d.Signals.Uptime*reliabilityDecay + (1 - reliabilityDecay)
	d.ConsecutiveFailures = 0
	d.LastError = nil

	if d.Health == HealthDegraded {
		d.Health = HealthActive
	}
}

// RecordFailure decays reliability and trips Degraded once failures stack.
func (r *Registry) RecordFailure(t Type, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[t]
	if !ok {
		return
	}

	d.Signals.SuccessRatio *= reliabilityDecay
	d.Signals.Uptime *= reliabilityDecay
	d.ConsecutiveFailures++
	d.LastError = err

	if d.Health == HealthActive && d.ConsecutiveFailures >= degradedAfter {
		d.Health = HealthDegraded
		r.logger.Warn("provider degraded",
			zap.Stringer("provider", t),
			zap.Int("consecutiveFailures", d.ConsecutiveFailures),
			zap.Error(err))
	}
}

// MarkUnreachable flags a provider after a timeout or connection loss.
func (r *Registry) MarkUnreachable(t Type, err error) {
	r.markHealth(t, HealthUnreachable, err)
}

func (r *Registry) markHealth(t Type, h Health, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[t]
	if !ok {
		return
	}
	d.Health = h
	if err != nil {
		d.LastError = err
	}
	if h == HealthActive {
		d.ConsecutiveFailures = 0
		d.LastError = nil
	}
}

// UpdateScore writes a recomputed fitness score.
func (r *Registry) UpdateScore(t Type, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.descriptors[t]; ok {
		d.Score = score
	}
}

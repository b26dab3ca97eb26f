// internal/failover/orchestrator.go
package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/notify"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/replication"
)

// Orchestrator walks fallback chains when a primary provider fails. A walk
// only starts when a configured trigger matches the failure; a failing
// operation with no matching trigger returns its original error untouched.
type Orchestrator struct {
	store    *config.Store
	registry *provider.Registry
	selector *policy.Selector
	breaker  *Breaker
	quota    *replication.Quota
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *zap.Logger

	hopDelay    time.Duration
	maxHopDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHopDelay sets the initial and maximum inter-hop backoff. Zero
// disables the delay.
func WithHopDelay(initial, max time.Duration) Option {
	return func(o *Orchestrator) { o.hopDelay = initial; o.maxHopDelay = max }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(o *Orchestrator) { o.breaker = b }
}

// NewOrchestrator creates a failover orchestrator.
func NewOrchestrator(store *config.Store, registry *provider.Registry,
	selector *policy.Selector, notifier notify.Notifier,
	collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		store:       store,
		registry:    registry,
		selector:    selector,
		breaker:     NewBreaker(logger),
		quota:       replication.NewQuota(store.Current().Failover.MaxFailoversPerMonth),
		notifier:    notifier,
		metrics:     collector,
		logger:      logger,
		hopDelay:    100 * time.Millisecond,
		maxHopDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Breaker exposes the circuit breaker for outcome recording by callers.
func (o *Orchestrator) Breaker() *Breaker { return o.breaker }

// classify maps a failure to the error class names trigger conditions
// match against.
func classify(err error) string {
	switch {
	case errors.Is(err, core.ErrAdapterTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, core.ErrProviderUnreachable):
		return "unreachable"
	case errors.Is(err, core.ErrQuotaExceeded):
		return "quota"
	default:
		var ae *core.AdapterError
		if errors.As(err, &ae) {
			return "adapterError"
		}
		return "error"
	}
}

// ShouldFailover reports whether any enabled trigger matches the failure.
// No enabled trigger means failover never fires.
func ShouldFailover(rules config.FailoverRules, failed provider.Type, cause error) bool {
	if !rules.IsEnabled || cause == nil {
		return false
	}
	class := classify(cause)
	for _, tr := range rules.Triggers {
		if !tr.IsEnabled {
			continue
		}
		switch tr.Condition.Type {
		case "any":
			return true
		case "errorClass":
			if tr.Condition.Value == class {
				return true
			}
		case "providerType":
			if tr.Condition.Value == failed.String() {
				return true
			}
		}
	}
	return false
}

// escalationFor maps the hop index to a severity. The level rises one
// step per hop and saturates at Critical.
func escalationFor(hop int) notify.Level {
	switch hop {
	case 0:
		return notify.LevelLow
	case 1:
		return notify.LevelMedium
	case 2:
		return notify.LevelHigh
	default:
		return notify.LevelCritical
	}
}

// Run walks the fallback chain for a failed operation. Each hop retries
// the operation against the next candidate; the escalation level rises
// per hop and fires a notification at every boundary it crosses. On
// success in Auto mode the serving provider becomes current. Exhaustion
// returns every cause collected along the walk, the original included.
func Run[T any](ctx context.Context, o *Orchestrator, failed provider.Type,
	cause error, op func(context.Context, provider.Provider) *core.Result[T]) *core.Result[T] {

	rules := o.store.Current().Failover

	if !ShouldFailover(rules, failed, cause) {
		return core.FailErr[T](cause, fmt.Sprintf("%s failed and no failover trigger matches", failed))
	}

	if !o.quota.Allow() {
		o.notify(ctx, notify.LevelHigh, failed.String(), nil,
			"monthly failover quota exhausted, failing without fallback")
		return core.FailErr[T](fmt.Errorf("%w: %w", core.ErrQuotaExceeded, cause),
			"failover suppressed by monthly quota")
	}

	chain := o.selector.SelectFailoverChain(rules, failed)

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = o.hopDelay
	delay.MaxInterval = o.maxHopDelay

	causes := []error{cause}
	lastLevel := notify.Level(-1)
	timeout := o.store.Current().Timeouts.MethodCall()
	hops := 0
	quotaHeld := false

	cancelled := func() *core.Result[T] {
		o.metrics.RecordFailover(failed.String(), "cancelled", hops)
		return core.FailErr[T](&core.FailoverExhaustedError{Causes: causes},
			"failover abandoned, request cancelled")
	}

	for _, candidate := range chain {
		// A gone caller must not start new hops; abandoning here keeps
		// the remaining candidates' health and breaker state untouched.
		if err := ctx.Err(); err != nil {
			causes = append(causes, err)
			return cancelled()
		}

		if !o.breaker.Allow(candidate.Type) {
			o.logger.Debug("failover skips open circuit",
				zap.String("provider", candidate.Type.String()))
			continue
		}

		// The budget unit is spent on the first attempted hop, not on
		// walks that never reach one.
		if !quotaHeld {
			if !o.quota.TryAcquire() {
				o.notify(ctx, notify.LevelHigh, failed.String(), nil,
					"monthly failover quota exhausted, failing without fallback")
				return core.FailErr[T](fmt.Errorf("%w: %w", core.ErrQuotaExceeded, cause),
					"failover suppressed by monthly quota")
			}
			quotaHeld = true
			o.metrics.SetQuotaRemaining("failover", o.quota.Remaining())
		}

		if level := escalationFor(hops); level != lastLevel {
			o.escalate(ctx, rules, level, failed, candidate.Type)
			lastLevel = level
		}

		if hops > 0 && o.hopDelay > 0 {
			sleep := delay.NextBackOff()
			if sleep == backoff.Stop {
				sleep = o.maxHopDelay
			}
			select {
			case <-ctx.Done():
				causes = append(causes, ctx.Err())
				return cancelled()
			case <-time.After(sleep):
			}
		}
		hops++

		p, ok := o.registry.Get(candidate.Type)
		if !ok {
			continue
		}

		start := time.Now()
		res := func() *core.Result[T] {
			hopCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				hopCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return op(hopCtx, p)
		}()
		if res.Succeeded() {
			o.registry.RecordSuccess(candidate.Type, time.Since(start))
			o.breaker.RecordSuccess(candidate.Type)
			o.metrics.RecordFailover(failed.String(), "recovered", hops)

			if rules.Mode == "Auto" {
				if err := o.registry.SetCurrent(candidate.Type); err != nil {
					o.logger.Warn("fallback succeeded but could not become current",
						zap.String("provider", candidate.Type.String()),
						zap.Error(err))
				}
			}

			o.logger.Info("failover recovered",
				zap.String("from", failed.String()),
				zap.String("to", candidate.Type.String()),
				zap.Int("hops", hops))

			res.AddWarning(fmt.Sprintf("served by %s after %s failed", candidate.Type, failed))
			return res
		}

		hopErr := res.Err
		if hopErr == nil {
			hopErr = fmt.Errorf("%s: %s", candidate.Type, res.Message)
		}
		causes = append(causes, hopErr)

		// A hop that died with the caller's context says nothing about
		// the candidate's health.
		if ctx.Err() != nil {
			return cancelled()
		}
		o.registry.RecordFailure(candidate.Type, hopErr)
		o.breaker.RecordFailure(candidate.Type)
	}

	o.metrics.RecordFailover(failed.String(), "exhausted", hops)
	o.escalate(ctx, rules, notify.LevelCritical, failed, provider.TypeDefault)

	return core.FailErr[T](&core.FailoverExhaustedError{Causes: causes},
		fmt.Sprintf("all %d fallback candidates failed", hops))
}

// escalate fires the configured notification for a severity boundary.
func (o *Orchestrator) escalate(ctx context.Context, rules config.FailoverRules,
	level notify.Level, failed, next provider.Type) {

	message := fmt.Sprintf("failover from %s escalated to %s", failed, level)
	var channels []string
	for _, er := range rules.EscalationRules {
		if notify.ParseLevel(er.Severity) == level {
			if er.Notification.Message != "" {
				message = er.Notification.Message
			}
			channels = er.Notification.Channels
			break
		}
	}

	o.notify(ctx, level, failed.String(), channels, message)

	if next != provider.TypeDefault {
		o.logger.Warn("failover escalation",
			zap.String("failed", failed.String()),
			zap.String("next", next.String()),
			zap.String("severity", level.String()))
	}
}

func (o *Orchestrator) notify(ctx context.Context, level notify.Level,
	providerName string, channels []string, message string) {

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_ = o.notifier.Notify(nctx, notify.Event{
		Level:    level,
		Source:   "failover",
		Provider: providerName,
		Channels: channels,
		Message:  message,
		Time:     time.Now().UTC(),
	})
}

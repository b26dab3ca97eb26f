// internal/replication/orchestrator.go
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/notify"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Status tracks a fan-out through its lifecycle. Skipped and the three
// outcome states are terminal; Queued and InFlight are transitions seen
// in metrics and logs only.
type Status int

const (
	StatusSkipped Status = iota
	StatusQueued
	StatusInFlight
	StatusCompleted
	StatusPartiallyFailed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusQueued:
		return "queued"
	case StatusInFlight:
		return "inFlight"
	case StatusCompleted:
		return "completed"
	case StatusPartiallyFailed:
		return "partiallyFailed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Plan is the synchronous half of a replication: the gate decisions and
// the target list, computed before the primary operation returns. A plan
// mirrors either a save (Entity set) or a deletion (Delete set).
type Plan struct {
	Entity     core.Entity
	Primary    provider.Type
	Targets    []provider.Descriptor
	Skipped    bool
	SkipReason string

	Delete     bool
	DeleteID   uuid.UUID
	SoftDelete bool
}

// TargetOutcome is one mirror write's result.
type TargetOutcome struct {
	Provider provider.Type
	Err      error
}

// Report summarizes a finished fan-out.
type Report struct {
	Status   Status
	Outcomes []TargetOutcome
}

// Orchestrator mirrors successful writes to secondary providers. Planning
// is synchronous and cheap; execution is asynchronous and never blocks or
// fails the primary write.
type Orchestrator struct {
	store    *config.Store
	registry *provider.Registry
	selector *policy.Selector
	quota    *Quota
	notifier notify.Notifier
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	logger   *zap.Logger

	now      func() time.Time
	inflight sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRateLimit caps mirror writes per second across all fan-outs.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Orchestrator) { o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithClock overrides the schedule clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now; o.quota.now = now }
}

// NewOrchestrator creates a replication orchestrator.
func NewOrchestrator(store *config.Store, registry *provider.Registry,
	selector *policy.Selector, notifier notify.Notifier,
	collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		store:    store,
		registry: registry,
		selector: selector,
		quota:    NewQuota(store.Current().Replication.MaxReplicationsPerMonth),
		notifier: notifier,
		metrics:  collector,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan evaluates the replication gates for a committed write. A plan that
// skips carries the reason; skipping is a warning condition, never an
// error, and costs no quota. A plan that passes holds one reserved quota
// unit, so racing writes cannot overshoot the monthly ceiling.
func (o *Orchestrator) Plan(primary provider.Type, entity core.Entity) *Plan {
	p := &Plan{Entity: entity, Primary: primary}
	return o.gate(p, string(entity.EntityKind()))
}

// PlanDelete evaluates the gates for propagating a deletion to replicas.
// The same trigger, data-type, schedule, and quota rules apply.
func (o *Orchestrator) PlanDelete(primary provider.Type, kind core.Kind,
	id uuid.UUID, softDelete bool) *Plan {

	p := &Plan{Primary: primary, Delete: true, DeleteID: id, SoftDelete: softDelete}
	return o.gate(p, string(kind))
}

func (o *Orchestrator) gate(p *Plan, kind string) *Plan {
	rules := o.store.Current().Replication

	skip := func(reason string) *Plan {
		p.Skipped = true
		p.SkipReason = reason
		o.logger.Debug("replication skipped",
			zap.String("primary", p.Primary.String()),
			zap.String("reason", reason))
		return p
	}

	if !rules.IsEnabled {
		return skip("replication is disabled")
	}
	if rules.Mode != "Auto" {
		return skip("replication mode is manual")
	}

	if !triggersMatch(rules.Triggers, kind) {
		return skip(fmt.Sprintf("no replication trigger matches data type %s", kind))
	}
	if !dataTypeAllowed(rules.DataTypeRules, kind) {
		return skip(fmt.Sprintf("data type %s excluded from replication", kind))
	}
	if !insideSchedule(rules.ScheduleRules, o.now()) {
		return skip("outside replication schedule window")
	}

	if !o.quota.TryAcquire() {
		o.notifyQuota()
		return skip("monthly replication quota exhausted")
	}

	p.Targets = o.selector.SelectReplicationTargets(rules, p.Primary)
	if len(p.Targets) == 0 {
		o.quota.Release(1)
		return skip("no eligible replication target")
	}
	return p
}

// Execute runs a plan's mirror writes in the background. The returned
// channel delivers exactly one Report and is then closed; callers may
// discard it. The fan-out runs to completion even if the request context
// that produced the plan is cancelled.
func (o *Orchestrator) Execute(ctx context.Context, p *Plan) <-chan Report {
	ch := make(chan Report, 1)

	if p == nil || p.Skipped || len(p.Targets) == 0 {
		ch <- Report{Status: StatusSkipped}
		close(ch)
		return ch
	}

	// The quota unit was reserved when the plan passed its gates.
	o.metrics.SetQuotaRemaining("replication", o.quota.Remaining())
	o.metrics.RecordReplication(StatusQueued.String())

	bg := context.WithoutCancel(ctx)
	timeout := o.store.Current().Timeouts.MethodCall()

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer close(ch)
		ch <- o.fanOut(bg, p, timeout)
	}()
	return ch
}

// Drain blocks until every in-flight fan-out has finished.
func (o *Orchestrator) Drain() {
	o.inflight.Wait()
}

func (o *Orchestrator) fanOut(ctx context.Context, p *Plan, timeout time.Duration) Report {
	o.logger.Debug("replication fan-out started",
		zap.String("primary", p.Primary.String()),
		zap.String("status", StatusInFlight.String()),
		zap.Int("targets", len(p.Targets)))

	var mu sync.Mutex
	outcomes := make([]TargetOutcome, 0, len(p.Targets))

	workers := pool.New().WithMaxGoroutines(len(p.Targets))
	for _, target := range p.Targets {
		t := target.Type
		workers.Go(func() {
			err := o.mirror(ctx, t, p, timeout)

			mu.Lock()
			outcomes = append(outcomes, TargetOutcome{Provider: t, Err: err})
			mu.Unlock()

			if err != nil {
				o.registry.RecordFailure(t, err)
				o.metrics.RecordReplicationTarget(t.String(), "error")
				o.logger.Warn("replication target write failed",
					zap.String("target", t.String()),
					zap.Error(err))
			} else {
				o.metrics.RecordReplicationTarget(t.String(), "ok")
			}
		})
	}
	workers.Wait()

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
		}
	}

	status := StatusCompleted
	switch {
	case failed == len(outcomes):
		status = StatusFailed
	case failed > 0:
		status = StatusPartiallyFailed
	}

	o.metrics.RecordReplication(status.String())
	o.logger.Info("replication fan-out finished",
		zap.String("primary", p.Primary.String()),
		zap.Int("targets", len(outcomes)),
		zap.Int("failed", failed),
		zap.String("status", status.String()))

	return Report{Status: status, Outcomes: outcomes}
}

func (o *Orchestrator) mirror(ctx context.Context, t provider.Type,
	plan *Plan, timeout time.Duration) error {

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("replication rate limiter: %w", err)
	}

	p, ok := o.registry.Get(t)
	if !ok {
		return fmt.Errorf("replication target %s not registered", t)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := o.now()
	if plan.Delete {
		res := p.DeleteEntity(callCtx, plan.DeleteID, plan.SoftDelete)
		// A replica that never held the entity is already in the
		// desired state.
		if res.IsError && !errors.Is(res.Err, core.ErrNotFound) {
			if res.Err != nil {
				return res.Err
			}
			return fmt.Errorf("%s", res.Message)
		}
		o.registry.RecordSuccess(t, time.Since(start))
		return nil
	}

	res := p.SaveEntity(callCtx, plan.Entity)
	if res.IsError {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("%s", res.Message)
	}

	o.registry.RecordSuccess(t, time.Since(start))
	return nil
}

func (o *Orchestrator) notifyQuota() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = o.notifier.Notify(ctx, notify.Event{
		Level:   notify.LevelHigh,
		Source:  "replication",
		Message: "monthly replication quota exhausted, writes are no longer mirrored",
		Time:    o.now().UTC(),
	})
}

// triggersMatch reports whether any enabled trigger fires for the data
// type. A rule set with no enabled triggers replicates everything.
func triggersMatch(triggers []config.ReplicationTrigger, kind string) bool {
	enabled := 0
	for _, tr := range triggers {
		if !tr.IsEnabled {
			continue
		}
		enabled++
		switch tr.Condition.Type {
		case "any":
			return true
		case "dataType":
			if tr.Condition.Value == kind {
				return true
			}
		}
	}
	return enabled == 0
}

func dataTypeAllowed(rules []config.DataTypeRule, kind string) bool {
	for _, r := range rules {
		if r.DataType == kind {
			return r.Replicate
		}
	}
	return true
}

// insideSchedule reports whether now falls in any configured window. No
// windows means always eligible.
func insideSchedule(windows []config.ScheduleRule, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/failover"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/replication"
)

// Dispatcher is the single entry point for entity operations. It selects
// the primary provider, invokes it under a bounded timeout, delegates to
// failover on matching failures, and fans successful writes out to the
// replication orchestrator.
type Dispatcher struct {
	store       *config.Store
	registry    *provider.Registry
	selector    *policy.Selector
	failover    *failover.Orchestrator
	replication *replication.Orchestrator
	metrics     *metrics.Collector
	logger      *zap.Logger

	now func() time.Time
}

// New creates a dispatcher.
func New(store *config.Store, registry *provider.Registry, selector *policy.Selector,
	fo *failover.Orchestrator, repl *replication.Orchestrator,
	collector *metrics.Collector, logger *zap.Logger) *Dispatcher {

	return &Dispatcher{
		store:       store,
		registry:    registry,
		selector:    selector,
		failover:    fo,
		replication: repl,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
	}
}

// execute runs one operation against the selected primary, with failover
// and, for writes, replication. Methods cannot be generic, so the typed
// entry points funnel through this function.
func execute[T any](ctx context.Context, d *Dispatcher, opName string,
	writeEntity core.Entity, op func(context.Context, provider.Provider) *core.Result[T]) *core.Result[T] {

	opID := uuid.New()
	start := d.now()

	primRes := d.selector.SelectPrimary(provider.CategoryStorage)
	if !primRes.Succeeded() {
		d.metrics.RecordOperation(opName, "none", "noProvider", time.Since(start))
		d.logger.Error("no provider available",
			zap.String("operation", opName),
			zap.String("operationId", opID.String()))
		return core.Rewrap[T](primRes)
	}
	primary := primRes.Value.Type

	p, ok := d.registry.Get(primary)
	if !ok {
		return core.FailErr[T](core.ErrNoProviderAvailable,
			fmt.Sprintf("selected provider %s vanished from the registry", primary))
	}

	res := invoke(ctx, d.store.Current().Timeouts.MethodCall(), p, op)
	if res.Succeeded() {
		d.registry.RecordSuccess(primary, time.Since(start))
		d.metrics.RecordOperation(opName, primary.String(), "ok", time.Since(start))
		replicate(ctx, d, opID, primary, writeEntity, res)
		d.logger.Debug("operation served",
			zap.String("operation", opName),
			zap.String("operationId", opID.String()),
			zap.String("provider", primary.String()),
			zap.Duration("elapsed", time.Since(start)))
		return res
	}

	cause := res.Err
	if cause == nil {
		cause = fmt.Errorf("%s: %s", primary, res.Message)
	}

	// A miss is a valid answer, not a provider failure.
	if errors.Is(cause, core.ErrNotFound) {
		d.metrics.RecordOperation(opName, primary.String(), "miss", time.Since(start))
		return res
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: %s did not answer within the call timeout",
			core.ErrAdapterTimeout, primary)
		d.registry.MarkUnreachable(primary, cause)
	} else {
		d.registry.RecordFailure(primary, cause)
	}
	d.metrics.RecordOperation(opName, primary.String(), "error", time.Since(start))

	d.logger.Warn("primary provider failed",
		zap.String("operation", opName),
		zap.String("operationId", opID.String()),
		zap.String("provider", primary.String()),
		zap.Error(cause))

	fres := failover.Run(ctx, d.failover, primary, cause, op)
	if fres.Succeeded() {
		serving := primary
		if current, ok := d.registry.Current(); ok {
			serving = current.Type
		}
		replicate(ctx, d, opID, serving, writeEntity, fres)
	}
	return fres
}

// invoke bounds one provider call by the configured method timeout.
func invoke[T any](ctx context.Context, timeout time.Duration, p provider.Provider,
	op func(context.Context, provider.Provider) *core.Result[T]) *core.Result[T] {

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx, p)
}

// replicate plans and launches the mirror fan-out for a committed write.
// A skipped plan stamps its reason on the result as a warning; it never
// fails the write.
func replicate[T any](ctx context.Context, d *Dispatcher, opID uuid.UUID,
	primary provider.Type, entity core.Entity, res *core.Result[T]) {

	if entity == nil {
		return
	}

	plan := d.replication.Plan(primary, entity)
	if plan.Skipped {
		res.AddWarning("replication skipped: " + plan.SkipReason)
		return
	}

	d.logger.Debug("replication launched",
		zap.String("operationId", opID.String()),
		zap.String("primary", primary.String()),
		zap.Int("targets", len(plan.Targets)))
	_ = d.replication.Execute(ctx, plan)
}

// replicateDelete propagates a committed deletion to replicas so they do
// not keep serving an entity the primary no longer holds. Gated by the
// same replication rules as saves.
func (d *Dispatcher) replicateDelete(ctx context.Context, kind core.Kind,
	id uuid.UUID, softDelete bool, res *core.Result[bool]) {

	if !res.Succeeded() {
		return
	}

	primary := provider.TypeDefault
	if current, ok := d.registry.Current(); ok {
		primary = current.Type
	}

	plan := d.replication.PlanDelete(primary, kind, id, softDelete)
	if plan.Skipped {
		res.AddWarning("replication skipped: " + plan.SkipReason)
		return
	}
	_ = d.replication.Execute(ctx, plan)
}

// stampSave fills bookkeeping fields before an entity is written.
func stampSave(e core.Entity, now time.Time) {
	switch v := e.(type) {
	case *core.Avatar:
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.CreatedDate.IsZero() {
			v.CreatedDate = now
		}
		v.ModifiedDate = now
		v.Version++
	case *core.Holon:
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.CreatedDate.IsZero() {
			v.CreatedDate = now
		}
		v.ModifiedDate = now
		v.Version++
	}
}

// asAvatar narrows an entity result to an avatar result.
func asAvatar(res *core.Result[core.Entity]) *core.Result[*core.Avatar] {
	out := core.Rewrap[*core.Avatar](res)
	if !res.Succeeded() {
		return out
	}
	a, ok := res.Value.(*core.Avatar)
	if !ok {
		return core.Failf[*core.Avatar]("entity %s is not an avatar", res.Value.EntityID())
	}
	out.Value = a
	return out
}

// asHolon narrows an entity result to a holon result.
func asHolon(res *core.Result[core.Entity]) *core.Result[*core.Holon] {
	out := core.Rewrap[*core.Holon](res)
	if !res.Succeeded() {
		return out
	}
	h, ok := res.Value.(*core.Holon)
	if !ok {
		return core.Failf[*core.Holon]("entity %s is not a holon", res.Value.EntityID())
	}
	out.Value = h
	return out
}

// LoadAvatar fetches an avatar by id.
func (d *Dispatcher) LoadAvatar(ctx context.Context, id uuid.UUID) *core.Result[*core.Avatar] {
	res := execute(ctx, d, "loadAvatar", nil,
		func(ctx context.Context, p provider.Provider) *core.Result[core.Entity] {
			return p.LoadEntity(ctx, id)
		})
	return asAvatar(res)
}

// SaveAvatar persists an avatar and mirrors it per the replication rules.
func (d *Dispatcher) SaveAvatar(ctx context.Context, avatar *core.Avatar) *core.Result[*core.Avatar] {
	if avatar == nil {
		return core.Fail[*core.Avatar]("avatar must not be nil")
	}
	stampSave(avatar, d.now().UTC())

	res := execute(ctx, d, "saveAvatar", avatar,
		func(ctx context.Context, p provider.Provider) *core.Result[core.Entity] {
			return p.SaveEntity(ctx, avatar)
		})
	return asAvatar(res)
}

// DeleteAvatar removes an avatar. Soft deletion keeps the record with a
// deletion stamp; hard deletion destroys it.
func (d *Dispatcher) DeleteAvatar(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	res := execute(ctx, d, "deleteAvatar", nil,
		func(ctx context.Context, p provider.Provider) *core.Result[bool] {
			return p.DeleteEntity(ctx, id, softDelete)
		})
	d.replicateDelete(ctx, core.KindAvatar, id, softDelete, res)
	return res
}

// LoadHolon fetches a holon by id.
func (d *Dispatcher) LoadHolon(ctx context.Context, id uuid.UUID) *core.Result[*core.Holon] {
	res := execute(ctx, d, "loadHolon", nil,
		func(ctx context.Context, p provider.Provider) *core.Result[core.Entity] {
			return p.LoadEntity(ctx, id)
		})
	return asHolon(res)
}

// SaveHolon persists a holon and mirrors it per the replication rules.
func (d *Dispatcher) SaveHolon(ctx context.Context, holon *core.Holon) *core.Result[*core.Holon] {
	if holon == nil {
		return core.Fail[*core.Holon]("holon must not be nil")
	}
	stampSave(holon, d.now().UTC())

	res := execute(ctx, d, "saveHolon", holon,
		func(ctx context.Context, p provider.Provider) *core.Result[core.Entity] {
			return p.SaveEntity(ctx, holon)
		})
	return asHolon(res)
}

// DeleteHolon removes a holon.
func (d *Dispatcher) DeleteHolon(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	res := execute(ctx, d, "deleteHolon", nil,
		func(ctx context.Context, p provider.Provider) *core.Result[bool] {
			return p.DeleteEntity(ctx, id, softDelete)
		})
	d.replicateDelete(ctx, core.KindHolon, id, softDelete, res)
	return res
}

// Search runs a query on the primary provider, with failover.
func (d *Dispatcher) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	return execute(ctx, d, "search", nil,
		func(ctx context.Context, p provider.Provider) *core.Result[core.SearchResults] {
			return p.Search(ctx, query)
		})
}

// Drain waits for in-flight replication fan-outs, for shutdown.
func (d *Dispatcher) Drain() {
	d.replication.Drain()
}

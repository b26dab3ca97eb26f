// internal/provider/providertest/fake.go
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Fake is a scriptable in-memory provider for tests. Errors can be injected
// per operation; every invocation is recorded in Calls.
type Fake struct {
	mu       sync.Mutex
	kind     provider.Type
	cats     provider.Category
	entities map[uuid.UUID]core.Entity

	// Injected failures. SaveErrs is consumed one error per call, so a
	// script like [errA, errB, nil] fails twice then succeeds.
	ActivateErr error
	LoadErr     error
	SaveErr     error
	SaveErrs    []error
	DeleteErr   error
	SearchErr   error

	// Delay is applied before every entity operation, for timeout tests.
	Delay time.Duration

	Calls []string
}

// New creates a fake provider of the given type and categories.
func New(t provider.Type, cats provider.Category) *Fake {
	return &Fake{
		kind:     t,
		cats:     cats,
		entities: make(map[uuid.UUID]core.Entity),
	}
}

func (f *Fake) Type() provider.Type           { return f.kind }
func (f *Fake) Categories() provider.Category { return f.cats }

func (f *Fake) record(op string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, op)
	f.mu.Unlock()
}

// CallCount returns how many times op was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) ActivateProvider(ctx context.Context) *core.Result[bool] {
	f.record("activate")
	if err := f.wait(ctx); err != nil {
		return core.FailErr[bool](err, "activate interrupted")
	}
	if f.ActivateErr != nil {
		return core.FailErr[bool](f.ActivateErr, "activate failed")
	}
	return core.OK(true)
}

func (f *Fake) DeactivateProvider(ctx context.Context) *core.Result[bool] {
	f.record("deactivate")
	return core.OK(true)
}

func (f *Fake) LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity] {
	f.record("load")
	if err := f.wait(ctx); err != nil {
		return core.FailErr[core.Entity](err, "load interrupted")
	}
	if f.LoadErr != nil {
		return core.FailErr[core.Entity](f.LoadErr, "load failed")
	}

	f.mu.Lock()
	e, ok := f.entities[id]
	f.mu.Unlock()
	if !ok {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (f *Fake) SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity] {
	f.record("save")
	if err := f.wait(ctx); err != nil {
		return core.FailErr[core.Entity](err, "save interrupted")
	}

	f.mu.Lock()
	var injected error
	if len(f.SaveErrs) > 0 {
		injected = f.SaveErrs[0]
		f.SaveErrs = f.SaveErrs[1:]
	} else {
		injected = f.SaveErr
	}
	f.mu.Unlock()

	if injected != nil {
		return core.FailErr[core.Entity](injected, "save failed")
	}

	f.mu.Lock()
	f.entities[entity.EntityID()] = entity
	f.mu.Unlock()

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (f *Fake) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	f.record("delete")
	if f.DeleteErr != nil {
		return core.FailErr[bool](f.DeleteErr, "delete failed")
	}

	f.mu.Lock()
	_, ok := f.entities[id]
	delete(f.entities, id)
	f.mu.Unlock()

	if !ok {
		return core.FailErr[bool](core.ErrNotFound, "entity not found")
	}
	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (f *Fake) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	f.record("search")
	if f.SearchErr != nil {
		return core.FailErr[core.SearchResults](f.SearchErr, "search failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []core.Entity
	for _, e := range f.entities {
		if query.Matches(e) {
			matched = append(matched, e)
		}
	}
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

// Stored reports whether an entity is present, for replication assertions.
func (f *Fake) Stored(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entities[id]
	return ok
}

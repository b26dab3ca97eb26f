// internal/adapters/memory.go
package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Memory is the in-process backend. It keeps kind-tagged envelopes so its
// behavior matches the serializing backends byte for byte.
type Memory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]byte
}

// NewMemory creates an in-memory adapter.
func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID][]byte)}
}

func (m *Memory) Type() provider.Type           { return provider.TypeMemory }
func (m *Memory) Categories() provider.Category { return provider.CategoryStorage }

func (m *Memory) ActivateProvider(context.Context) *core.Result[bool] {
	return core.OK(true)
}

func (m *Memory) DeactivateProvider(context.Context) *core.Result[bool] {
	return core.OK(true)
}

func (m *Memory) LoadEntity(_ context.Context, id uuid.UUID) *core.Result[core.Entity] {
	m.mu.RLock()
	raw, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Memory", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (m *Memory) SaveEntity(_ context.Context, entity core.Entity) *core.Result[core.Entity] {
	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Memory", "save", err), "")
	}

	m.mu.Lock()
	m.entries[entity.EntityID()] = raw
	m.mu.Unlock()

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (m *Memory) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := m.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := m.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		m.mu.Lock()
		_, ok := m.entries[id]
		delete(m.entries, id)
		m.mu.Unlock()
		if !ok {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (m *Memory) Search(_ context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	m.mu.RLock()
	raws := make([][]byte, 0, len(m.entries))
	for _, raw := range m.entries {
		raws = append(raws, raw)
	}
	m.mu.RUnlock()

	var matched []core.Entity
	for _, raw := range raws {
		e, err := core.UnmarshalEntity(raw)
		if err != nil {
			continue
		}
		if query.Matches(e) {
			matched = append(matched, e)
		}
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

// internal/adapters/badger.go
package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

var badgerKeyPrefix = []byte("entity/")

// Badger is an embedded key-value backend. The database opens on
// activation and closes on deactivation.
type Badger struct {
	mu       sync.Mutex
	path     string
	inMemory bool
	db       *badger.DB
	logger   *zap.Logger
}

// BadgerOption configures the badger adapter.
type BadgerOption func(*Badger)

// WithInMemory keeps the store off disk, for tests and ephemeral use.
func WithInMemory() BadgerOption {
	return func(b *Badger) { b.inMemory = true }
}

// NewBadger creates a badger adapter storing at path.
func NewBadger(path string, logger *zap.Logger, opts ...BadgerOption) *Badger {
	b := &Badger{path: path, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Badger) Type() provider.Type           { return provider.TypeBadgerDB }
func (b *Badger) Categories() provider.Category { return provider.CategoryStorage }

func badgerKey(id uuid.UUID) []byte {
	return append(append([]byte{}, badgerKeyPrefix...), id.String()...)
}

func (b *Badger) ActivateProvider(context.Context) *core.Result[bool] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return core.OK(true)
	}

	opts := badger.DefaultOptions(b.path).WithLogger(nil)
	if b.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return core.FailErr[bool](core.WrapAdapterError("BadgerDB", "activate", err), "")
	}
	b.db = db
	return core.OK(true)
}

func (b *Badger) DeactivateProvider(context.Context) *core.Result[bool] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return core.OK(true)
	}
	if err := b.db.Close(); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("BadgerDB", "deactivate", err), "")
	}
	b.db = nil
	return core.OK(true)
}

func (b *Badger) handle() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, core.ErrProviderNotActive
	}
	return b.db, nil
}

func (b *Badger) LoadEntity(_ context.Context, id uuid.UUID) *core.Result[core.Entity] {
	db, err := b.handle()
	if err != nil {
		return core.FailErr[core.Entity](err, "")
	}

	var raw []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("BadgerDB", "load", err), "")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("BadgerDB", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (b *Badger) SaveEntity(_ context.Context, entity core.Entity) *core.Result[core.Entity] {
	db, err := b.handle()
	if err != nil {
		return core.FailErr[core.Entity](err, "")
	}

	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("BadgerDB", "save", err), "")
	}

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(entity.EntityID()), raw)
	})
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("BadgerDB", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (b *Badger) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := b.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := b.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		db, err := b.handle()
		if err != nil {
			return core.FailErr[bool](err, "")
		}

		err = db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(badgerKey(id)); err != nil {
				return err
			}
			return txn.Delete(badgerKey(id))
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("BadgerDB", "delete", err), "")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (b *Badger) Search(_ context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	db, err := b.handle()
	if err != nil {
		return core.FailErr[core.SearchResults](err, "")
	}

	var matched []core.Entity
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := core.UnmarshalEntity(raw)
			if err != nil {
				continue
			}
			if query.Matches(e) {
				matched = append(matched, e)
			}
		}
		return nil
	})
	if err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("BadgerDB", "search", err), "")
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

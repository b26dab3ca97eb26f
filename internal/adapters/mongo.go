// internal/adapters/mongo.go
package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

const mongoCollection = "entities"

// mongoDoc is the stored shape: the entity keeps its kind-tagged JSON
// form so every backend round-trips identically.
type mongoDoc struct {
	ID   string `bson:"_id"`
	Kind string `bson:"kind"`
	Doc  []byte `bson:"doc"`
}

// Mongo stores entities in a single collection keyed by entity id.
type Mongo struct {
	mu       sync.Mutex
	uri      string
	database string
	client   *mongo.Client
	logger   *zap.Logger
}

// NewMongo creates a mongo adapter. Connection happens on activation.
func NewMongo(uri, database string, logger *zap.Logger) *Mongo {
	return &Mongo{uri: uri, database: database, logger: logger}
}

func (m *Mongo) Type() provider.Type           { return provider.TypeMongoDB }
func (m *Mongo) Categories() provider.Category { return provider.CategoryStorage }

func (m *Mongo) ActivateProvider(ctx context.Context) *core.Result[bool] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return core.OK(true)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return core.FailErr[bool](core.WrapAdapterError("MongoDB", "activate", err), "")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return core.FailErr[bool](core.WrapAdapterError("MongoDB", "activate", err), "")
	}
	m.client = client
	return core.OK(true)
}

func (m *Mongo) DeactivateProvider(ctx context.Context) *core.Result[bool] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return core.OK(true)
	}
	if err := m.client.Disconnect(ctx); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("MongoDB", "deactivate", err), "")
	}
	m.client = nil
	return core.OK(true)
}

func (m *Mongo) collection() (*mongo.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, core.ErrProviderNotActive
	}
	return m.client.Database(m.database).Collection(mongoCollection), nil
}

func (m *Mongo) LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity] {
	coll, err := m.collection()
	if err != nil {
		return core.FailErr[core.Entity](err, "")
	}

	var doc mongoDoc
	err = coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("MongoDB", "load", err), "")
	}

	e, err := core.UnmarshalEntity(doc.Doc)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("MongoDB", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (m *Mongo) SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity] {
	coll, err := m.collection()
	if err != nil {
		return core.FailErr[core.Entity](err, "")
	}

	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("MongoDB", "save", err), "")
	}

	doc := mongoDoc{
		ID:   entity.EntityID().String(),
		Kind: string(entity.EntityKind()),
		Doc:  raw,
	}
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("MongoDB", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (m *Mongo) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
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
		coll, err := m.collection()
		if err != nil {
			return core.FailErr[bool](err, "")
		}

		out, err := coll.DeleteOne(ctx, bson.M{"_id": id.String()})
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("MongoDB", "delete", err), "")
		}
		if out.DeletedCount == 0 {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (m *Mongo) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	coll, err := m.collection()
	if err != nil {
		return core.FailErr[core.SearchResults](err, "")
	}

	filter := bson.M{}
	if query.Kind != "" {
		filter["kind"] = string(query.Kind)
	}

	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("MongoDB", "search", err), "")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var matched []core.Entity
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		e, err := core.UnmarshalEntity(doc.Doc)
		if err != nil {
			continue
		}
		if query.Matches(e) {
			matched = append(matched, e)
		}
	}
	if err := cursor.Err(); err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("MongoDB", "search", err), "")
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

// internal/adapters/redis.go
package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

const redisKeyPrefix = "hyperdrive:entity:"

// Redis stores entities as kind-tagged JSON strings. Search scans the
// keyspace, so it is linear in stored entities; Redis serves this engine
// as a hot read/write backend, not a query engine.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis creates a redis adapter. The connection is verified on
// activation, not here.
func NewRedis(addr, password string, db int, logger *zap.Logger) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: logger,
	}
}

func (r *Redis) Type() provider.Type           { return provider.TypeRedis }
func (r *Redis) Categories() provider.Category { return provider.CategoryStorage }

func redisKey(id uuid.UUID) string {
	return redisKeyPrefix + id.String()
}

func (r *Redis) ActivateProvider(ctx context.Context) *core.Result[bool] {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("Redis", "activate", err), "")
	}
	return core.OK(true)
}

func (r *Redis) DeactivateProvider(context.Context) *core.Result[bool] {
	if err := r.client.Close(); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("Redis", "deactivate", err), "")
	}
	return core.OK(true)
}

func (r *Redis) LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity] {
	raw, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Redis", "load", err), "")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Redis", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (r *Redis) SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity] {
	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Redis", "save", err), "")
	}

	if err := r.client.Set(ctx, redisKey(entity.EntityID()), raw, 0).Err(); err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("Redis", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (r *Redis) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := r.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := r.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		n, err := r.client.Del(ctx, redisKey(id)).Result()
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("Redis", "delete", err), "")
		}
		if n == 0 {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (r *Redis) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	var matched []core.Entity

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		e, err := core.UnmarshalEntity(raw)
		if err != nil {
			continue
		}
		if query.Matches(e) {
			matched = append(matched, e)
		}
	}
	if err := iter.Err(); err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("Redis", "search", err), "")
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

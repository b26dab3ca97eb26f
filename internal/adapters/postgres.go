// internal/adapters/postgres.go
package adapters

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver registration
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id   TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	doc  JSONB NOT NULL
)`

// Postgres stores entities as JSONB rows. The schema is created on
// activation so a fresh database works without migration tooling.
type Postgres struct {
	connString string
	db         *sql.DB
	logger     *zap.Logger
}

// NewPostgres creates a postgres adapter. sql.Open is lazy; the
// connection is verified and the schema ensured on activation.
func NewPostgres(connString string, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, core.WrapAdapterError("PostgreSQL", "open", err)
	}
	return &Postgres{connString: connString, db: db, logger: logger}, nil
}

func (p *Postgres) Type() provider.Type           { return provider.TypePostgreSQL }
func (p *Postgres) Categories() provider.Category { return provider.CategoryStorage }

func (p *Postgres) ActivateProvider(ctx context.Context) *core.Result[bool] {
	if err := p.db.PingContext(ctx); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("PostgreSQL", "activate", err), "")
	}
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("PostgreSQL", "activate", err), "")
	}
	return core.OK(true)
}

func (p *Postgres) DeactivateProvider(context.Context) *core.Result[bool] {
	if err := p.db.Close(); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("PostgreSQL", "deactivate", err), "")
	}
	return core.OK(true)
}

func (p *Postgres) LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity] {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE id = $1`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("PostgreSQL", "load", err), "")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("PostgreSQL", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (p *Postgres) SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity] {
	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("PostgreSQL", "save", err), "")
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, doc = EXCLUDED.doc`,
		entity.EntityID().String(), string(entity.EntityKind()), raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("PostgreSQL", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (p *Postgres) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := p.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := p.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		out, err := p.db.ExecContext(ctx,
			`DELETE FROM entities WHERE id = $1`, id.String())
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("PostgreSQL", "delete", err), "")
		}
		if n, _ := out.RowsAffected(); n == 0 {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (p *Postgres) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	q := `SELECT doc FROM entities`
	args := []any{}
	if query.Kind != "" {
		q += ` WHERE kind = $1`
		args = append(args, string(query.Kind))
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("PostgreSQL", "search", err), "")
	}
	defer func() { _ = rows.Close() }()

	var matched []core.Entity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
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
	if err := rows.Err(); err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("PostgreSQL", "search", err), "")
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

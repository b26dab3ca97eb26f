// internal/adapters/local.go
package adapters

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Local stores one kind-tagged JSON file per entity under a base path.
// Writes go through a temp file and rename so a crash never leaves a
// half-written entity behind.
type Local struct {
	basePath string
	compress bool
	logger   *zap.Logger
}

// LocalOption configures the local adapter.
type LocalOption func(*Local)

// WithCompression gzips entity files on disk.
func WithCompression() LocalOption {
	return func(l *Local) { l.compress = true }
}

// NewLocal creates a filesystem adapter rooted at basePath.
func NewLocal(basePath string, logger *zap.Logger, opts ...LocalOption) *Local {
	l := &Local{basePath: basePath, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Type() provider.Type           { return provider.TypeLocalFile }
func (l *Local) Categories() provider.Category { return provider.CategoryStorage }

func (l *Local) path(id uuid.UUID) string {
	name := id.String() + ".json"
	if l.compress {
		name += ".gz"
	}
	return filepath.Join(l.basePath, name)
}

func (l *Local) ActivateProvider(context.Context) *core.Result[bool] {
	if err := os.MkdirAll(l.basePath, 0750); err != nil {
		return core.FailErr[bool](core.WrapAdapterError("LocalFile", "activate", err), "")
	}
	return core.OK(true)
}

func (l *Local) DeactivateProvider(context.Context) *core.Result[bool] {
	return core.OK(true)
}

func (l *Local) read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path) // #nosec G304 - path derived from entity id
	if err != nil {
		return nil, err
	}
	if !l.compress {
		return raw, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}

func (l *Local) write(path string, raw []byte) error {
	if l.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		raw = buf.Bytes()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *Local) LoadEntity(_ context.Context, id uuid.UUID) *core.Result[core.Entity] {
	raw, err := l.read(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
	}
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("LocalFile", "load", err), "")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("LocalFile", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (l *Local) SaveEntity(_ context.Context, entity core.Entity) *core.Result[core.Entity] {
	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("LocalFile", "save", err), "")
	}
	if err := l.write(l.path(entity.EntityID()), raw); err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("LocalFile", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (l *Local) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := l.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := l.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		err := os.Remove(l.path(id))
		if errors.Is(err, fs.ErrNotExist) {
			return core.FailErr[bool](core.ErrNotFound, "entity not found")
		}
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("LocalFile", "delete", err), "")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (l *Local) Search(_ context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	var matched []core.Entity

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		raw, err := l.read(path)
		if err != nil {
			l.logger.Warn("unreadable entity file skipped",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		e, err := core.UnmarshalEntity(raw)
		if err != nil {
			return nil
		}
		if query.Matches(e) {
			matched = append(matched, e)
		}
		return nil
	})
	if err != nil {
		return core.FailErr[core.SearchResults](core.WrapAdapterError("LocalFile", "search", err), "")
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}

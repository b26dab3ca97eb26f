// internal/config/store.go
package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the active configuration snapshot. Readers get an immutable
// generation; reloads swap the whole snapshot atomically so rule evaluation
// never observes a half-edited tree.
type Store struct {
	current    atomic.Pointer[Config]
	generation atomic.Uint64
	logger     *zap.Logger
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config, logger *zap.Logger) *Store {
	s := &Store{logger: logger}
	s.current.Store(cfg)
	s.generation.Store(1)
	return s
}

// Current returns the active snapshot. The returned value must be treated
// as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Generation returns the snapshot version, bumped on every swap.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Swap installs a new snapshot.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)
	gen := s.generation.Add(1)
	s.logger.Info("configuration swapped", zap.Uint64("generation", gen))
}

// Watch reloads the file whenever it changes, swapping in the new snapshot.
// A file that fails to parse leaves the current generation in place.
// Blocks until ctx is cancelled or the watcher fails.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path, s.logger)
			if err != nil {
				s.logger.Error("config reload failed, keeping current generation",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			s.Swap(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

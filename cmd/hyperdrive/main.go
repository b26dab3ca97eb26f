// cmd/hyperdrive/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/starforge/hyperdrive/internal/adapters"
	"github.com/starforge/hyperdrive/internal/api"
	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/dispatcher"
	"github.com/starforge/hyperdrive/internal/failover"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/notify"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/replication"
	"github.com/starforge/hyperdrive/internal/scoring"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	bootLogger, _ := zap.NewProduction()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath, bootLogger)
		if err != nil {
			bootLogger.Fatal("config load failed",
				zap.String("path", *configPath), zap.Error(err))
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	store := config.NewStore(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		go func() {
			if err := store.Watch(ctx, *configPath); err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	notifier := buildNotifier(cfg, logger)
	defer func() { _ = notifier.Close() }()

	collector := metrics.NewCollector()

	registry := provider.NewRegistry(logger,
		provider.WithActivateTimeout(cfg.Timeouts.Activate()),
		provider.WithDeactivateTimeout(cfg.Timeouts.Deactivate()))

	registerProviders(ctx, cfg, registry, logger)
	if _, ok := registry.Current(); !ok {
		logger.Fatal("no provider came up; refusing to serve")
	}

	engine := scoring.NewEngine(cfg.Selection, logger)
	selector := policy.NewSelector(registry, engine, logger)

	fo := failover.NewOrchestrator(store, registry, selector, notifier, collector, logger)
	repl := replication.NewOrchestrator(store, registry, selector, notifier, collector, logger)
	disp := dispatcher.New(store, registry, selector, fo, repl, collector, logger)

	server := api.NewServer(store, disp, registry, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		disp.Drain()
		for _, d := range registry.Snapshot() {
			registry.Deactivate(shutdownCtx, d.Type)
		}
	}()

	logger.Info("hyperdrive starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("providers", len(registry.Snapshot())))

	if err := server.Start(); err != nil {
		logger.Info("server stopped", zap.Error(err))
	}
	disp.Drain()
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		os.Exit(1)
	}
	return logger
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}

	n := cfg.Notifications
	if n.Enabled && len(n.KafkaBrokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(n.KafkaBrokers, n.KafkaTopic, logger)
		if err != nil {
			logger.Warn("kafka notifier unavailable, logging only", zap.Error(err))
		} else {
			sinks = append(sinks, kafka)
		}
	}
	return notify.NewMulti(sinks...)
}

// registerProviders builds and activates every enabled backend from the
// config. A backend that fails to come up is logged and left inactive;
// the registry reports it as unreachable rather than aborting startup.
func registerProviders(ctx context.Context, cfg *config.Config,
	registry *provider.Registry, logger *zap.Logger) {

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		t, err := provider.ParseType(name)
		if err != nil {
			logger.Warn("skipping unknown provider", zap.String("name", name))
			continue
		}

		p, err := buildAdapter(ctx, t, pc, logger)
		if err != nil {
			logger.Error("provider construction failed",
				zap.String("provider", name), zap.Error(err))
			continue
		}
		if p == nil {
			logger.Warn("provider type has no adapter yet",
				zap.String("provider", name))
			continue
		}

		registry.Register(p, provider.Signals{
			CostPerOp:          pc.CostPerOp,
			GasFee:             pc.GasFee,
			SecurityRating:     pc.SecurityRating,
			GeographicAffinity: pc.GeographicAffinity,
		})

		if res := registry.Activate(ctx, t); res.IsError {
			logger.Error("provider activation failed",
				zap.String("provider", name), zap.Error(res.Err))
			continue
		}
		logger.Info("provider active", zap.String("provider", name))
	}
}

func buildAdapter(ctx context.Context, t provider.Type,
	pc config.ProviderConfig, logger *zap.Logger) (provider.Provider, error) {

	switch t {
	case provider.TypeMemory:
		return adapters.NewMemory(), nil
	case provider.TypeLocalFile:
		if err := os.MkdirAll(pc.Path, 0o750); err != nil {
			return nil, err
		}
		return adapters.NewLocal(pc.Path, logger), nil
	case provider.TypeBadgerDB:
		return adapters.NewBadger(pc.Path, logger), nil
	case provider.TypeRedis:
		return adapters.NewRedis(pc.Endpoint, pc.SecretKey, 0, logger), nil
	case provider.TypeMongoDB:
		return adapters.NewMongo(pc.ConnectionString, pc.Database, logger), nil
	case provider.TypePostgreSQL:
		return adapters.NewPostgres(pc.ConnectionString, logger)
	case provider.TypeS3:
		return adapters.NewS3(ctx, adapters.S3Config{
			Endpoint:  pc.Endpoint,
			Region:    pc.Region,
			Bucket:    pc.Bucket,
			AccessKey: pc.AccessKey,
			SecretKey: pc.SecretKey,
		}, logger)
	default:
		return nil, nil
	}
}

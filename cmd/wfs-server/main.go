package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mohammed-shakir/wfs-server/internal/cache/countcache"
	"github.com/mohammed-shakir/wfs-server/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-server/internal/core/config"
	"github.com/mohammed-shakir/wfs-server/internal/core/health"
	"github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/core/server"
	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wfs-server/internal/logger"
	"github.com/mohammed-shakir/wfs-server/internal/metrics"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/store"
	"github.com/mohammed-shakir/wfs-server/internal/store/duckstore"
	"github.com/mohammed-shakir/wfs-server/internal/store/memstore"
	"github.com/mohammed-shakir/wfs-server/internal/store/pgstore"
	"github.com/mohammed-shakir/wfs-server/internal/wfs"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "wfs-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	crs.SetDefaultOptions(crs.Options{
		ForceXYEPSG4326: cfg.ForceXYEPSG4326,
		ForceXYOldCRS:   cfg.ForceXYOldCRS,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := feature.Load(cfg.CatalogFile)
	if err != nil {
		appLog.Error("failed to load catalog", "file", cfg.CatalogFile, "err", err)
		return 1
	}

	deps := server.Deps{Ready: map[string]health.Pinger{}}
	backend, closeBackend, err := openBackend(ctx, cfg, appLog, cat, deps.Ready)
	if err != nil {
		appLog.Error("failed to open backend", "backend", cfg.Backend, "err", err)
		return 1
	}
	defer closeBackend()

	svc := wfs.NewService(cat, store.Instrument(backend), wfs.Options{
		DefaultCount: cfg.DefaultCount,
		MaxCount:     cfg.MaxCount,
		ChunkSize:    cfg.PrefetchChunk,
	}, appLog)

	if cfg.CountCache.Enabled {
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithPoolSize(envInt("REDIS_POOL_SIZE", 0)))
		if err != nil {
			appLog.Error("failed to connect redis", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		deps.Ready["redis"] = rc

		counts := countcache.New(appLog, rc, cfg.CountCache.TTL)
		svc.CountCache = counts

		if cfg.Invalidation.Enabled {
			kc := kafkaconsumer.FromConfig(cfg.Invalidation)
			go func() {
				if err := kafkaconsumer.New(kc, appLog, counts).Start(ctx); err != nil {
					appLog.Error("invalidation consumer stopped", "err", err)
				}
			}()
		}
	}

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
			Backend:      cfg.Backend,
			FeatureTypes: len(cat.Types()),
		})
		observability.Init(p.Registerer(), true)
		deps.Metrics = p.Handler()
	}

	appLog.Info("starting wfs server",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.Backend,
		"feature_types", len(cat.Types()))

	if err := server.Run(ctx, cfg, appLog, svc, deps); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

// openBackend opens the configured store and registers its readiness check.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger, cat *feature.Catalog, ready map[string]health.Pinger) (query.Store, func(), error) {
	switch cfg.Backend {
	case "memory", "":
		s, err := memstore.FromCatalog(cat)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "postgis", "postgres":
		s, err := pgstore.Open(ctx, log, cfg.DatabaseURL, int32(envInt("DB_MAX_CONNS", 0)))
		if err != nil {
			return nil, nil, err
		}
		ready["postgres"] = s
		return s, s.Close, nil
	case "duckdb":
		s, err := duckstore.Open(ctx, log, cfg.DuckDBPath, duckstore.DefaultOptions())
		if err != nil {
			return nil, nil, err
		}
		ready["duckdb"] = s
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q, expected memory, postgis or duckdb", cfg.Backend)
}

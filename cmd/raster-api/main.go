package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hrodmn/eoapi-subdataset-params/internal/api"
	"github.com/hrodmn/eoapi-subdataset-params/internal/cache/itemcache"
	"github.com/hrodmn/eoapi-subdataset-params/internal/cache/rediscache"
	"github.com/hrodmn/eoapi-subdataset-params/internal/config"
	"github.com/hrodmn/eoapi-subdataset-params/internal/httpclient"
	"github.com/hrodmn/eoapi-subdataset-params/internal/invalidation/kafkaconsumer"
	"github.com/hrodmn/eoapi-subdataset-params/internal/logger"
	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
	"github.com/hrodmn/eoapi-subdataset-params/internal/pgstac"
	"github.com/hrodmn/eoapi-subdataset-params/internal/server"
	"github.com/hrodmn/eoapi-subdataset-params/internal/tiler"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding listen address via flag
	addrFlag := flag.String("addr", "", "listen address")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Service:   cfg.Name,
		Component: "raster-api",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting raster api",
		"addr", cfg.Addr,
		"version", Version,
		"tiler", cfg.TilerURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgstac.Connect(ctx, appLog, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		appLog.Error("pgstac connection failed", "err", err)
		return 1
	}
	defer pool.Close()

	// the redis tier is optional; the service still runs on LRU + pgstac
	var rc *rediscache.Client
	if cfg.CacheEnabled {
		rc, err = rediscache.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Warn("redis unavailable, item cache runs in-process only", "err", err)
			rc = nil
		} else {
			defer func() { _ = rc.Close() }()
		}
	}

	cache, err := itemcache.New(appLog, pool, rc, itemcache.Config{
		LRUSize:   cfg.ItemLRUSize,
		OpTimeout: cfg.CacheOpTimeout,
		TTLFor:    cfg.ItemTTL,
	})
	if err != nil {
		appLog.Error("item cache setup failed", "err", err)
		return 1
	}

	exec, err := tiler.New(appLog, httpclient.NewOutbound(), cfg.TilerURL)
	if err != nil {
		appLog.Error("tiler executor setup failed", "err", err)
		return 1
	}

	handler := api.New(appLog, cfg.Name, cache, pool, exec)

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			appLog, cache)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

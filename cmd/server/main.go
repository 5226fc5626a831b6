package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kari-ai/kari-core/internal/api"
	"github.com/kari-ai/kari-core/internal/app"
	"github.com/kari-ai/kari-core/internal/config"
	"github.com/kari-ai/kari-core/internal/obs"
	"github.com/kari-ai/kari-core/internal/provider"
	"github.com/kari-ai/kari-core/internal/secrets"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger, err := obs.NewLogger(config.LogLevel())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	opts := app.Options{
		ElasticHost:     config.ElasticHost(),
		ElasticPort:     config.ElasticPort(),
		ElasticIndex:    config.ElasticIndex(),
		ElasticUser:     config.ElasticUser(),
		ElasticPassword: config.ElasticPassword(),
		AnalyticsView:   config.AnalyticsView(),

		ReconcilerInterval: config.ReconcilerInterval(),

		Logger: logger,
	}

	// Backends are optional: a missing one degrades its tier, never
	// aborts startup.
	if url := config.PostgresURL(); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			logger.Warn("postgres unavailable", zap.Error(err))
		} else if err := pool.Ping(ctx); err != nil {
			logger.Warn("postgres ping failed", zap.Error(err))
			pool.Close()
		} else {
			logger.Info("connected to postgres")
			opts.Postgres = pool
			defer pool.Close()
		}
	}

	if url := config.RedisURL(); url != "" {
		redisOpts, err := redis.ParseURL(url)
		if err != nil {
			logger.Warn("invalid redis url", zap.Error(err))
		} else {
			client := redis.NewClient(redisOpts)
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("redis ping failed", zap.Error(err))
				_ = client.Close()
			} else {
				logger.Info("connected to redis")
				opts.Redis = client
			}
		}
	}

	if url := config.AnalyticsURL(); url != "" {
		db, err := sqlx.ConnectContext(ctx, "pgx", url)
		if err != nil {
			logger.Warn("analytics backend unavailable", zap.Error(err))
		} else {
			logger.Info("connected to analytics backend")
			opts.AnalyticsDB = db
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	opts.Metrics = obs.NewMetrics(reg)

	opts.Providers = provider.BuildSpecs(secrets.NewEnvResolver(), logger)
	if len(opts.Providers) == 0 {
		logger.Warn("no providers configured, routing will run degraded")
	}

	core := app.NewCore(opts)
	defer core.Shutdown()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(core, reg, logger),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	core.Shutdown()
	logger.Info("server stopped")
}

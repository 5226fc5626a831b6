// Package app assembles the memory orchestrator and the provider router
// into one Core with a single lifecycle.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/adapter"
	"github.com/kari-ai/kari-core/internal/buffer"
	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
	"github.com/kari-ai/kari-core/internal/registry"
	"github.com/kari-ai/kari-core/internal/router"
	"github.com/kari-ai/kari-core/internal/service"
)

// Options carries the external resources the Core wires together. Every
// backend is optional: a nil handle leaves its tier unregistered and the
// orchestrator degrades around it.
type Options struct {
	Postgres    *pgxpool.Pool
	Redis       *redis.Client
	AnalyticsDB *sqlx.DB

	ElasticHost     string
	ElasticPort     int
	ElasticIndex    string
	ElasticUser     string
	ElasticPassword string

	AnalyticsView string

	// ReconcilerInterval overrides the reconciler tick; zero keeps the
	// default.
	ReconcilerInterval time.Duration

	Providers []domain.ProviderSpec

	Metrics *obs.Metrics
	Logger  *zap.Logger
}

// Core owns the orchestrator, the router, and every background service.
// Construct with NewCore; release with Shutdown.
type Core struct {
	Registry     *registry.Registry
	Router       *router.Router
	Orchestrator *service.Orchestrator
	Reconciler   *service.Reconciler
	Enricher     *service.Enricher

	metrics *obs.Metrics
	logger  *zap.Logger
	closers []domain.Closer

	shutdownOnce sync.Once
}

// NewCore wires the full dependency graph: registry and providers first,
// then the router, then each memory tier that has a backend, and last
// the reconciler when both the source of truth and the buffer exist.
func NewCore(opts Options) *Core {
	c := &Core{
		Registry: registry.New(),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}

	for i := range opts.Providers {
		spec := opts.Providers[i]
		if err := c.Registry.RegisterProvider(&spec); err != nil {
			c.logger.Warn("provider registration failed",
				zap.String("provider", spec.Name), zap.Error(err))
		}
	}
	c.Router = router.New(c.Registry, c.metrics, c.logger)

	c.Enricher = service.NewEnricher(c.logger)
	c.Enricher.SetEmbedder(&router.EmbeddingFacade{Router: c.Router})
	c.Enricher.SetClassifier(&router.ClassifierFacade{Router: c.Router})

	c.Orchestrator = service.NewOrchestrator(c.metrics, c.logger)

	var authoritative domain.AuthoritativeStore
	if opts.Postgres != nil {
		auth := adapter.NewPostgresAuthoritative(opts.Postgres)
		authoritative = auth
		c.Orchestrator.SetAuthoritative(auth)

		vec := adapter.NewVectorAdapter(opts.Postgres, &router.EmbeddingFacade{Router: c.Router})
		c.Orchestrator.SetVector(vec)
	}

	var writeBuffer *buffer.WriteBuffer
	if opts.Redis != nil {
		kv := adapter.NewRedisCache(opts.Redis)
		c.closers = append(c.closers, kv)

		c.Orchestrator.SetCache(buffer.NewShortTermCache(kv))
		writeBuffer = buffer.NewWriteBuffer(kv)
		c.Orchestrator.SetWriteBuffer(writeBuffer)
	}

	if opts.ElasticHost != "" {
		idx := adapter.NewElasticTextIndex(
			opts.ElasticHost, opts.ElasticPort, opts.ElasticIndex,
			opts.ElasticUser, opts.ElasticPassword)
		c.Orchestrator.SetTextIndex(idx)
	}

	if opts.AnalyticsDB != nil {
		an := adapter.NewSQLAnalytics(opts.AnalyticsDB, opts.AnalyticsView)
		c.closers = append(c.closers, an)
		c.Orchestrator.SetAnalytics(an)
	}

	if authoritative != nil && writeBuffer != nil {
		c.Reconciler = service.NewReconciler(authoritative, writeBuffer, c.metrics, c.logger)
		if opts.ReconcilerInterval > 0 {
			c.Reconciler.SetInterval(opts.ReconcilerInterval)
		}
		c.Reconciler.Start()
	}

	return c
}

// TierHealth is one memory tier's probe result.
type TierHealth struct {
	Tier    string `json:"tier"`
	OK      bool   `json:"ok"`
	Latency int64  `json:"latency_ms"`
	Detail  string `json:"detail,omitempty"`
}

// HealthSnapshot aggregates tier probes and provider dispatch state for
// the ops surface.
type HealthSnapshot struct {
	Tiers     []TierHealth            `json:"tiers"`
	Providers []domain.ProviderHealth `json:"providers"`
}

// Health probes every wired memory tier and snapshots provider state.
func (c *Core) Health(ctx context.Context) HealthSnapshot {
	snap := HealthSnapshot{Providers: c.Router.Snapshots()}

	adapters := c.Orchestrator.Adapters()
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h := adapters[name].Health(ctx)
		snap.Tiers = append(snap.Tiers, TierHealth{
			Tier: name, OK: h.OK, Latency: h.LatencyMS, Detail: h.Detail,
		})
	}
	return snap
}

// Shutdown stops background services and closes adapter resources in
// reverse construction order. Safe to call more than once.
func (c *Core) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.Router.StopHealthMonitor()
		if c.Reconciler != nil {
			c.Reconciler.Stop()
		}
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i].Close(); err != nil {
				c.logger.Warn("adapter close failed", zap.Error(err))
			}
		}
		c.logger.Info("core shut down")
	})
}

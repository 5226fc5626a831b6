package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
	"github.com/kari-ai/kari-core/internal/provider"
)

func mockProviderSpec(name string) domain.ProviderSpec {
	return domain.ProviderSpec{
		Name:         name,
		Category:     domain.CategoryLLM,
		Bucket:       domain.BucketLocal,
		Capabilities: map[domain.Capability]bool{domain.CapStreaming: true},
		DefaultModel: name + "-model",
		Client:       provider.NewMockClient("pong"),
	}
}

func TestNewCore_NoBackends(t *testing.T) {
	core := NewCore(Options{
		Providers: []domain.ProviderSpec{mockProviderSpec("local")},
		Metrics:   obs.NewMetrics(prometheus.NewRegistry()),
		Logger:    zap.NewNop(),
	})
	defer core.Shutdown()

	if core.Reconciler != nil {
		t.Error("no backends means no reconciler")
	}

	// Routing still works with only providers wired.
	resp, err := core.Router.Route(context.Background(), &domain.RoutingRequest{Message: "ping"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("unexpected content %q", resp.Content)
	}

	// Recall degrades to a miss, never an error.
	results, err := core.Orchestrator.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected a miss with no tiers, got %d", len(results))
	}
}

func TestNewCore_RedisOnlyWiresCache(t *testing.T) {
	mr := miniredis.RunT(t)

	core := NewCore(Options{
		Redis:   redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Metrics: obs.NewMetrics(prometheus.NewRegistry()),
		Logger:  zap.NewNop(),
	})
	defer core.Shutdown()

	if core.Reconciler != nil {
		t.Error("a reconciler needs an authoritative store, not just a cache")
	}

	entry := &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "remember me"}
	receipt, err := core.Orchestrator.UpdateMemory(context.Background(), entry)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(receipt.Accepted) != 1 || receipt.Accepted[0] != domain.AdapterCache {
		t.Fatalf("expected the cache tier to accept, got %v", receipt.Accepted)
	}

	results, err := core.Orchestrator.RecallContext(context.Background(), "t1", "u1", "remember", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 1 || results[0].Source != domain.SourceCache {
		t.Fatalf("expected a cache hit, got %+v", results)
	}

	snap := core.Health(context.Background())
	if len(snap.Tiers) != 1 || snap.Tiers[0].Tier != "cache" || !snap.Tiers[0].OK {
		t.Errorf("unexpected health snapshot %+v", snap.Tiers)
	}
}

func TestCore_ShutdownIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	core := NewCore(Options{
		Redis:   redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Metrics: obs.NewMetrics(prometheus.NewRegistry()),
		Logger:  zap.NewNop(),
	})

	core.Shutdown()
	core.Shutdown()
}

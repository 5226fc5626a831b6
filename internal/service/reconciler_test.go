package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/adapter"
	"github.com/kari-ai/kari-core/internal/buffer"
	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
)

type flakyAuthoritative struct {
	mockAuthoritative
	failNext int
}

func (m *flakyAuthoritative) Upsert(ctx context.Context, entry *domain.MemoryEntry) error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("still recovering")
	}
	return m.mockAuthoritative.Upsert(ctx, entry)
}

func newBufferedSetup(t *testing.T) (*buffer.WriteBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := adapter.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return buffer.NewWriteBuffer(kv), mr
}

func parkEntries(t *testing.T, wb *buffer.WriteBuffer, n int) {
	t.Helper()
	base := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		entry := &domain.MemoryEntry{
			TenantID:  "t1",
			UserID:    "u1",
			Query:     fmt.Sprintf("query %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if _, err := wb.Park(context.Background(), entry); err != nil {
			t.Fatalf("park: %v", err)
		}
	}
}

func newTestReconciler(auth domain.AuthoritativeStore, wb *buffer.WriteBuffer) *Reconciler {
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	return NewReconciler(auth, wb, metrics, zap.NewNop())
}

func TestReconciler_NoDrainWhileUnhealthy(t *testing.T) {
	wb, _ := newBufferedSetup(t)
	parkEntries(t, wb, 3)

	auth := &mockAuthoritative{}
	auth.healthy = false
	r := newTestReconciler(auth, wb)

	r.Tick(context.Background())

	keys, _ := wb.Keys(context.Background())
	if len(keys) != 3 {
		t.Fatalf("expected the buffer untouched while unhealthy, %d keys left", len(keys))
	}
	if len(auth.upserts) != 0 {
		t.Error("no replays should happen while the store is down")
	}
}

func TestReconciler_DrainsOnRecovery(t *testing.T) {
	wb, _ := newBufferedSetup(t)
	parkEntries(t, wb, 5)

	auth := &mockAuthoritative{}
	auth.healthy = false
	r := newTestReconciler(auth, wb)

	// Establish the unhealthy state, then recover.
	r.Tick(context.Background())
	auth.healthy = true
	r.Tick(context.Background())

	keys, _ := wb.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("expected an empty buffer after recovery, %d keys left", len(keys))
	}
	if len(auth.upserts) != 5 {
		t.Fatalf("expected 5 replays, got %d", len(auth.upserts))
	}

	// Replays happen in lexicographic key order, which sorts by timestamp
	// for a single tenant/user.
	for i := 1; i < len(auth.upserts); i++ {
		if !auth.upserts[i-1].Timestamp.Before(auth.upserts[i].Timestamp) {
			t.Fatal("replays out of order")
		}
	}
}

func TestReconciler_DrainBudget(t *testing.T) {
	wb, _ := newBufferedSetup(t)
	parkEntries(t, wb, 7)

	auth := &mockAuthoritative{}
	auth.healthy = false
	r := newTestReconciler(auth, wb)
	r.SetDrainBudget(3)

	r.Tick(context.Background())
	auth.healthy = true
	r.Tick(context.Background())

	keys, _ := wb.Keys(context.Background())
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys left after a budget of 3, got %d", len(keys))
	}

	// The drain continues on the next tick without another transition.
	r.Tick(context.Background())
	r.Tick(context.Background())
	keys, _ = wb.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("expected the drain to finish across ticks, %d keys left", len(keys))
	}
}

func TestReconciler_ReplayFailureRetriesNextTick(t *testing.T) {
	wb, _ := newBufferedSetup(t)
	parkEntries(t, wb, 2)

	auth := &flakyAuthoritative{failNext: 1}
	auth.healthy = false
	r := newTestReconciler(auth, wb)

	r.Tick(context.Background())
	auth.healthy = true
	r.Tick(context.Background())

	keys, _ := wb.Keys(context.Background())
	if len(keys) != 2 {
		t.Fatalf("a replay failure must stop the tick with keys intact, got %d", len(keys))
	}

	r.Tick(context.Background())
	keys, _ = wb.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("expected the retry tick to finish the drain, %d keys left", len(keys))
	}
}

func TestReconciler_DrainsWritesBufferedWhileHealthy(t *testing.T) {
	wb, _ := newBufferedSetup(t)

	// The store probes healthy throughout; only one upsert fails.
	auth := &flakyAuthoritative{failNext: 1}
	auth.healthy = true

	o := newTestOrchestrator()
	o.SetAuthoritative(auth)
	o.SetCache(&mockAdapter{kind: domain.AdapterCache, storeID: "cache-key"})
	o.SetWriteBuffer(wb)

	receipt, err := o.UpdateMemory(context.Background(), &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Buffered {
		t.Fatal("a failed upsert must park the write even when health reads OK")
	}

	// No health transition ever happens, the drain must still run.
	r := newTestReconciler(auth, wb)
	r.Tick(context.Background())

	keys, _ := wb.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("buffered write orphaned: %d keys left", len(keys))
	}
	if len(auth.upserts) != 1 {
		t.Fatalf("expected 1 replay, got %d", len(auth.upserts))
	}
}

func TestReconciler_StopIdempotent(t *testing.T) {
	wb, _ := newBufferedSetup(t)
	auth := &mockAuthoritative{}
	auth.healthy = true
	r := newTestReconciler(auth, wb)
	r.SetInterval(10 * time.Millisecond)

	r.Start()
	r.Stop()
	r.Stop()
}

func TestUpdateMemory_BuffersWhenAuthoritativeDown(t *testing.T) {
	wb, _ := newBufferedSetup(t)

	o := newTestOrchestrator()
	auth := &mockAuthoritative{}
	auth.healthy = false
	o.SetAuthoritative(auth)
	o.SetCache(&mockAdapter{kind: domain.AdapterCache, storeID: "cache-key"})
	o.SetWriteBuffer(wb)

	receipt, err := o.UpdateMemory(context.Background(), &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Buffered || receipt.BufferKey == "" {
		t.Fatalf("expected the write to be buffered, got %+v", receipt)
	}

	entry, err := wb.Load(context.Background(), receipt.BufferKey)
	if err != nil {
		t.Fatalf("buffered entry must be loadable: %v", err)
	}
	if entry.Query != "q" {
		t.Errorf("buffered payload mismatch: %q", entry.Query)
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
)

type mockAdapter struct {
	kind      domain.AdapterKind
	recall    []domain.RecalledEntry
	recallErr error
	storeID   string
	storeErr  error
	healthy   bool

	recallCalls int
	stored      []*domain.MemoryEntry
}

func (m *mockAdapter) Kind() domain.AdapterKind { return m.kind }

func (m *mockAdapter) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	m.recallCalls++
	return m.recall, m.recallErr
}

func (m *mockAdapter) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	if m.storeErr != nil {
		return "", m.storeErr
	}
	m.stored = append(m.stored, entry)
	return m.storeID, nil
}

func (m *mockAdapter) Health(ctx context.Context) domain.Health {
	return domain.Health{OK: m.healthy}
}

type mockAuthoritative struct {
	mockAdapter
	upsertErr error
	byVector  map[string]*domain.MemoryEntry
	upserts   []*domain.MemoryEntry
}

func (m *mockAuthoritative) Upsert(ctx context.Context, entry *domain.MemoryEntry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts = append(m.upserts, entry)
	return nil
}

func (m *mockAuthoritative) GetByVector(ctx context.Context, vectorID string) (*domain.MemoryEntry, error) {
	entry, ok := m.byVector[vectorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

func newTestOrchestrator() *Orchestrator {
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	return NewOrchestrator(metrics, zap.NewNop())
}

func recalled(query string, source domain.SourceKind) domain.RecalledEntry {
	return domain.RecalledEntry{
		MemoryEntry: domain.MemoryEntry{
			TenantID:  "t1",
			UserID:    "u1",
			Query:     query,
			Result:    map[string]any{"answer": "x"},
			Timestamp: time.Now(),
		},
		Score:  0.9,
		Source: source,
	}
}

func TestRecallContext_Validation(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()

	if _, err := o.RecallContext(ctx, "", "u1", "q", 5); !errors.Is(err, ErrTenantMissing) {
		t.Errorf("expected ErrTenantMissing, got %v", err)
	}
	if _, err := o.RecallContext(ctx, "t1", "", "q", 5); !errors.Is(err, ErrUserMissing) {
		t.Errorf("expected ErrUserMissing, got %v", err)
	}
}

func TestRecallContext_VectorFirst(t *testing.T) {
	o := newTestOrchestrator()
	vector := &mockAdapter{kind: domain.AdapterVector, recall: []domain.RecalledEntry{recalled("vector hit", domain.SourceVector)}, healthy: true}
	textIndex := &mockAdapter{kind: domain.AdapterTextIndex, recall: []domain.RecalledEntry{recalled("text hit", domain.SourceTextIndex)}, healthy: true}
	o.SetVector(vector)
	o.SetTextIndex(textIndex)

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Query != "vector hit" {
		t.Fatalf("expected the vector tier to answer, got %+v", results)
	}
	if textIndex.recallCalls != 0 {
		t.Error("text index should not be consulted when the vector tier answers")
	}
}

func TestRecallContext_FallsThroughOnTierError(t *testing.T) {
	o := newTestOrchestrator()
	o.SetVector(&mockAdapter{kind: domain.AdapterVector, recallErr: errors.New("index offline")})
	o.SetTextIndex(&mockAdapter{kind: domain.AdapterTextIndex, recall: []domain.RecalledEntry{recalled("text hit", domain.SourceTextIndex)}})

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("tier failure must not fail the recall: %v", err)
	}
	if len(results) != 1 || results[0].Query != "text hit" {
		t.Fatalf("expected the text tier to answer after vector failure, got %+v", results)
	}
}

func TestRecallContext_EnrichesPayloadlessVectorHits(t *testing.T) {
	o := newTestOrchestrator()

	bare := domain.RecalledEntry{
		MemoryEntry: domain.MemoryEntry{VectorID: "vec-1"},
		Score:       0.8,
		Source:      domain.SourceVector,
	}
	o.SetVector(&mockAdapter{kind: domain.AdapterVector, recall: []domain.RecalledEntry{bare}})

	full := &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "stored query", VectorID: "vec-1"}
	auth := &mockAuthoritative{byVector: map[string]*domain.MemoryEntry{"vec-1": full}}
	auth.healthy = true
	o.SetAuthoritative(auth)

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one enriched result, got %d", len(results))
	}
	if results[0].Query != "stored query" {
		t.Errorf("expected the authoritative payload, got %q", results[0].Query)
	}
	if results[0].Score != 0.8 {
		t.Errorf("expected the vector score to survive enrichment, got %f", results[0].Score)
	}
}

func TestRecallContext_SkipsUnhealthyAuthoritative(t *testing.T) {
	o := newTestOrchestrator()
	auth := &mockAuthoritative{}
	auth.recall = []domain.RecalledEntry{recalled("from db", domain.SourceAuthoritative)}
	auth.healthy = false
	o.SetAuthoritative(auth)
	o.SetCache(&mockAdapter{kind: domain.AdapterCache, recall: []domain.RecalledEntry{recalled("from cache", domain.SourceCache)}})

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Query != "from cache" {
		t.Fatalf("expected the cache to answer while authoritative is unhealthy, got %+v", results)
	}
	if auth.recallCalls != 0 {
		t.Error("unhealthy authoritative store must not be queried")
	}
}

func TestRecallContext_AnalyticsMarkedStale(t *testing.T) {
	o := newTestOrchestrator()
	o.SetAnalytics(&mockAdapter{kind: domain.AdapterAnalytics, recall: []domain.RecalledEntry{recalled("rollup", domain.SourceAnalytics)}})

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].Stale {
		t.Fatalf("analytics results must be marked stale, got %+v", results)
	}
}

func TestRecallContext_TotalMiss(t *testing.T) {
	o := newTestOrchestrator()
	o.SetVector(&mockAdapter{kind: domain.AdapterVector})

	results, err := o.RecallContext(context.Background(), "t1", "u1", "nothing", 5)
	if err != nil {
		t.Fatalf("a miss is not an error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %#v", results)
	}
}

func TestRecallContext_LimitApplied(t *testing.T) {
	o := newTestOrchestrator()
	var hits []domain.RecalledEntry
	for i := 0; i < 8; i++ {
		hits = append(hits, recalled("hit", domain.SourceVector))
	}
	o.SetVector(&mockAdapter{kind: domain.AdapterVector, recall: hits})

	results, err := o.RecallContext(context.Background(), "t1", "u1", "q", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestUpdateMemory_FanOut(t *testing.T) {
	o := newTestOrchestrator()
	vector := &mockAdapter{kind: domain.AdapterVector, storeID: "vec-9"}
	auth := &mockAuthoritative{}
	auth.healthy = true
	cache := &mockAdapter{kind: domain.AdapterCache, storeID: "cache-key"}
	textIndex := &mockAdapter{kind: domain.AdapterTextIndex, storeID: "doc-1"}
	o.SetVector(vector)
	o.SetAuthoritative(auth)
	o.SetCache(cache)
	o.SetTextIndex(textIndex)

	entry := &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "remember this"}
	receipt, err := o.UpdateMemory(context.Background(), entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.VectorID != "vec-9" {
		t.Errorf("expected vector id vec-9, got %q", receipt.VectorID)
	}
	if len(receipt.Accepted) != 4 {
		t.Errorf("expected all four tiers to accept, got %v", receipt.Accepted)
	}
	if len(auth.upserts) != 1 || auth.upserts[0].VectorID != "vec-9" {
		t.Error("authoritative upsert must carry the vector id from the index")
	}
	if receipt.Buffered {
		t.Error("healthy authoritative store must not trigger buffering")
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected a timestamp to be assigned")
	}
}

func TestUpdateMemory_PartialFailureStillSucceeds(t *testing.T) {
	o := newTestOrchestrator()
	o.SetVector(&mockAdapter{kind: domain.AdapterVector, storeErr: errors.New("index down")})
	o.SetCache(&mockAdapter{kind: domain.AdapterCache, storeID: "cache-key"})

	receipt, err := o.UpdateMemory(context.Background(), &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "q"})
	if err != nil {
		t.Fatalf("one accepting tier means success: %v", err)
	}
	if len(receipt.Accepted) != 1 || receipt.Accepted[0] != domain.AdapterCache {
		t.Fatalf("expected only the cache to accept, got %v", receipt.Accepted)
	}
}

func TestUpdateMemory_AllRejected(t *testing.T) {
	o := newTestOrchestrator()
	o.SetVector(&mockAdapter{kind: domain.AdapterVector, storeErr: errors.New("index down")})
	o.SetCache(&mockAdapter{kind: domain.AdapterCache, storeErr: errors.New("cache down")})

	_, err := o.UpdateMemory(context.Background(), &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "q"})
	if err == nil {
		t.Fatal("expected an error when every adapter rejects")
	}
	var ae *domain.AdapterErrors
	if !errors.As(err, &ae) {
		t.Fatalf("expected AdapterErrors, got %T", err)
	}
	if len(ae.Errs) != 2 {
		t.Errorf("expected both adapter failures reported, got %v", ae.Errs)
	}
}

func TestUpdateMemory_Validation(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()

	cases := []struct {
		entry *domain.MemoryEntry
		want  error
	}{
		{&domain.MemoryEntry{UserID: "u1", Query: "q"}, ErrTenantMissing},
		{&domain.MemoryEntry{TenantID: "t1", Query: "q"}, ErrUserMissing},
		{&domain.MemoryEntry{TenantID: "t1", UserID: "u1"}, ErrQueryEmpty},
	}
	for _, tc := range cases {
		if _, err := o.UpdateMemory(ctx, tc.entry); !errors.Is(err, tc.want) {
			t.Errorf("entry %+v: expected %v, got %v", tc.entry, tc.want, err)
		}
	}
}

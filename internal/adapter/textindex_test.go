package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
)

func newTestTextIndex(t *testing.T, handler http.Handler) *ElasticTextIndex {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return NewElasticTextIndex(u.Hostname(), port, "kari_memory", "", "")
}

func TestElasticTextIndex_Recall(t *testing.T) {
	var gotPath string
	var gotReq esSearchRequest

	idx := newTestTextIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{"_score": 2.5, "_source": map[string]any{
						"tenant_id": "t1", "user_id": "u1", "query": "red car",
					}},
				},
			},
		})
	}))

	results, err := idx.Recall(context.Background(), "t1", "u1", "car", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if gotPath != "/kari_memory/_search" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotReq.Size != 5 {
		t.Errorf("expected size 5, got %d", gotReq.Size)
	}
	if len(gotReq.Query.Bool.Filter) != 2 {
		t.Errorf("expected tenant and user filters, got %v", gotReq.Query.Bool.Filter)
	}
	if len(results) != 1 || results[0].Query != "red car" || results[0].Score != 2.5 {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Source != domain.SourceTextIndex {
		t.Errorf("expected text index provenance, got %s", results[0].Source)
	}
}

func TestElasticTextIndex_StoreUsesEntryKey(t *testing.T) {
	var gotMethod, gotPath string

	idx := newTestTextIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "created"})
	}))

	entry := &domain.MemoryEntry{TenantID: "t1", UserID: "u1", Query: "q", Timestamp: time.Unix(1, 0)}
	docID, err := idx.Store(context.Background(), entry)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if docID != entry.Key() {
		t.Errorf("doc id must be the entry key, got %q", docID)
	}
	if gotMethod != http.MethodPut || gotPath != "/kari_memory/_doc/"+entry.Key() {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestElasticTextIndex_ErrorStatus(t *testing.T) {
	idx := newTestTextIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if _, err := idx.Recall(context.Background(), "t1", "u1", "q", 5); err == nil {
		t.Fatal("expected an error for a 502")
	}

	if h := idx.Health(context.Background()); h.OK {
		t.Error("expected unhealthy on error status")
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/app"
	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
)

var errStoreDown = errors.New("store down")

// downStore is a source of truth whose probe always fails.
type downStore struct{}

func (downStore) Kind() domain.AdapterKind { return domain.AdapterAuthoritative }

func (downStore) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	return nil, errStoreDown
}

func (downStore) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	return "", errStoreDown
}

func (downStore) Upsert(ctx context.Context, entry *domain.MemoryEntry) error {
	return errStoreDown
}

func (downStore) GetByVector(ctx context.Context, vectorID string) (*domain.MemoryEntry, error) {
	return nil, errStoreDown
}

func (downStore) Health(ctx context.Context) domain.Health {
	return domain.Health{OK: false, Detail: "connection refused"}
}

func newTestCore(t *testing.T) *app.Core {
	t.Helper()
	core := app.NewCore(app.Options{
		Metrics: obs.NewMetrics(prometheus.NewRegistry()),
		Logger:  zap.NewNop(),
	})
	t.Cleanup(core.Shutdown)
	return core
}

func TestHealthz_OKWithoutAuthoritativeTier(t *testing.T) {
	core := newTestCore(t)
	mux := NewRouter(core, prometheus.NewRegistry(), zap.NewNop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap app.HealthSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Empty(t, snap.Tiers)
}

func TestHealthz_UnavailableWhenSourceOfTruthIsDown(t *testing.T) {
	core := newTestCore(t)
	core.Orchestrator.SetAuthoritative(downStore{})
	mux := NewRouter(core, prometheus.NewRegistry(), zap.NewNop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var snap app.HealthSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	require.Len(t, snap.Tiers, 1)
	assert.Equal(t, "authoritative", snap.Tiers[0].Tier)
	assert.False(t, snap.Tiers[0].OK)
	assert.Equal(t, "connection refused", snap.Tiers[0].Detail)
}

func TestMetricsEndpoint(t *testing.T) {
	core := newTestCore(t)

	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "kari_up"})
	require.NoError(t, reg.Register(gauge))
	gauge.Set(1)

	mux := NewRouter(core, reg, zap.NewNop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kari_up 1")
}

// Package api builds the operational HTTP surface: health and metrics
// only. Product endpoints are intentionally absent; the core is consumed
// as a library.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/api/middleware"
	"github.com/kari-ai/kari-core/internal/app"
	"github.com/kari-ai/kari-core/internal/config"
)

// NewRouter assembles the chi mux for the ops surface.
func NewRouter(core *app.Core, gatherer prometheus.Gatherer, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewThrottle(config.RateLimitRPS(), config.RateLimitBurst()).Handler)

	r.Get("/healthz", healthHandler(core))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func healthHandler(core *app.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := core.Health(r.Context())

		status := http.StatusOK
		for _, tier := range snap.Tiers {
			if tier.Tier == "authoritative" && !tier.OK {
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(snap)
	}
}

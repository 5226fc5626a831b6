package service

import (
	"context"
	"errors"
	"time"

	"github.com/kari-ai/kari-core/internal/buffer"
	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
	"go.uber.org/zap"
)

var (
	ErrTenantMissing = errors.New("tenant_id is required")
	ErrUserMissing   = errors.New("user_id is required")
	ErrQueryEmpty    = errors.New("query is required")
)

// WriteReceipt reports which tiers accepted a memory write.
type WriteReceipt struct {
	VectorID  string               `json:"vector_id,omitempty"`
	Accepted  []domain.AdapterKind `json:"accepted"`
	Buffered  bool                 `json:"buffered"`
	BufferKey string               `json:"buffer_key,omitempty"`
}

// Orchestrator coordinates recall and writes across the backend tiers.
// Adapters are optional: a missing tier degrades the ladder, never aborts
// an operation. The authoritative store is the only source of truth.
type Orchestrator struct {
	vector        domain.MemoryAdapter
	textIndex     domain.MemoryAdapter
	authoritative domain.AuthoritativeStore
	cache         domain.MemoryAdapter
	analytics     domain.MemoryAdapter
	writeBuffer   *buffer.WriteBuffer

	metrics *obs.Metrics
	logger  *zap.Logger
}

func NewOrchestrator(metrics *obs.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{metrics: metrics, logger: logger}
}

func (o *Orchestrator) SetVector(a domain.MemoryAdapter) { o.vector = a }
func (o *Orchestrator) SetTextIndex(a domain.MemoryAdapter) { o.textIndex = a }
func (o *Orchestrator) SetAuthoritative(a domain.AuthoritativeStore) { o.authoritative = a }
func (o *Orchestrator) SetCache(a domain.MemoryAdapter) { o.cache = a }
func (o *Orchestrator) SetAnalytics(a domain.MemoryAdapter) { o.analytics = a }
func (o *Orchestrator) SetWriteBuffer(b *buffer.WriteBuffer) { o.writeBuffer = b }

// Authoritative exposes the source-of-truth adapter for the reconciler.
func (o *Orchestrator) Authoritative() domain.AuthoritativeStore { return o.authoritative }

// Adapters returns the wired tiers by name, for health aggregation.
func (o *Orchestrator) Adapters() map[string]domain.MemoryAdapter {
	out := make(map[string]domain.MemoryAdapter)
	if o.vector != nil {
		out["vector"] = o.vector
	}
	if o.textIndex != nil {
		out["text_index"] = o.textIndex
	}
	if o.authoritative != nil {
		out["authoritative"] = o.authoritative
	}
	if o.cache != nil {
		out["cache"] = o.cache
	}
	if o.analytics != nil {
		out["analytics"] = o.analytics
	}
	return out
}

// AuthoritativeHealthy probes the source of truth.
func (o *Orchestrator) AuthoritativeHealthy(ctx context.Context) bool {
	if o.authoritative == nil {
		return false
	}
	return o.authoritative.Health(ctx).OK
}

// RecallContext walks the priority ladder and returns the first tier's
// non-empty result, capped at limit. Tier failures are logged at WARN and
// skipped; a total miss returns an empty slice, not an error.
func (o *Orchestrator) RecallContext(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	if tenantID == "" {
		return nil, ErrTenantMissing
	}
	if userID == "" {
		return nil, ErrUserMissing
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, corrID := obs.EnsureCorrelationID(ctx, obs.NewModelOpCorrelationID)
	o.metrics.MemoryRecalls.Inc()

	log := o.logger.With(
		zap.String("correlation_id", corrID),
		zap.String("tenant", tenantID),
		zap.String("user", userID),
	)

	// Tier 1+3: vector search; entries missing payloads are resolved
	// through the authoritative store by vector id.
	var vectorHits []domain.RecalledEntry
	if o.vector != nil {
		hits, err := o.vector.Recall(ctx, tenantID, userID, query, limit)
		if err != nil {
			log.Warn("vector recall failed", zap.Error(err))
		} else {
			vectorHits = hits
		}
		if complete := withPayload(vectorHits); len(complete) > 0 {
			return capped(complete, limit), nil
		}
	}

	// Tier 2: keyword search.
	if o.textIndex != nil {
		hits, err := o.textIndex.Recall(ctx, tenantID, userID, query, limit)
		if err != nil {
			log.Warn("text index recall failed", zap.Error(err))
		} else if len(hits) > 0 {
			return capped(hits, limit), nil
		}
	}

	// Tier 3: payload-less vector hits enriched from the source of truth.
	if len(vectorHits) > 0 && o.authoritative != nil {
		if enriched := o.resolveVectorHits(ctx, log, vectorHits, limit); len(enriched) > 0 {
			return enriched, nil
		}
	}

	// Tier 4: the source of truth directly, when healthy.
	if o.authoritative != nil && o.authoritative.Health(ctx).OK {
		hits, err := o.authoritative.Recall(ctx, tenantID, userID, query, limit)
		if err != nil {
			log.Warn("authoritative recall failed", zap.Error(err))
		} else if len(hits) > 0 {
			return capped(hits, limit), nil
		}
	}

	// Tier 5: short-term cache.
	if o.cache != nil {
		hits, err := o.cache.Recall(ctx, tenantID, userID, query, limit)
		if err != nil {
			log.Warn("cache recall failed", zap.Error(err))
		} else if len(hits) > 0 {
			return capped(hits, limit), nil
		}
	}

	// Tier 6: read-only analytics, explicitly marked stale.
	if o.analytics != nil {
		hits, err := o.analytics.Recall(ctx, tenantID, userID, query, limit)
		if err != nil {
			log.Warn("analytics recall failed", zap.Error(err))
		} else if len(hits) > 0 {
			for i := range hits {
				hits[i].Stale = true
			}
			return capped(hits, limit), nil
		}
	}

	o.metrics.RecallMisses.Inc()
	log.Debug("recall miss", zap.String("query", query))
	return []domain.RecalledEntry{}, nil
}

func (o *Orchestrator) resolveVectorHits(ctx context.Context, log *zap.Logger, hits []domain.RecalledEntry, limit int) []domain.RecalledEntry {
	now := time.Now()
	var enriched []domain.RecalledEntry
	for _, hit := range hits {
		if hit.VectorID == "" {
			continue
		}
		entry, err := o.authoritative.GetByVector(ctx, hit.VectorID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn("authoritative enrichment failed",
					zap.String("vector_id", hit.VectorID), zap.Error(err))
			}
			continue
		}
		enriched = append(enriched, domain.RecalledEntry{
			MemoryEntry: *entry,
			Score:       hit.Score,
			Source:      domain.SourceVector,
			RecalledAt:  now,
		})
		if len(enriched) >= limit {
			break
		}
	}
	return enriched
}

// UpdateMemory fans the entry out to every registered tier. The write
// succeeds if at least one adapter accepted it; when the authoritative
// store is down the entry is additionally parked in the write buffer for
// the reconciler to replay. A write rejected by every adapter returns the
// full per-adapter error list.
func (o *Orchestrator) UpdateMemory(ctx context.Context, entry *domain.MemoryEntry) (*WriteReceipt, error) {
	if entry.TenantID == "" {
		return nil, ErrTenantMissing
	}
	if entry.UserID == "" {
		return nil, ErrUserMissing
	}
	if entry.Query == "" {
		return nil, ErrQueryEmpty
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	ctx, corrID := obs.EnsureCorrelationID(ctx, obs.NewModelOpCorrelationID)
	o.metrics.MemoryStores.Inc()

	log := o.logger.With(
		zap.String("correlation_id", corrID),
		zap.String("tenant", entry.TenantID),
		zap.String("user", entry.UserID),
	)

	receipt := &WriteReceipt{}
	adapterErrs := map[domain.AdapterKind]error{}

	// 1. Vector index first; its id keys the authoritative upsert.
	if o.vector != nil {
		vectorID, err := o.vector.Store(ctx, entry)
		if err != nil {
			log.Warn("vector store failed", zap.Error(err))
			adapterErrs[domain.AdapterVector] = err
		} else {
			entry.VectorID = vectorID
			receipt.VectorID = vectorID
			receipt.Accepted = append(receipt.Accepted, domain.AdapterVector)
		}
	}

	// 2. Source of truth, or the buffer when it is down.
	authoritativeDown := false
	if o.authoritative != nil {
		if o.authoritative.Health(ctx).OK {
			if err := o.authoritative.Upsert(ctx, entry); err != nil {
				log.Warn("authoritative upsert failed", zap.Error(err))
				adapterErrs[domain.AdapterAuthoritative] = err
				authoritativeDown = true
			} else {
				receipt.Accepted = append(receipt.Accepted, domain.AdapterAuthoritative)
			}
		} else {
			authoritativeDown = true
			adapterErrs[domain.AdapterAuthoritative] = errors.New("authoritative store unhealthy")
		}
	}

	// 3. Short-term cache.
	if o.cache != nil {
		if _, err := o.cache.Store(ctx, entry); err != nil {
			log.Warn("cache store failed", zap.Error(err))
			adapterErrs[domain.AdapterCache] = err
		} else {
			receipt.Accepted = append(receipt.Accepted, domain.AdapterCache)
		}
	}

	// 4. Buffer the write for replay. Buffering failures are logged, not
	// fatal: the write may already be durable in another tier.
	if authoritativeDown && o.writeBuffer != nil {
		key, err := o.writeBuffer.Park(ctx, entry)
		if err != nil {
			log.Warn("write buffering disabled, cache backend unavailable", zap.Error(err))
		} else {
			receipt.Buffered = true
			receipt.BufferKey = key
			o.metrics.BufferedWrites.Inc()
			log.Info("write buffered for replay", zap.String("buffer_key", key))
		}
	}

	// 5. Optional keyword index. The analytics tier is never written.
	if o.textIndex != nil {
		if _, err := o.textIndex.Store(ctx, entry); err != nil {
			log.Warn("text index store failed", zap.Error(err))
			adapterErrs[domain.AdapterTextIndex] = err
		} else {
			receipt.Accepted = append(receipt.Accepted, domain.AdapterTextIndex)
		}
	}

	if len(receipt.Accepted) == 0 {
		if len(adapterErrs) == 0 {
			adapterErrs[domain.AdapterVector] = errors.New("no adapters registered")
		}
		return nil, &domain.AdapterErrors{Errs: adapterErrs}
	}
	return receipt, nil
}

func withPayload(hits []domain.RecalledEntry) []domain.RecalledEntry {
	var out []domain.RecalledEntry
	for _, h := range hits {
		if h.Result != nil || h.Query != "" {
			out = append(out, h)
		}
	}
	return out
}

func capped(hits []domain.RecalledEntry, limit int) []domain.RecalledEntry {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

package domain

import (
	"context"
	"time"
)

// AdapterKind names a backend tier.
type AdapterKind string

const (
	AdapterVector        AdapterKind = "vector"
	AdapterAuthoritative AdapterKind = "authoritative"
	AdapterCache         AdapterKind = "cache"
	AdapterTextIndex     AdapterKind = "textindex"
	AdapterAnalytics     AdapterKind = "analytics"
)

// Health is a point-in-time adapter health report.
type Health struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// MemoryAdapter is the uniform contract every backend tier implements.
// Adapters never see each other; the orchestrator owns cross-tier rules.
type MemoryAdapter interface {
	Kind() AdapterKind
	Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]RecalledEntry, error)
	Store(ctx context.Context, entry *MemoryEntry) (string, error)
	Health(ctx context.Context) Health
}

// AuthoritativeStore is the source-of-truth contract. Upsert is keyed by
// VectorID when present, else a synthetic id; replaying an existing entry
// is a no-op.
type AuthoritativeStore interface {
	MemoryAdapter
	Upsert(ctx context.Context, entry *MemoryEntry) error
	GetByVector(ctx context.Context, vectorID string) (*MemoryEntry, error)
}

// KeyValueStore is the ephemeral cache contract. Scan must support prefix
// addressing so the reconciler can drain the write buffer without auxiliary
// indexes.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Scan(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) Health
}

// Closer is implemented by adapters holding connections.
type Closer interface {
	Close() error
}

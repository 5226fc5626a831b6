package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies the adapter tier that produced or stored an entry.
type SourceKind string

const (
	SourceVector        SourceKind = "vector"
	SourceAuthoritative SourceKind = "authoritative"
	SourceCache         SourceKind = "cache"
	SourceTextIndex     SourceKind = "textindex"
	SourceAnalytics     SourceKind = "analytics"
)

func ValidSourceKind(s string) bool {
	switch SourceKind(s) {
	case SourceVector, SourceAuthoritative, SourceCache, SourceTextIndex, SourceAnalytics:
		return true
	}
	return false
}

// MemoryEntry is the unit of memory. Immutable once written; identified by
// (tenant, user, timestamp) within a session. VectorID links the entry to
// the vector index row that produced it.
type MemoryEntry struct {
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Query      string         `json:"query"`
	Result     map[string]any `json:"result"`
	Timestamp  time.Time      `json:"timestamp"`
	VectorID   string         `json:"vector_id,omitempty"`
	Confidence float32        `json:"confidence,omitempty"`
	SourceKind SourceKind     `json:"source_kind,omitempty"`
}

// Key returns the entry identity within its tenant/user scope.
func (e *MemoryEntry) Key() string {
	return fmt.Sprintf("%s:%s:%d", e.TenantID, e.UserID, e.Timestamp.UnixNano())
}

// RecalledEntry is a MemoryEntry plus recall provenance: the adapter that
// produced it, its native ranking score, and the recall timestamp.
type RecalledEntry struct {
	MemoryEntry
	Score      float32    `json:"score"`
	Source     SourceKind `json:"source"`
	Stale      bool       `json:"stale,omitempty"`
	RecalledAt time.Time  `json:"recalled_at"`
}

// MemoryKind classifies what an entry represents.
type MemoryKind string

const (
	KindFact       MemoryKind = "fact"
	KindPreference MemoryKind = "preference"
	KindContext    MemoryKind = "context"
)

// SemanticCluster is a coarse topical grouping.
type SemanticCluster string

const (
	ClusterTechnical SemanticCluster = "technical"
	ClusterPersonal  SemanticCluster = "personal"
	ClusterWork      SemanticCluster = "work"
	ClusterGeneral   SemanticCluster = "general"
)

// EnrichedEntry is a recalled entry with best-effort annotations. Derived
// data, never a source of truth.
type EnrichedEntry struct {
	RecalledEntry
	Kind           MemoryKind      `json:"kind"`
	Cluster        SemanticCluster `json:"cluster"`
	Related        []string        `json:"related,omitempty"`
	RelevanceScore float64         `json:"relevance_score"`
	AccessCount    int             `json:"access_count"`
	LastAccessed   time.Time       `json:"last_accessed"`
}

// BufferedWrite is a self-contained payload parked in the cache backend
// while the authoritative store is unreachable. Deleted on successful
// replay or lost at TTL expiry.
type BufferedWrite struct {
	Key   string        `json:"key"`
	Entry MemoryEntry   `json:"entry"`
	TTL   time.Duration `json:"-"`
}

package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kari-ai/kari-core/internal/domain"
	pgvector "github.com/pgvector/pgvector-go"
)

// Default per-adapter timeouts. Recall is interactive, store is not.
const (
	recallTimeout = 5 * time.Second
	storeTimeout  = 10 * time.Second
	healthTimeout = 2 * time.Second
)

// Embedder produces the embedding for a piece of text. Satisfied by the
// router's embedding path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorAdapter performs semantic recall over a pgvector index. It is a
// derived store: rows carry enough payload to answer recall without
// consulting the authoritative store, but the authoritative store stays
// the source of truth.
type VectorAdapter struct {
	db       *pgxpool.Pool
	embedder Embedder
}

func NewVectorAdapter(db *pgxpool.Pool, embedder Embedder) *VectorAdapter {
	return &VectorAdapter{db: db, embedder: embedder}
}

func (a *VectorAdapter) Kind() domain.AdapterKind { return domain.AdapterVector }

func (a *VectorAdapter) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("embed recall query: %w", err))
	}
	vec := pgvector.NewVector(embedding)

	rows, err := a.db.Query(ctx,
		`SELECT id, tenant_id, user_id, session_id, query, result, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM memory_vectors
		 WHERE tenant_id = $2 AND user_id = $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		vec, tenantID, userID, limit,
	)
	if err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("vector recall query: %w", err))
	}
	defer rows.Close()

	now := time.Now()
	var results []domain.RecalledEntry
	for rows.Next() {
		var (
			re        domain.RecalledEntry
			sessionID *string
		)
		if err := rows.Scan(&re.VectorID, &re.TenantID, &re.UserID, &sessionID, &re.Query, &re.Result, &re.Timestamp, &re.Score); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		if sessionID != nil {
			re.SessionID = *sessionID
		}
		re.Source = domain.SourceVector
		re.SourceKind = domain.SourceVector
		re.RecalledAt = now
		results = append(results, re)
	}
	return results, rows.Err()
}

// Store embeds the query and indexes the entry, returning the vector id.
func (a *VectorAdapter) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	embedding, err := a.embedder.Embed(ctx, entry.Query)
	if err != nil {
		return "", domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("embed entry: %w", err))
	}
	vec := pgvector.NewVector(embedding)

	id := uuid.NewString()
	var sessionID *string
	if entry.SessionID != "" {
		sessionID = &entry.SessionID
	}

	_, err = a.db.Exec(ctx,
		`INSERT INTO memory_vectors (id, tenant_id, user_id, session_id, query, result, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, entry.TenantID, entry.UserID, sessionID, entry.Query, entry.Result, vec, entry.Timestamp,
	)
	if err != nil {
		return "", domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("vector insert: %w", err))
	}
	return id, nil
}

func (a *VectorAdapter) Health(ctx context.Context) domain.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	if err := a.db.Ping(ctx); err != nil {
		return domain.Health{OK: false, LatencyMS: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return domain.Health{OK: true, LatencyMS: time.Since(start).Milliseconds()}
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kari-ai/kari-core/internal/domain"
)

// PostgresAuthoritative is the source of truth for memory entries.
// Upserts are keyed by vector id (or a synthetic id when the vector tier
// was unavailable), which makes buffer replay idempotent.
type PostgresAuthoritative struct {
	db *pgxpool.Pool
}

func NewPostgresAuthoritative(db *pgxpool.Pool) *PostgresAuthoritative {
	return &PostgresAuthoritative{db: db}
}

func (a *PostgresAuthoritative) Kind() domain.AdapterKind { return domain.AdapterAuthoritative }

func (a *PostgresAuthoritative) Upsert(ctx context.Context, entry *domain.MemoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	vectorID := entry.VectorID
	if vectorID == "" {
		vectorID = "synthetic-" + uuid.NewString()
	}

	var sessionID *string
	if entry.SessionID != "" {
		sessionID = &entry.SessionID
	}

	_, err := a.db.Exec(ctx,
		`INSERT INTO memories (vector_id, tenant_id, user_id, session_id, query, result, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (vector_id) DO NOTHING`,
		vectorID, entry.TenantID, entry.UserID, sessionID, entry.Query, entry.Result, entry.Confidence, entry.Timestamp,
	)
	if err != nil {
		return domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("authoritative upsert: %w", err))
	}
	return nil
}

// Store satisfies the uniform adapter contract by delegating to Upsert.
func (a *PostgresAuthoritative) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	if err := a.Upsert(ctx, entry); err != nil {
		return "", err
	}
	return entry.Key(), nil
}

// Recall matches queries by keyword and orders by recency, the relational
// store's native ranking.
func (a *PostgresAuthoritative) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := a.db.Query(ctx,
		`SELECT vector_id, tenant_id, user_id, session_id, query, result, confidence, created_at
		 FROM memories
		 WHERE tenant_id = $1 AND user_id = $2 AND query ILIKE '%' || $3 || '%'
		 ORDER BY created_at DESC
		 LIMIT $4`,
		tenantID, userID, query, limit,
	)
	if err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("authoritative recall: %w", err))
	}
	defer rows.Close()

	now := time.Now()
	var results []domain.RecalledEntry
	for rows.Next() {
		re, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		re.Source = domain.SourceAuthoritative
		re.SourceKind = domain.SourceAuthoritative
		re.RecalledAt = now
		results = append(results, *re)
	}
	return results, rows.Err()
}

func (a *PostgresAuthoritative) GetByVector(ctx context.Context, vectorID string) (*domain.MemoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	var (
		e         domain.MemoryEntry
		sessionID *string
	)
	err := a.db.QueryRow(ctx,
		`SELECT vector_id, tenant_id, user_id, session_id, query, result, confidence, created_at
		 FROM memories WHERE vector_id = $1`,
		vectorID,
	).Scan(&e.VectorID, &e.TenantID, &e.UserID, &sessionID, &e.Query, &e.Result, &e.Confidence, &e.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("authoritative get by vector: %w", err))
	}
	if sessionID != nil {
		e.SessionID = *sessionID
	}
	e.SourceKind = domain.SourceAuthoritative
	return &e, nil
}

func (a *PostgresAuthoritative) Health(ctx context.Context) domain.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	if err := a.db.Ping(ctx); err != nil {
		return domain.Health{OK: false, LatencyMS: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return domain.Health{OK: true, LatencyMS: time.Since(start).Milliseconds()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row rowScanner) (*domain.RecalledEntry, error) {
	var (
		re        domain.RecalledEntry
		sessionID *string
	)
	if err := row.Scan(&re.VectorID, &re.TenantID, &re.UserID, &sessionID, &re.Query, &re.Result, &re.Confidence, &re.Timestamp); err != nil {
		return nil, fmt.Errorf("scan memory row: %w", err)
	}
	if sessionID != nil {
		re.SessionID = *sessionID
	}
	return &re, nil
}

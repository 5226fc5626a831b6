package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kari-ai/kari-core/internal/domain"
)

// SQLAnalytics is the read-only analytics tier. It answers recall from an
// aggregated view as a last resort; results are always marked stale. No
// write path exists: Store rejects every call.
type SQLAnalytics struct {
	db   *sqlx.DB
	view string
}

func NewSQLAnalytics(db *sqlx.DB, view string) *SQLAnalytics {
	if view == "" {
		view = "memory_rollup"
	}
	return &SQLAnalytics{db: db, view: view}
}

func (a *SQLAnalytics) Kind() domain.AdapterKind { return domain.AdapterAnalytics }

type analyticsRow struct {
	TenantID  string    `db:"tenant_id"`
	UserID    string    `db:"user_id"`
	Query     string    `db:"query"`
	Result    []byte    `db:"result"`
	CreatedAt time.Time `db:"created_at"`
}

func (a *SQLAnalytics) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	q := fmt.Sprintf(
		`SELECT tenant_id, user_id, query, result, created_at
		 FROM %s
		 WHERE tenant_id = ? AND user_id = ? AND query LIKE ?
		 ORDER BY created_at DESC
		 LIMIT ?`, a.view)

	var rows []analyticsRow
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(q), tenantID, userID, "%"+query+"%", limit); err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("analytics recall: %w", err))
	}

	now := time.Now()
	results := make([]domain.RecalledEntry, 0, len(rows))
	for _, r := range rows {
		var result map[string]any
		if len(r.Result) > 0 {
			_ = json.Unmarshal(r.Result, &result)
		}
		re := domain.RecalledEntry{
			MemoryEntry: domain.MemoryEntry{
				TenantID:   r.TenantID,
				UserID:     r.UserID,
				Query:      r.Query,
				Result:     result,
				Timestamp:  r.CreatedAt,
				SourceKind: domain.SourceAnalytics,
			},
			Source:     domain.SourceAnalytics,
			Stale:      true,
			RecalledAt: now,
		}
		results = append(results, re)
	}
	return results, nil
}

// Store always rejects: the analytics tier is read-only from the core's
// perspective.
func (a *SQLAnalytics) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	return "", fmt.Errorf("analytics store is read-only")
}

func (a *SQLAnalytics) Health(ctx context.Context) domain.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	if err := a.db.PingContext(ctx); err != nil {
		return domain.Health{OK: false, LatencyMS: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return domain.Health{OK: true, LatencyMS: time.Since(start).Milliseconds()}
}

func (a *SQLAnalytics) Close() error {
	return a.db.Close()
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
)

// ElasticTextIndex is the optional keyword/BM25 tier, spoken to over the
// Elasticsearch JSON API directly.
type ElasticTextIndex struct {
	baseURL    string
	index      string
	username   string
	password   string
	httpClient *http.Client
}

func NewElasticTextIndex(host string, port int, index, username, password string) *ElasticTextIndex {
	return &ElasticTextIndex{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		index:      index,
		username:   username,
		password:   password,
		httpClient: &http.Client{},
	}
}

func (a *ElasticTextIndex) Kind() domain.AdapterKind { return domain.AdapterTextIndex }

type esSearchRequest struct {
	Query esBoolQuery `json:"query"`
	Size  int         `json:"size"`
}

type esBoolQuery struct {
	Bool struct {
		Must   []map[string]any `json:"must"`
		Filter []map[string]any `json:"filter"`
	} `json:"bool"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float32            `json:"_score"`
			Source domain.MemoryEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Error *struct {
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (a *ElasticTextIndex) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	var q esBoolQuery
	q.Bool.Must = []map[string]any{
		{"match": map[string]any{"query": query}},
	}
	q.Bool.Filter = []map[string]any{
		{"term": map[string]any{"tenant_id": tenantID}},
		{"term": map[string]any{"user_id": userID}},
	}

	body, err := json.Marshal(esSearchRequest{Query: q, Size: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	respBody, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/%s/_search", a.index), body)
	if err != nil {
		return nil, err
	}

	var result esSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}
	if result.Error != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("text index search: %s", result.Error.Reason))
	}

	now := time.Now()
	results := make([]domain.RecalledEntry, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		re := domain.RecalledEntry{
			MemoryEntry: hit.Source,
			Score:       hit.Score,
			Source:      domain.SourceTextIndex,
			RecalledAt:  now,
		}
		re.SourceKind = domain.SourceTextIndex
		results = append(results, re)
	}
	return results, nil
}

func (a *ElasticTextIndex) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	body, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal index document: %w", err)
	}

	docID := entry.Key()
	if _, err := a.do(ctx, http.MethodPut, fmt.Sprintf("/%s/_doc/%s", a.index, docID), body); err != nil {
		return "", err
	}
	return docID, nil
}

func (a *ElasticTextIndex) Health(ctx context.Context) domain.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	if _, err := a.do(ctx, http.MethodGet, "/_cluster/health", nil); err != nil {
		return domain.Health{OK: false, LatencyMS: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return domain.Health{OK: true, LatencyMS: time.Since(start).Milliseconds()}
}

func (a *ElasticTextIndex) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create text index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("text index request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read text index response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewClassified(domain.FailTransientBackend,
			fmt.Errorf("text index returned status %d: %s", resp.StatusCode, string(respBody)))
	}
	return respBody, nil
}

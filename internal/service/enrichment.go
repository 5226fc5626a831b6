package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
	"go.uber.org/zap"
)

const (
	// jaccardThreshold admits a relationship candidate.
	jaccardThreshold = 0.3
	// cosineThreshold confirms a candidate when embeddings are available.
	cosineThreshold = 0.7
	// maxRelated caps relationship candidates per entry.
	maxRelated = 5
)

// EmbeddingService provides embeddings for relationship confirmation.
// Backed by the provider router's embedding path.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Healthy(ctx context.Context) bool
}

// KindClassifier refines the keyword-rule type label. Backed by an
// NLP-capable provider when one is healthy.
type KindClassifier interface {
	ClassifyKind(ctx context.Context, text string) (domain.MemoryKind, error)
	Healthy(ctx context.Context) bool
}

// Enricher annotates recalled entries with type, cluster, and
// relationships. Enrichment is best-effort: every failure degrades to the
// heuristic result and never fails the containing recall.
type Enricher struct {
	embedder   EmbeddingService
	classifier KindClassifier
	logger     *zap.Logger
}

func NewEnricher(logger *zap.Logger) *Enricher {
	return &Enricher{logger: logger}
}

func (e *Enricher) SetEmbedder(s EmbeddingService) { e.embedder = s }
func (e *Enricher) SetClassifier(c KindClassifier) { e.classifier = c }

// Enrich annotates every entry in the recall result.
func (e *Enricher) Enrich(ctx context.Context, entries []domain.RecalledEntry) []domain.EnrichedEntry {
	now := time.Now()
	enriched := make([]domain.EnrichedEntry, len(entries))
	for i, entry := range entries {
		enriched[i] = domain.EnrichedEntry{
			RecalledEntry:  entry,
			Kind:           e.classifyKind(ctx, entry.Query),
			Cluster:        ClusterOf(entry.Query),
			RelevanceScore: float64(entry.Score),
			AccessCount:    1,
			LastAccessed:   now,
		}
	}

	e.detectRelationships(ctx, entries, enriched)
	return enriched
}

func (e *Enricher) classifyKind(ctx context.Context, text string) domain.MemoryKind {
	provisional := ClassifyKind(text)

	if e.classifier != nil && e.classifier.Healthy(ctx) {
		refined, err := e.classifier.ClassifyKind(ctx, text)
		if err != nil {
			e.logger.Debug("kind refinement failed, keeping heuristic label", zap.Error(err))
			return provisional
		}
		return refined
	}
	return provisional
}

// detectRelationships links entries whose token sets overlap. Candidates
// pass Jaccard >= 0.3; a healthy embedding provider additionally confirms
// with cosine >= 0.7.
func (e *Enricher) detectRelationships(ctx context.Context, entries []domain.RecalledEntry, enriched []domain.EnrichedEntry) {
	if len(entries) < 2 {
		return
	}

	useEmbeddings := e.embedder != nil && e.embedder.Healthy(ctx)
	vectors := make([][]float32, len(entries))
	if useEmbeddings {
		for i, entry := range entries {
			vec, err := e.embedder.Embed(ctx, entry.Query)
			if err != nil {
				e.logger.Debug("relationship embedding failed, falling back to token overlap", zap.Error(err))
				useEmbeddings = false
				break
			}
			vectors[i] = vec
		}
	}

	for i := range entries {
		for j := range entries {
			if i == j || len(enriched[i].Related) >= maxRelated {
				continue
			}
			if Jaccard(entries[i].Query, entries[j].Query) < jaccardThreshold {
				continue
			}
			if useEmbeddings && Cosine(vectors[i], vectors[j]) < cosineThreshold {
				continue
			}
			enriched[i].Related = append(enriched[i].Related, entries[j].Key())
		}
	}
}

var preferenceMarkers = []string{"like", "love", "prefer", "favorite", "favourite", "hate", "dislike", "want", "wish", "enjoy"}

var factMarkers = []string{" is ", " are ", " was ", " were ", " has ", " have ", "born", "located", "called", "named", "means"}

// ClassifyKind labels text as fact, preference, or context by keyword
// rules. This is the provisional label a healthy NLP provider may refine.
func ClassifyKind(text string) domain.MemoryKind {
	lower := " " + strings.ToLower(text) + " "
	for _, m := range preferenceMarkers {
		if strings.Contains(lower, m) {
			return domain.KindPreference
		}
	}
	for _, m := range factMarkers {
		if strings.Contains(lower, m) {
			return domain.KindFact
		}
	}
	return domain.KindContext
}

var clusterMarkers = map[domain.SemanticCluster][]string{
	domain.ClusterTechnical: {"code", "python", "golang", "server", "api", "database", "software", "computer", "bug", "deploy", "programming"},
	domain.ClusterWork:      {"work", "job", "meeting", "project", "deadline", "company", "office", "client", "colleague"},
	domain.ClusterPersonal:  {"family", "friend", "wife", "husband", "mother", "father", "birthday", "home", "hobby", "vacation"},
}

// ClusterOf assigns a coarse topical cluster from entity-type heuristics.
func ClusterOf(text string) domain.SemanticCluster {
	lower := strings.ToLower(text)
	for _, cluster := range []domain.SemanticCluster{domain.ClusterTechnical, domain.ClusterWork, domain.ClusterPersonal} {
		for _, m := range clusterMarkers[cluster] {
			if strings.Contains(lower, m) {
				return cluster
			}
		}
	}
	return domain.ClusterGeneral
}

// Jaccard computes token-set overlap between two texts.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kari-ai/kari-core/internal/domain"
)

// Embed routes an embedding request to the first dispatchable provider
// declaring the embeddings capability, with the same per-provider
// accounting as generation dispatch.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	now := r.now()
	var errs []error

	for _, spec := range r.registry.Providers() {
		if !spec.Has(domain.CapEmbeddings) {
			continue
		}
		state := r.state(spec)
		if state.gate(now) != gateOK {
			continue
		}
		if err := r.takeToken(ctx, state); err != nil {
			errs = append(errs, err)
			continue
		}

		start := r.now()
		vec, err := spec.Client.Embed(ctx, text)
		if err != nil {
			state.recordFailure(err, r.now())
			r.metrics.ProviderFailures.WithLabelValues(spec.Name, string(domain.KindOf(err))).Inc()
			errs = append(errs, fmt.Errorf("embed via %s: %w", spec.Name, err))
			continue
		}
		state.recordSuccess(r.now().Sub(start), r.now())
		return vec, nil
	}

	if len(errs) == 0 {
		return nil, domain.NewClassified(domain.FailConfigurationMissing, errors.New("no embedding-capable provider registered"))
	}
	return nil, errors.Join(errs...)
}

// EmbeddingHealthy reports whether any embedding-capable provider is
// dispatchable.
func (r *Router) EmbeddingHealthy(ctx context.Context) bool {
	now := r.now()
	for _, spec := range r.registry.Providers() {
		if spec.Has(domain.CapEmbeddings) && r.state(spec).gate(now) == gateOK {
			return true
		}
	}
	return false
}

// EmbeddingFacade adapts the router to the memory side's embedding
// interfaces (vector adapter and enricher).
type EmbeddingFacade struct {
	Router *Router
}

func (f *EmbeddingFacade) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Router.Embed(ctx, text)
}

func (f *EmbeddingFacade) Healthy(ctx context.Context) bool {
	return f.Router.EmbeddingHealthy(ctx)
}

const classifyPrompt = "Classify the following statement as exactly one of: fact, preference, context. Reply with the single word only.\n\nStatement: %s"

// ClassifierFacade refines memory-kind labels through a routed LLM call.
type ClassifierFacade struct {
	Router *Router
}

func (f *ClassifierFacade) Healthy(ctx context.Context) bool {
	var skipped []error
	return len(f.Router.buildChain(&domain.RoutingRequest{}, &skipped)) > 0
}

func (f *ClassifierFacade) ClassifyKind(ctx context.Context, text string) (domain.MemoryKind, error) {
	resp, err := f.Router.Route(ctx, &domain.RoutingRequest{
		Message:       fmt.Sprintf(classifyPrompt, text),
		CorrelationID: "", // minted by Route
	})
	if err != nil {
		return "", err
	}
	if resp.Degraded {
		return "", errors.New("classification unavailable in degraded mode")
	}

	label := strings.ToLower(strings.TrimSpace(resp.Content))
	switch {
	case strings.Contains(label, "preference"):
		return domain.KindPreference, nil
	case strings.Contains(label, "fact"):
		return domain.KindFact, nil
	case strings.Contains(label, "context"):
		return domain.KindContext, nil
	}
	return "", fmt.Errorf("unrecognized kind label %q", label)
}

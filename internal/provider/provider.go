// Package provider implements the inference clients the router
// dispatches to, plus the factory that assembles their registry specs.
package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/secrets"
)

// New builds a client for the named provider. Providers that require an
// API key fail here when the resolver has none for them.
func New(name string, resolver secrets.Resolver) (domain.ProviderClient, error) {
	switch name {
	case "openai":
		key, ok := resolver.APIKey("openai")
		if !ok {
			return nil, fmt.Errorf("openai API key not configured")
		}
		return NewOpenAIClient(key), nil
	case "anthropic":
		key, ok := resolver.APIKey("anthropic")
		if !ok {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		return NewAnthropicClient(key), nil
	case "gemini":
		key, ok := resolver.APIKey("gemini")
		if !ok {
			return nil, fmt.Errorf("gemini API key not configured")
		}
		return NewGeminiClient(key), nil
	case "deepseek":
		key, ok := resolver.APIKey("deepseek")
		if !ok {
			return nil, fmt.Errorf("deepseek API key not configured")
		}
		return NewDeepseekClient(key), nil
	case "local":
		return NewLocalClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// specTemplate carries everything about a provider except its client.
type specTemplate struct {
	name           string
	bucket         domain.PriorityBucket
	requiresAPIKey bool
	capabilities   []domain.Capability
	defaultModel   string
	fallbackModels []string
	maxRequests    int
	windowSeconds  int
}

var templates = []specTemplate{
	{
		name:          "local",
		bucket:        domain.BucketLocal,
		capabilities:  []domain.Capability{domain.CapStreaming, domain.CapEmbeddings, domain.CapLocalExecution},
		defaultModel:  "local-echo",
		maxRequests:   1000,
		windowSeconds: 60,
	},
	{
		name:           "openai",
		bucket:         domain.BucketRemote,
		requiresAPIKey: true,
		capabilities:   []domain.Capability{domain.CapStreaming, domain.CapEmbeddings, domain.CapFunctionCalling, domain.CapVision},
		defaultModel:   openAIDefaultModel,
		fallbackModels: []string{"gpt-4o", "gpt-3.5-turbo"},
		maxRequests:    60,
		windowSeconds:  60,
	},
	{
		name:           "anthropic",
		bucket:         domain.BucketRemote,
		requiresAPIKey: true,
		capabilities:   []domain.Capability{domain.CapStreaming, domain.CapVision},
		defaultModel:   anthropicDefaultModel,
		fallbackModels: []string{"claude-3-5-sonnet-latest"},
	},
	{
		name:           "gemini",
		bucket:         domain.BucketRemote,
		requiresAPIKey: true,
		capabilities:   []domain.Capability{domain.CapVision},
		defaultModel:   geminiDefaultModel,
		fallbackModels: []string{"gemini-1.5-pro"},
	},
	{
		name:           "deepseek",
		bucket:         domain.BucketFallback,
		requiresAPIKey: true,
		capabilities:   []domain.Capability{domain.CapStreaming},
		defaultModel:   deepseekDefaultModel,
	},
}

// BuildSpecs assembles registry specs for every provider the resolver
// has credentials for, plus the keyless local provider. Missing keys
// skip the provider with a warning rather than failing startup.
func BuildSpecs(resolver secrets.Resolver, logger *zap.Logger) []domain.ProviderSpec {
	specs := make([]domain.ProviderSpec, 0, len(templates))
	for _, t := range templates {
		client, err := New(t.name, resolver)
		if err != nil {
			logger.Warn("skipping provider",
				zap.String("provider", t.name),
				zap.Error(err))
			continue
		}

		caps := make(map[domain.Capability]bool, len(t.capabilities))
		for _, c := range t.capabilities {
			caps[c] = true
		}

		specs = append(specs, domain.ProviderSpec{
			Name:           t.name,
			Category:       domain.CategoryLLM,
			Bucket:         t.bucket,
			RequiresAPIKey: t.requiresAPIKey,
			Capabilities:   caps,
			DefaultModel:   t.defaultModel,
			FallbackModels: t.fallbackModels,
			MaxRequests:    t.maxRequests,
			WindowSeconds:  t.windowSeconds,
			Client:         client,
		})
	}
	return specs
}

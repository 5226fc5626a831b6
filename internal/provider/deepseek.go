package provider

import (
	"context"

	"github.com/kari-ai/kari-core/internal/domain"
)

const (
	deepseekBaseURL      = "https://api.deepseek.com/v1"
	deepseekDefaultModel = "deepseek-chat"
)

// DeepseekClient wraps the OpenAI-compatible codec pointed at the
// deepseek endpoint. Embeddings are not offered there.
type DeepseekClient struct {
	inner *OpenAIClient
}

func NewDeepseekClient(apiKey string) *DeepseekClient {
	return &DeepseekClient{inner: newOpenAICompatible(apiKey, deepseekBaseURL)}
}

func (c *DeepseekClient) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if req.Model == "" {
		req.Model = deepseekDefaultModel
	}
	return c.inner.Generate(ctx, req)
}

func (c *DeepseekClient) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan string, error) {
	if req.Model == "" {
		req.Model = deepseekDefaultModel
	}
	return c.inner.Stream(ctx, req)
}

func (c *DeepseekClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, domain.ErrNotSupported
}

func (c *DeepseekClient) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

package provider

import (
	"context"
	"sync"

	"github.com/kari-ai/kari-core/internal/domain"
)

// MockClient is a scriptable client for tests. Zero value answers every
// call successfully with canned content.
type MockClient struct {
	mu sync.Mutex

	Response    string
	Embedding   []float32
	GenerateErr error
	StreamErr   error
	EmbedErr    error
	HealthErr   error

	GenerateCalls int
	StreamCalls   int
	EmbedCalls    int
	HealthCalls   int

	// GenerateFn, when set, overrides the canned response per call.
	GenerateFn func(ctx context.Context, req domain.GenerateRequest) (string, error)
}

func NewMockClient(response string) *MockClient {
	return &MockClient{Response: response}
}

func (c *MockClient) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	c.mu.Lock()
	c.GenerateCalls++
	fn, resp, err := c.GenerateFn, c.Response, c.GenerateErr
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if resp == "" {
		resp = "mock response"
	}
	return resp, nil
}

func (c *MockClient) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan string, error) {
	c.mu.Lock()
	c.StreamCalls++
	err := c.StreamErr
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	content, genErr := c.Generate(ctx, req)
	if genErr != nil {
		return nil, genErr
	}

	out := make(chan string, 1)
	out <- content
	close(out)
	return out, nil
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedCalls++
	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	if c.Embedding != nil {
		return c.Embedding, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (c *MockClient) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HealthCalls++
	return c.HealthErr
}

func (c *MockClient) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GenerateErr = err
	c.StreamErr = err
	c.EmbedErr = err
	c.HealthErr = err
}

func (c *MockClient) Recover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GenerateErr = nil
	c.StreamErr = nil
	c.EmbedErr = nil
	c.HealthErr = nil
}

package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kari-ai/kari-core/internal/domain"
)

const localEmbeddingDim = 384

// LocalClient is the offline responder of last resort before degraded
// mode. It answers deterministically from the prompt, streams, and
// produces hash-derived embeddings so the memory path keeps working
// with no remote backend reachable.
type LocalClient struct{}

func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

func (c *LocalClient) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "I need a prompt to respond to.", nil
	}
	return fmt.Sprintf("Acknowledged: %s. Remote providers are unavailable; this response was generated locally without model inference.", summarize(prompt)), nil
}

func (c *LocalClient) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan string, error) {
	content, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, word := range strings.Fields(content) {
			select {
			case out <- word + " ":
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Embed maps text to a unit vector derived from token hashes. Identical
// text always yields the identical vector.
func (c *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, localEmbeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % localEmbeddingDim)
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (c *LocalClient) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func summarize(prompt string) string {
	const maxLen = 120
	if len(prompt) <= maxLen {
		return prompt
	}
	return prompt[:maxLen] + "..."
}

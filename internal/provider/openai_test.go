package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kari-ai/kari-core/internal/domain"
)

func TestOpenAIClient_Generate(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  Paris.  "}},
			},
		})
	}))
	defer srv.Close()

	c := newOpenAICompatible("sk-test", srv.URL)
	content, err := c.Generate(context.Background(), domain.GenerateRequest{Prompt: "capital of France?"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if content != "Paris." {
		t.Errorf("expected trimmed content, got %q", content)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotReq.Model != openAIDefaultModel {
		t.Errorf("expected the default model, got %q", gotReq.Model)
	}
}

func TestOpenAIClient_GenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	c := newOpenAICompatible("sk-test", srv.URL)
	_, err := c.Generate(context.Background(), domain.GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected an error for a 429")
	}
	if !domain.IsRateLimited(err) {
		t.Errorf("a 429 must classify as rate limited: %v", err)
	}
}

func TestOpenAIClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := newOpenAICompatible("sk-test", srv.URL)
	chunks, err := c.Stream(context.Background(), domain.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got string
	for chunk := range chunks {
		got += chunk
	}
	if got != "Hello" {
		t.Errorf("expected reassembled stream Hello, got %q", got)
	}
}

func TestOpenAIClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer srv.Close()

	c := newOpenAICompatible("sk-test", srv.URL)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("unexpected embedding %v", vec)
	}
}

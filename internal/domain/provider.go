package domain

import (
	"context"
	"time"
)

// ProviderCategory groups providers by what they serve.
type ProviderCategory string

const (
	CategoryLLM         ProviderCategory = "llm"
	CategoryEmbedding   ProviderCategory = "embedding"
	CategoryUIFramework ProviderCategory = "ui_framework"
)

// Capability declares an invocation shape a provider supports. The router
// selects how to call a provider from its capability set, never by probing
// for methods.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapEmbeddings      Capability = "embeddings"
	CapFunctionCalling Capability = "function_calling"
	CapVision          Capability = "vision"
	CapLocalExecution  Capability = "local_execution"
)

// PriorityBucket is the coarse class used by the local-first ladder.
type PriorityBucket string

const (
	BucketLocal       PriorityBucket = "local"
	BucketTransformer PriorityBucket = "transformer"
	BucketNLP         PriorityBucket = "nlp"
	BucketLightweight PriorityBucket = "lightweight"
	BucketRemote      PriorityBucket = "remote"
	BucketFallback    PriorityBucket = "fallback"
)

// BucketOrder lists priority buckets in dispatch order.
var BucketOrder = []PriorityBucket{
	BucketLocal, BucketTransformer, BucketNLP,
	BucketLightweight, BucketRemote, BucketFallback,
}

// GenerateRequest is the provider-level inference request.
type GenerateRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// ProviderClient is the contract every inference provider implements.
// Stream is only called when the spec declares CapStreaming; Embed only
// under CapEmbeddings. Unsupported calls return ErrNotSupported.
type ProviderClient interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Stream(ctx context.Context, req GenerateRequest) (<-chan string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) error
}

// ProviderSpec describes a registered provider.
type ProviderSpec struct {
	Name           string
	Category       ProviderCategory
	Bucket         PriorityBucket
	RequiresAPIKey bool
	Capabilities   map[Capability]bool
	DefaultModel   string
	FallbackModels []string

	// Rate limit override; zero values fall back to router defaults.
	MaxRequests   int
	WindowSeconds int

	Client ProviderClient
}

// Has reports whether the provider declares the capability.
func (s *ProviderSpec) Has(c Capability) bool {
	return s.Capabilities[c]
}

// ModelMetadata describes a model a runtime may load.
type ModelMetadata struct {
	ID            string
	Family        string
	Format        string
	Parameters    string
	Quantization  string
	ContextLength int
	LocalPath     string
}

// RuntimeRequirements are the predicates optimal runtime selection filters by.
type RuntimeRequirements struct {
	RequiresGPU     bool
	MemoryEfficient bool
	Streaming       bool
	HighThroughput  bool
	FastStartup     bool
}

// RuntimeSpec describes an execution engine that can load and run models.
type RuntimeSpec struct {
	Name              string
	SupportedFamilies []string
	SupportedFormats  []string
	RequiresGPU       bool
	SupportsStreaming bool
	MemoryEfficient   bool
	HighThroughput    bool
	FastStartup       bool
	Priority          int // 0..100, higher wins

	Load      func(cfg map[string]any) (any, error)
	Health    func(ctx context.Context) error
	Available func() bool
}

// SupportsFormat reports whether the runtime accepts the model format.
func (r *RuntimeSpec) SupportsFormat(format string) bool {
	for _, f := range r.SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// SupportsFamily reports family compatibility. An empty family list on
// either side means no constraint.
func (r *RuntimeSpec) SupportsFamily(family string) bool {
	if family == "" || len(r.SupportedFamilies) == 0 {
		return true
	}
	for _, f := range r.SupportedFamilies {
		if f == family {
			return true
		}
	}
	return false
}

// ProviderHealth is a read snapshot of a provider's dispatch state.
// At most one of healthy / circuit-open / rate-limited governs dispatch.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Healthy             bool          `json:"is_healthy"`
	LastCheck           time.Time     `json:"last_check"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CircuitOpenUntil    time.Time     `json:"circuit_open_until,omitempty"`
	RateLimitedUntil    time.Time     `json:"rate_limited_until,omitempty"`
	WindowStart         time.Time     `json:"window_start"`
	RequestsInWindow    int           `json:"requests_in_window"`
	AvgLatency          time.Duration `json:"avg_latency"`
	LastError           string        `json:"last_error,omitempty"`
}

// RoutingRequest enters the router.
type RoutingRequest struct {
	Message           string
	Stream            bool
	PreferredProvider string
	PreferredModel    string
	MaxTokens         int
	Temperature       float32
	ConversationID    string
	CorrelationID     string
}

// DegradedReason tags a degraded-mode response with the inferred cause.
type DegradedReason string

const (
	DegradedAllProvidersFailed DegradedReason = "all_providers_failed"
	DegradedAPIRateLimits      DegradedReason = "api_rate_limits"
	DegradedNetworkIssues      DegradedReason = "network_issues"
	DegradedResourceExhaustion DegradedReason = "resource_exhaustion"
)

// RoutingResponse is the router's answer. For streaming requests Chunks is
// an ordered lazy sequence; Content carries the full text otherwise.
type RoutingResponse struct {
	Provider       string
	Model          string
	Content        string
	Chunks         <-chan string
	Degraded       bool
	DegradedReason DegradedReason
	CorrelationID  string
	Latency        time.Duration
}

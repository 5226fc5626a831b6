package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the contractual collectors. Names are part of the public
// contract; do not rename them.
type Metrics struct {
	ProviderSelections *prometheus.CounterVec
	ProviderFallbacks  *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	ProviderFailures   *prometheus.CounterVec
	MemoryStores       prometheus.Counter
	MemoryRecalls      prometheus.Counter
	RecallMisses       prometheus.Counter
	BufferedWrites     prometheus.Counter
	BufferReplays      prometheus.Counter
}

// NewMetrics registers the collectors on reg. Registering twice on the
// same registry reuses the existing collectors instead of failing.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kari_llm_provider_selections_total",
			Help: "Provider selections by policy and result.",
		}, []string{"provider", "policy", "result"}),
		ProviderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kari_llm_provider_fallbacks_total",
			Help: "Fallback transitions between providers.",
		}, []string{"from", "to", "reason"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kari_llm_provider_latency_seconds",
			Help:    "Provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "policy"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kari_llm_provider_failures_total",
			Help: "Provider call failures by error class.",
		}, []string{"provider", "error_type"}),
		MemoryStores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kari_memory_store_total",
			Help: "Memory write operations.",
		}),
		MemoryRecalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kari_memory_recall_total",
			Help: "Memory recall operations.",
		}),
		RecallMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kari_memory_recall_miss_total",
			Help: "Recalls answered by no tier.",
		}),
		BufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kari_memory_buffered_writes_total",
			Help: "Writes parked in the buffer while the authoritative store was down.",
		}),
		BufferReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kari_memory_buffer_replays_total",
			Help: "Buffered writes replayed into the authoritative store.",
		}),
	}

	m.ProviderSelections = registerCounterVec(reg, m.ProviderSelections)
	m.ProviderFallbacks = registerCounterVec(reg, m.ProviderFallbacks)
	m.ProviderLatency = registerHistogramVec(reg, m.ProviderLatency)
	m.ProviderFailures = registerCounterVec(reg, m.ProviderFailures)
	m.MemoryStores = registerCounter(reg, m.MemoryStores)
	m.MemoryRecalls = registerCounter(reg, m.MemoryRecalls)
	m.RecallMisses = registerCounter(reg, m.RecallMisses)
	m.BufferedWrites = registerCounter(reg, m.BufferedWrites)
	m.BufferReplays = registerCounter(reg, m.BufferReplays)
	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return h
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
		panic(err)
	}
	return c
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		*target = are
		return true
	}
	return false
}

package router

import (
	"sync"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
)

// Dispatch gate defaults. Per-provider overrides come from the spec.
const (
	defaultMaxRequests  = 30
	defaultWindow       = 60 * time.Second
	rateLimitCooldown   = 15 * time.Second
	circuitThreshold    = 3
	circuitOpenDuration = 60 * time.Second
	latencyRingSize     = 20
	maxWindowWait       = 15 * time.Second
)

// gateResult says why a provider cannot be dispatched right now.
type gateResult string

const (
	gateOK          gateResult = "ok"
	gateUnhealthy   gateResult = "unhealthy"
	gateCircuitOpen gateResult = "circuit_open"
	gateRateLimited gateResult = "rate_limited"
)

// providerState tracks one provider's dispatch state. All transitions are
// guarded by the per-provider lock; readers take a snapshot. At most one
// of healthy / circuit-open / rate-limited governs dispatch at a time, and
// an open circuit strictly suppresses dispatch until it expires.
type providerState struct {
	mu sync.Mutex

	name        string
	maxRequests int
	window      time.Duration

	healthy             bool
	lastCheck           time.Time
	consecutiveFailures int
	circuitOpenUntil    time.Time
	rateLimitedUntil    time.Time
	windowStart         time.Time
	requestsInWindow    int
	lastErr             string

	latencies [latencyRingSize]time.Duration
	latIdx    int
	latCount  int
}

func newProviderState(spec *domain.ProviderSpec, now time.Time) *providerState {
	maxReq := spec.MaxRequests
	if maxReq <= 0 {
		maxReq = defaultMaxRequests
	}
	window := defaultWindow
	if spec.WindowSeconds > 0 {
		window = time.Duration(spec.WindowSeconds) * time.Second
	}
	return &providerState{
		name:        spec.Name,
		maxRequests: maxReq,
		window:      window,
		healthy:     true,
		windowStart: now,
	}
}

// gate reports whether the provider may be dispatched at now.
func (s *providerState) gate(now time.Time) gateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.circuitOpenUntil.After(now):
		return gateCircuitOpen
	case s.rateLimitedUntil.After(now):
		return gateRateLimited
	case !s.healthy:
		return gateUnhealthy
	}
	return gateOK
}

// acquireToken consumes one fixed-window token. When the window is
// exhausted it returns false plus the boundary the caller may wait for
// before retrying once.
func (s *providerState) acquireToken(now time.Time) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boundary := s.windowStart.Add(s.window)
	if !now.Before(boundary) {
		s.windowStart = now
		s.requestsInWindow = 0
		boundary = now.Add(s.window)
	}

	if s.requestsInWindow < s.maxRequests {
		s.requestsInWindow++
		return true, time.Time{}
	}
	return false, boundary
}

// recordSuccess clears the failure streak, resets the circuit, and pushes
// the observed latency into the ring.
func (s *providerState) recordSuccess(latency time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.healthy = true
	s.lastCheck = now
	s.consecutiveFailures = 0
	s.circuitOpenUntil = time.Time{}
	s.lastErr = ""

	s.latencies[s.latIdx] = latency
	s.latIdx = (s.latIdx + 1) % latencyRingSize
	if s.latCount < latencyRingSize {
		s.latCount++
	}
}

// recordFailure bumps the failure streak, applies the rate-limit cooldown
// when the error was a throttle, and opens the circuit at the threshold.
func (s *providerState) recordFailure(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCheck = now
	s.consecutiveFailures++
	if err != nil {
		s.lastErr = err.Error()
	}

	if domain.IsRateLimited(err) {
		s.rateLimitedUntil = now.Add(rateLimitCooldown)
	}
	if s.consecutiveFailures >= circuitThreshold {
		s.circuitOpenUntil = now.Add(circuitOpenDuration)
	}
}

// setHealthy records a background health-check result.
func (s *providerState) setHealthy(healthy bool, detail string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
	s.lastCheck = now
	if !healthy && detail != "" {
		s.lastErr = detail
	}
}

// snapshot returns a read copy for status endpoints and policy selection.
func (s *providerState) snapshot() domain.ProviderHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total time.Duration
	for i := 0; i < s.latCount; i++ {
		total += s.latencies[i]
	}
	var avg time.Duration
	if s.latCount > 0 {
		avg = total / time.Duration(s.latCount)
	}

	return domain.ProviderHealth{
		Provider:            s.name,
		Healthy:             s.healthy,
		LastCheck:           s.lastCheck,
		ConsecutiveFailures: s.consecutiveFailures,
		CircuitOpenUntil:    s.circuitOpenUntil,
		RateLimitedUntil:    s.rateLimitedUntil,
		WindowStart:         s.windowStart,
		RequestsInWindow:    s.requestsInWindow,
		AvgLatency:          avg,
		LastError:           s.lastErr,
	}
}

// Package router selects and dispatches LLM providers with health
// monitoring, circuit breaking, rate limiting, retries, streaming, and a
// deterministic degraded mode when every provider is down.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/kari-ai/kari-core/internal/obs"
	"github.com/kari-ai/kari-core/internal/registry"
	"go.uber.org/zap"
)

const (
	maxAttempts          = 3
	maxFallbackProviders = 2
	callTimeout          = 30 * time.Second
	healthCheckTimeout   = 2 * time.Second
	monitorInterval      = 30 * time.Second
	backoffBase          = 1 * time.Second
	backoffMax           = 10 * time.Second
	jitterMax            = 0.5
)

// Router is the policy-based provider selector. One Router exists per
// Core; all of its state lives on the value, never in package globals.
type Router struct {
	registry *registry.Registry
	metrics  *obs.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	policy Policy
	states map[string]*providerState
	rot    *rotor

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	// Injectable clocks keep the retry and window tests fast.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(reg *registry.Registry, metrics *obs.Metrics, logger *zap.Logger) *Router {
	return &Router{
		registry: reg,
		metrics:  metrics,
		logger:   logger,
		policy:   PolicyPriority,
		states:   make(map[string]*providerState),
		rot:      newRotor(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetPolicy switches the active ordering policy at runtime.
func (r *Router) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// ActivePolicy returns the policy in use.
func (r *Router) ActivePolicy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// state returns the dispatch state for a provider, creating it on first
// sight.
func (r *Router) state(spec *domain.ProviderSpec) *providerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[spec.Name]
	if !ok {
		s = newProviderState(spec, r.now())
		r.states[spec.Name] = s
	}
	return s
}

// ResetProvider drops the dispatch state for a provider. Called on
// unregistration so re-registering restores first-registration behavior.
func (r *Router) ResetProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, name)
}

// Snapshots returns a health snapshot per known provider.
func (r *Router) Snapshots() []domain.ProviderHealth {
	specs := r.registry.Providers()
	out := make([]domain.ProviderHealth, 0, len(specs))
	for _, spec := range specs {
		out = append(out, r.state(spec).snapshot())
	}
	return out
}

// HealthFor returns the snapshot for one provider.
func (r *Router) HealthFor(name string) (domain.ProviderHealth, error) {
	spec, err := r.registry.Provider(name)
	if err != nil {
		return domain.ProviderHealth{}, err
	}
	return r.state(spec).snapshot(), nil
}

// buildChain resolves the preferred-provider hint and returns the ordered
// dispatch chain: the selected provider plus up to two fallbacks. The
// gate reasons of skipped providers are appended to skipped for degraded
// reason inference.
func (r *Router) buildChain(req *domain.RoutingRequest, skipped *[]error) []*domain.ProviderSpec {
	now := r.now()

	var candidates []*domain.ProviderSpec
	for _, spec := range r.registry.Providers() {
		if spec.Category == domain.CategoryEmbedding || spec.Category == domain.CategoryUIFramework {
			continue
		}
		if g := r.state(spec).gate(now); g != gateOK {
			*skipped = append(*skipped, fmt.Errorf("provider %s skipped: %s", spec.Name, gateError(g)))
			continue
		}
		candidates = append(candidates, spec)
	}

	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()
	ordered := order(policy, candidates, r.rot)

	if preferred := r.resolvePreferred(req, ordered); preferred != nil {
		reordered := []*domain.ProviderSpec{preferred}
		for _, spec := range ordered {
			if spec.Name != preferred.Name {
				reordered = append(reordered, spec)
			}
		}
		ordered = reordered
	}

	if len(ordered) > maxFallbackProviders+1 {
		ordered = ordered[:maxFallbackProviders+1]
	}
	return ordered
}

func gateError(g gateResult) string {
	switch g {
	case gateRateLimited:
		return "rate limited"
	case gateCircuitOpen:
		return "circuit open"
	default:
		return "unhealthy"
	}
}

// resolvePreferred applies the preferred provider/model rules. A hint
// that cannot be honored is dropped with a log, never an error.
func (r *Router) resolvePreferred(req *domain.RoutingRequest, healthy []*domain.ProviderSpec) *domain.ProviderSpec {
	byName := func(name string) *domain.ProviderSpec {
		for _, spec := range healthy {
			if spec.Name == name {
				return spec
			}
		}
		return nil
	}

	switch {
	case req.PreferredProvider != "" && req.PreferredModel != "":
		spec := byName(req.PreferredProvider)
		if spec == nil || spec.DefaultModel != req.PreferredModel {
			r.logger.Info("preferred provider/model hint dropped",
				zap.String("provider", req.PreferredProvider),
				zap.String("model", req.PreferredModel),
				zap.String("correlation_id", req.CorrelationID))
			return nil
		}
		return spec

	case req.PreferredModel != "":
		for _, spec := range healthy {
			if spec.DefaultModel == req.PreferredModel {
				return spec
			}
		}
		r.logger.Info("preferred model hint dropped, no healthy provider declares it",
			zap.String("model", req.PreferredModel),
			zap.String("correlation_id", req.CorrelationID))
		return nil

	case req.PreferredProvider != "":
		if spec := byName(req.PreferredProvider); spec != nil {
			return spec
		}
		r.logger.Info("preferred provider hint dropped, provider not dispatchable",
			zap.String("provider", req.PreferredProvider),
			zap.String("correlation_id", req.CorrelationID))
		return nil
	}
	return nil
}

// SelectProvider returns the provider the active policy would dispatch,
// without dispatching.
func (r *Router) SelectProvider(ctx context.Context, req *domain.RoutingRequest) (string, error) {
	var skipped []error
	chain := r.buildChain(req, &skipped)
	if len(chain) == 0 {
		return "", domain.NewClassified(domain.FailAllProviders, errors.New("no dispatchable provider"))
	}
	return chain[0].Name, nil
}

// Route dispatches the request through the selection chain. On chain
// exhaustion the caller receives a degraded-mode response, never an
// error: provider failures surface only through the response shape.
func (r *Router) Route(ctx context.Context, req *domain.RoutingRequest) (*domain.RoutingResponse, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = obs.NewRouterCorrelationID()
	}
	ctx = obs.WithCorrelationID(ctx, req.CorrelationID)
	r.StartHealthMonitor()

	r.mu.RLock()
	policy := string(r.policy)
	r.mu.RUnlock()

	log := r.logger.With(
		zap.String("correlation_id", req.CorrelationID),
		zap.String("policy", policy),
	)

	var errs []error
	chain := r.buildChain(req, &errs)
	if len(chain) == 0 {
		log.Warn("no dispatchable provider, entering degraded mode")
		r.metrics.ProviderSelections.WithLabelValues("degraded", policy, "degraded").Inc()
		return degradedResponse(req, domain.DegradedReasonFor(errs)), nil
	}

	for i, spec := range chain {
		if i > 0 {
			reason := domain.DegradedReasonFor(errs)
			r.metrics.ProviderFallbacks.WithLabelValues(chain[i-1].Name, spec.Name, string(reason)).Inc()
			log.Info("falling back to next provider",
				zap.String("from", chain[i-1].Name),
				zap.String("to", spec.Name),
				zap.String("reason", string(reason)))
		}

		resp, err := r.attempt(ctx, spec, req, policy, log)
		if err == nil {
			r.metrics.ProviderSelections.WithLabelValues(spec.Name, policy, "success").Inc()
			return resp, nil
		}
		if domain.KindOf(err) == domain.FailCancelled {
			return nil, err
		}
		r.metrics.ProviderSelections.WithLabelValues(spec.Name, policy, "failure").Inc()
		errs = append(errs, err)
	}

	log.Warn("provider chain exhausted, entering degraded mode", zap.Int("providers_tried", len(chain)))
	r.metrics.ProviderSelections.WithLabelValues("degraded", policy, "degraded").Inc()
	return degradedResponse(req, domain.DegradedReasonFor(errs)), nil
}

// attempt runs the retry loop against a single provider: token bucket,
// timeout, exponential backoff with jitter. Retries are sequential; a
// circuit opening mid-loop aborts the remaining attempts.
func (r *Router) attempt(ctx context.Context, spec *domain.ProviderSpec, req *domain.RoutingRequest, policy string, log *zap.Logger) (*domain.RoutingResponse, error) {
	state := r.state(spec)
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewClassified(domain.FailCancelled, err)
		}

		if g := state.gate(r.now()); g != gateOK {
			return nil, gateFailure(spec.Name, g)
		}

		if err := r.takeToken(ctx, state); err != nil {
			return nil, err
		}

		start := r.now()
		resp, err := r.invoke(ctx, spec, req)
		latency := r.now().Sub(start)

		if err == nil {
			state.recordSuccess(latency, r.now())
			r.metrics.ProviderLatency.WithLabelValues(spec.Name, policy).Observe(latency.Seconds())
			resp.Provider = spec.Name
			resp.CorrelationID = req.CorrelationID
			resp.Latency = latency
			return resp, nil
		}

		if domain.KindOf(err) == domain.FailCancelled {
			return nil, err
		}

		state.recordFailure(err, r.now())
		r.metrics.ProviderFailures.WithLabelValues(spec.Name, string(domain.KindOf(err))).Inc()
		log.Warn("provider call failed",
			zap.String("provider", spec.Name),
			zap.Int("attempt", n),
			zap.Error(err))
		lastErr = err

		if n < maxAttempts {
			if err := r.sleep(ctx, backoffDelay(n)); err != nil {
				return nil, domain.NewClassified(domain.FailCancelled, err)
			}
		}
	}
	return nil, fmt.Errorf("provider %s exhausted %d attempts: %w", spec.Name, maxAttempts, lastErr)
}

func gateFailure(name string, g gateResult) error {
	switch g {
	case gateCircuitOpen:
		return domain.NewClassified(domain.FailCircuitOpen, fmt.Errorf("provider %s circuit open", name))
	case gateRateLimited:
		return domain.NewClassified(domain.FailRateLimited, fmt.Errorf("provider %s rate limited", name))
	default:
		return domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("provider %s unhealthy", name))
	}
}

// takeToken consumes a fixed-window token, sleeping until the window
// boundary (capped) and retrying once when the window is spent.
func (r *Router) takeToken(ctx context.Context, state *providerState) error {
	ok, boundary := state.acquireToken(r.now())
	if ok {
		return nil
	}

	wait := boundary.Sub(r.now())
	if wait > maxWindowWait {
		wait = maxWindowWait
	}
	if wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return domain.NewClassified(domain.FailCancelled, err)
		}
	}

	if ok, _ = state.acquireToken(r.now()); ok {
		return nil
	}
	return domain.NewClassified(domain.FailRateLimited, fmt.Errorf("provider %s request window exhausted (rate limit)", state.name))
}

// invoke chooses the invocation shape from the provider's declared
// capabilities and executes the call.
func (r *Router) invoke(ctx context.Context, spec *domain.ProviderSpec, req *domain.RoutingRequest) (*domain.RoutingResponse, error) {
	model := spec.DefaultModel
	if req.PreferredModel != "" && req.PreferredModel == spec.DefaultModel {
		model = req.PreferredModel
	}
	greq := domain.GenerateRequest{
		Prompt:      req.Message,
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.Stream && spec.Has(domain.CapStreaming) {
		// No deadline on the stream itself; cancellation flows from the
		// caller's context and must terminate the upstream call promptly.
		chunks, err := spec.Client.Stream(ctx, greq)
		if err != nil {
			return nil, err
		}
		return &domain.RoutingResponse{Model: model, Chunks: chunks}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	content, err := spec.Client.Generate(callCtx, greq)
	if err != nil {
		return nil, err
	}

	resp := &domain.RoutingResponse{Model: model, Content: content}
	if req.Stream {
		ch := make(chan string, 1)
		ch <- content
		close(ch)
		resp.Chunks = ch
	}
	return resp, nil
}

// backoffDelay is min(base * 2^(n-1), max) plus uniform jitter in
// [0, 0.5) seconds.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > backoffMax {
		d = backoffMax
	}
	jitter := time.Duration(rand.Float64() * jitterMax * float64(time.Second))
	return d + jitter
}

// StartHealthMonitor launches the background provider health loop. A
// second call while the monitor runs is a no-op; the router starts it
// lazily on first Route.
func (r *Router) StartHealthMonitor() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.monitorDone != nil {
		select {
		case <-r.monitorDone:
			// Previous monitor finished; restart below.
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.monitorCancel = cancel
	r.monitorDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		r.logger.Info("provider health monitor started")
		for {
			select {
			case <-ticker.C:
				r.checkAll(ctx)
			case <-ctx.Done():
				r.logger.Info("provider health monitor stopped")
				return
			}
		}
	}()
}

// StopHealthMonitor cancels the monitor and waits for it to exit.
// Idempotent.
func (r *Router) StopHealthMonitor() {
	r.monitorMu.Lock()
	cancel := r.monitorCancel
	done := r.monitorDone
	r.monitorCancel = nil
	r.monitorMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// checkAll probes every provider once. Health-check errors never fail a
// request; they only flip dispatch state.
func (r *Router) checkAll(ctx context.Context) {
	for _, spec := range r.registry.Providers() {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := spec.Client.HealthCheck(checkCtx)
		cancel()

		state := r.state(spec)
		if err != nil {
			state.setHealthy(false, err.Error(), r.now())
			r.logger.Warn("provider health check failed",
				zap.String("provider", spec.Name), zap.Error(err))
		} else {
			state.setHealthy(true, "", r.now())
		}
	}
}

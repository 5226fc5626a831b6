// Package registry holds the pluggable maps of inference providers and
// execution runtimes, with compatibility matching between models and
// runtimes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
)

var (
	ErrProviderNotFound = errors.New("provider not registered")
	ErrRuntimeNotFound  = errors.New("runtime not registered")
	ErrNoRuntime        = errors.New("no compatible runtime")
)

// ComponentHealth is the cached last health-check result per component.
type ComponentHealth struct {
	Healthy   bool
	LastCheck time.Time
	Error     string
}

// Registry is the thread-safe mapping from name to provider/runtime spec
// plus an instance cache keyed by the hash of initialization kwargs.
// Reads dominate; writes happen only on (un)registration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*domain.ProviderSpec
	runtimes  map[string]*domain.RuntimeSpec
	instances map[uint64]any
	health    map[string]ComponentHealth
}

func New() *Registry {
	return &Registry{
		providers: make(map[string]*domain.ProviderSpec),
		runtimes:  make(map[string]*domain.RuntimeSpec),
		instances: make(map[uint64]any),
		health:    make(map[string]ComponentHealth),
	}
}

// RegisterProvider adds or replaces a provider spec.
func (r *Registry) RegisterProvider(spec *domain.ProviderSpec) error {
	if spec.Name == "" {
		return errors.New("provider spec requires a name")
	}
	if spec.Client == nil {
		return fmt.Errorf("provider %s requires a client", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[spec.Name] = spec
	return nil
}

// UnregisterProvider removes a provider and its cached health.
func (r *Registry) UnregisterProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.health, "provider:"+name)
}

// Provider returns the spec for name.
func (r *Registry) Provider(name string) (*domain.ProviderSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return spec, nil
}

// Providers returns all registered provider specs, sorted by name so
// callers iterate deterministically.
func (r *Registry) Providers() []*domain.ProviderSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*domain.ProviderSpec, 0, len(r.providers))
	for _, spec := range r.providers {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// RegisterRuntime adds or replaces a runtime spec.
func (r *Registry) RegisterRuntime(spec *domain.RuntimeSpec) error {
	if spec.Name == "" {
		return errors.New("runtime spec requires a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[spec.Name] = spec
	return nil
}

// UnregisterRuntime removes a runtime.
func (r *Registry) UnregisterRuntime(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runtimes, name)
	delete(r.health, "runtime:"+name)
}

// Runtime returns the spec for name.
func (r *Registry) Runtime(name string) (*domain.RuntimeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.runtimes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeNotFound, name)
	}
	return spec, nil
}

// CompatibleRuntimes returns every runtime whose supported formats include
// the model's format and whose family constraint (when both sides declare
// one) matches, sorted by descending priority with alphabetical ties.
func (r *Registry) CompatibleRuntimes(model domain.ModelMetadata) []*domain.RuntimeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var compatible []*domain.RuntimeSpec
	for _, rt := range r.runtimes {
		if !rt.SupportsFormat(model.Format) {
			continue
		}
		if !rt.SupportsFamily(model.Family) {
			continue
		}
		compatible = append(compatible, rt)
	}

	sort.Slice(compatible, func(i, j int) bool {
		if compatible[i].Priority != compatible[j].Priority {
			return compatible[i].Priority > compatible[j].Priority
		}
		return compatible[i].Name < compatible[j].Name
	})
	return compatible
}

// OptimalRuntime filters compatible runtimes by the requirement predicates
// and returns the highest-priority survivor, falling back to the first
// unfiltered compatible runtime when nothing survives.
func (r *Registry) OptimalRuntime(model domain.ModelMetadata, req domain.RuntimeRequirements) (*domain.RuntimeSpec, error) {
	compatible := r.CompatibleRuntimes(model)
	if len(compatible) == 0 {
		return nil, fmt.Errorf("%w for model %s (%s/%s)", ErrNoRuntime, model.ID, model.Family, model.Format)
	}

	for _, rt := range compatible {
		if req.RequiresGPU && !rt.RequiresGPU {
			continue
		}
		if req.MemoryEfficient && !rt.MemoryEfficient {
			continue
		}
		if req.Streaming && !rt.SupportsStreaming {
			continue
		}
		if req.HighThroughput && !rt.HighThroughput {
			continue
		}
		if req.FastStartup && !rt.FastStartup {
			continue
		}
		return rt, nil
	}
	return compatible[0], nil
}

// Instance returns a cached instance for the runtime/kwargs pair, loading
// one on first use. The cache key is the FNV hash of the runtime name and
// the kwargs in sorted-key order.
func (r *Registry) Instance(name string, kwargs map[string]any) (any, error) {
	rt, err := r.Runtime(name)
	if err != nil {
		return nil, err
	}
	if rt.Load == nil {
		return nil, fmt.Errorf("runtime %s has no loader", name)
	}

	key := instanceKey(name, kwargs)

	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	inst, err = rt.Load(kwargs)
	if err != nil {
		return nil, fmt.Errorf("load runtime %s: %w", name, err)
	}

	r.mu.Lock()
	r.instances[key] = inst
	r.mu.Unlock()
	return inst, nil
}

// CheckProviderHealth runs the provider's health callback and caches the
// result. Health-check errors never propagate; they mutate cached state.
func (r *Registry) CheckProviderHealth(ctx context.Context, name string) ComponentHealth {
	spec, err := r.Provider(name)
	if err != nil {
		return ComponentHealth{Healthy: false, LastCheck: time.Now(), Error: err.Error()}
	}

	h := ComponentHealth{LastCheck: time.Now()}
	if err := spec.Client.HealthCheck(ctx); err != nil {
		h.Error = err.Error()
	} else {
		h.Healthy = true
	}

	r.mu.Lock()
	r.health["provider:"+name] = h
	r.mu.Unlock()
	return h
}

// CheckRuntimeHealth runs the runtime's health callback and caches the
// result.
func (r *Registry) CheckRuntimeHealth(ctx context.Context, name string) ComponentHealth {
	spec, err := r.Runtime(name)
	if err != nil {
		return ComponentHealth{Healthy: false, LastCheck: time.Now(), Error: err.Error()}
	}

	h := ComponentHealth{LastCheck: time.Now()}
	switch {
	case spec.Available != nil && !spec.Available():
		h.Error = "runtime unavailable"
	case spec.Health != nil:
		if err := spec.Health(ctx); err != nil {
			h.Error = err.Error()
		} else {
			h.Healthy = true
		}
	default:
		h.Healthy = true
	}

	r.mu.Lock()
	r.health["runtime:"+name] = h
	r.mu.Unlock()
	return h
}

// LastHealth returns the cached health for "provider:<name>" or
// "runtime:<name>" keys.
func (r *Registry) LastHealth(key string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[key]
	return h, ok
}

func instanceKey(name string, kwargs map[string]any) uint64 {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	for _, k := range keys {
		_, _ = fmt.Fprintf(h, "|%s=%v", k, kwargs[k])
	}
	return h.Sum64()
}

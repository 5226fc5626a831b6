package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrKeyNotFound  = errors.New("key not found")
	ErrNotSupported = errors.New("operation not supported by provider")
)

// FailureKind is the error taxonomy the router and orchestrator act on.
// Classification happens once, at the boundary that produced the error.
type FailureKind string

const (
	FailTransientBackend     FailureKind = "transient_backend"
	FailRateLimited          FailureKind = "rate_limited"
	FailCircuitOpen          FailureKind = "circuit_open"
	FailConfigurationMissing FailureKind = "configuration_missing"
	FailAllProviders         FailureKind = "unrecoverable_all_providers"
	FailAllAdapters          FailureKind = "unrecoverable_all_adapters"
	FailCancelled            FailureKind = "cancelled"
)

// ClassifiedError pairs an error with its taxonomy kind.
type ClassifiedError struct {
	Kind FailureKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassified wraps err with the given kind.
func NewClassified(kind FailureKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf returns the classified kind of err, falling back to substring
// heuristics for errors that crossed an unclassified boundary. The
// heuristics are a last resort; wrappers should classify at the call site.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return FailCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTransientBackend
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return FailRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return FailTransientBackend
	case strings.Contains(msg, "quota") || strings.Contains(msg, "exhaust") ||
		strings.Contains(msg, "memory") || strings.Contains(msg, "resource"):
		return FailTransientBackend
	}
	return FailTransientBackend
}

// IsRateLimited reports whether err indicates provider throttling.
func IsRateLimited(err error) bool {
	return KindOf(err) == FailRateLimited
}

// DegradedReasonFor infers the degraded-mode reason from the errors
// collected across a failed fallback chain.
func DegradedReasonFor(errs []error) DegradedReason {
	has := func(subs ...string) bool {
		for _, err := range errs {
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			for _, s := range subs {
				if strings.Contains(msg, s) {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("rate limit", "429"):
		return DegradedAPIRateLimits
	case has("timeout", "timed out", "connection", "network"):
		return DegradedNetworkIssues
	case has("quota", "exhaust", "memory", "resource"):
		return DegradedResourceExhaustion
	default:
		return DegradedAllProvidersFailed
	}
}

// AdapterErrors aggregates per-adapter failures for a write rejected by
// every adapter.
type AdapterErrors struct {
	Errs map[AdapterKind]error
}

func (e *AdapterErrors) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for kind, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", kind, err))
	}
	sort.Strings(parts)
	return "all adapters rejected write: " + strings.Join(parts, "; ")
}

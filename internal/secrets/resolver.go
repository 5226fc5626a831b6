// Package secrets resolves provider API keys from the environment with an
// explicit per-provider precedence list. Lookups are pure: no caching, no
// side effects, so config reloads see fresh values.
package secrets

import "os"

// Resolver resolves the API key for a provider name.
type Resolver interface {
	APIKey(provider string) (string, bool)
}

// EnvResolver reads keys from environment variables.
type EnvResolver struct {
	// precedence maps provider name to the env vars probed, in order.
	precedence map[string][]string
}

// NewEnvResolver returns a resolver with the contractual provider→env
// mapping. The first non-empty variable in a provider's list wins.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{
		precedence: map[string][]string{
			"openai":      {"OPENAI_API_KEY"},
			"anthropic":   {"ANTHROPIC_API_KEY"},
			"gemini":      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
			"deepseek":    {"DEEPSEEK_API_KEY"},
			"huggingface": {"HUGGINGFACE_API_KEY", "HF_TOKEN"},
			"cohere":      {"COHERE_API_KEY"},
			"copilotkit":  {"COPILOT_API_KEY"},
		},
	}
}

// APIKey returns the key for the provider and whether one was found.
// Unknown providers resolve to nothing rather than guessing a spelling.
func (r *EnvResolver) APIKey(provider string) (string, bool) {
	vars, ok := r.precedence[provider]
	if !ok {
		return "", false
	}
	for _, v := range vars {
		if val := os.Getenv(v); val != "" {
			return val, true
		}
	}
	return "", false
}

// StaticResolver serves fixed keys; used by tests and embedded setups.
type StaticResolver map[string]string

func (r StaticResolver) APIKey(provider string) (string, bool) {
	key, ok := r[provider]
	return key, ok && key != ""
}

package secrets

import "testing"

func TestEnvResolver_Precedence(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	r := NewEnvResolver()
	key, ok := r.APIKey("gemini")
	if !ok || key != "google-key" {
		t.Fatalf("expected the fallback variable, got %q ok=%v", key, ok)
	}

	t.Setenv("GEMINI_API_KEY", "gemini-key")
	key, ok = r.APIKey("gemini")
	if !ok || key != "gemini-key" {
		t.Fatalf("the first variable must win, got %q ok=%v", key, ok)
	}
}

func TestEnvResolver_Missing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	r := NewEnvResolver()
	if _, ok := r.APIKey("openai"); ok {
		t.Error("an empty variable resolves to nothing")
	}
	if _, ok := r.APIKey("unknown-provider"); ok {
		t.Error("unknown providers resolve to nothing")
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"openai": "sk-test", "empty": ""}

	if key, ok := r.APIKey("openai"); !ok || key != "sk-test" {
		t.Errorf("expected sk-test, got %q ok=%v", key, ok)
	}
	if _, ok := r.APIKey("empty"); ok {
		t.Error("empty keys resolve to nothing")
	}
	if _, ok := r.APIKey("absent"); ok {
		t.Error("absent keys resolve to nothing")
	}
}

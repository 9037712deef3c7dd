package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini", nil); err == nil {
		t.Error("empty provider name should be rejected")
	}
	if _, err := New("openai", "", nil); err == nil {
		t.Error("empty model should be rejected")
	}
	_, err := New("fakecloud", "some-model", []anyllmlib.Option{anyllmlib.WithAPIKey("dummy")})
	if err == nil {
		t.Fatal("unsupported provider should be rejected")
	}
	if !strings.Contains(err.Error(), "fakecloud") {
		t.Errorf("error should name the provider, got %q", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	g, err := New("openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.systemPrompt != DefaultSystemPrompt {
		t.Errorf("systemPrompt = %q, want default", g.systemPrompt)
	}
	if g.temperature != defaultTemperature {
		t.Errorf("temperature = %v, want %v", g.temperature, defaultTemperature)
	}
	if g.maxTokens != defaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", g.maxTokens, defaultMaxTokens)
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	g, err := New("ollama", "llama3.2", []anyllmlib.Option{anyllmlib.WithBaseURL("http://localhost:11434")},
		WithSystemPrompt("be brief"),
		WithTemperature(0.2),
		WithMaxTokens(64),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.systemPrompt != "be brief" {
		t.Errorf("systemPrompt = %q", g.systemPrompt)
	}
	if g.temperature != 0.2 {
		t.Errorf("temperature = %v", g.temperature)
	}
	if g.maxTokens != 64 {
		t.Errorf("maxTokens = %d", g.maxTokens)
	}
}

func TestCreateBackend(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		"openai", "anthropic", "ollama", "llamacpp", "llamafile",
	} {
		if _, err := createBackend(name, anyllmlib.WithAPIKey("dummy")); err != nil {
			t.Errorf("createBackend(%q): %v", name, err)
		}
	}
}

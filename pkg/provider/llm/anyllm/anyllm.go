// Package anyllm provides a universal response generator backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	g, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	reply, err := g.Generate(ctx, "what's the weather like?", history)
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxpipe/voxpipe/pkg/provider/llm"
)

// DefaultSystemPrompt instructs the model to answer in a register suitable
// for speech synthesis: short, conversational replies.
const DefaultSystemPrompt = `You are a helpful voice assistant. Provide concise, clear responses suitable for speech. Be conversational and natural, keep responses under 2-3 sentences when possible, ask clarifying questions if needed, and remember context from the conversation.`

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 150
)

// Compile-time assertion that Generator implements llm.Generator.
var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator by wrapping github.com/mozilla-ai/any-llm-go.
// Generator is safe for concurrent use.
type Generator struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
}

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithSystemPrompt overrides [DefaultSystemPrompt].
func WithSystemPrompt(s string) Option {
	return func(g *Generator) { g.systemPrompt = s }
}

// WithTemperature overrides the sampling temperature. Default 0.7.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the completion length. Default 150 — voice replies are
// meant to be short.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// New creates a Generator backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model to use (e.g. "gpt-4o-mini").
//
// backendOpts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	g := &Generator{
		backend:      backend,
		model:        model,
		systemPrompt: DefaultSystemPrompt,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, transcript string, history []llm.Message) (string, error) {
	messages := make([]anyllmlib.Message, 0, len(history)+2)
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleSystem,
		Content: g.systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: transcript,
	})

	params := anyllmlib.CompletionParams{
		Model:    g.model,
		Messages: messages,
	}
	if g.temperature != 0 {
		t := g.temperature
		params.Temperature = &t
	}
	if g.maxTokens > 0 {
		mt := g.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := g.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// Package mock provides a test double for the llm.Generator interface.
//
// Use Generator in unit tests to verify the prompt and history the pipeline
// sends, and to inject canned replies or failures:
//
//	g := &mock.Generator{Reply: "It is sunny today."}
//	out, _ := g.Generate(ctx, "what's the weather?", nil)
//	if g.GenerateCalls[0].Transcript != "what's the weather?" { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generator.Generate.
type GenerateCall struct {
	// Transcript is the user transcript passed to Generate.
	Transcript string
	// History is a copy of the history passed to Generate.
	History []llm.Message
}

// Generator is a mock implementation of llm.Generator.
type Generator struct {
	mu sync.Mutex

	// Reply is returned by Generate.
	Reply string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// GenerateCalls records every call to Generate.
	GenerateCalls []GenerateCall
}

// Compile-time assertion that Generator implements llm.Generator.
var _ llm.Generator = (*Generator)(nil)

// Generate records the call and returns Reply, Err.
func (g *Generator) Generate(_ context.Context, transcript string, history []llm.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hist := make([]llm.Message, len(history))
	copy(hist, history)
	g.GenerateCalls = append(g.GenerateCalls, GenerateCall{Transcript: transcript, History: hist})
	if g.Err != nil {
		return "", g.Err
	}
	return g.Reply, nil
}

// Reset clears all recorded calls.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GenerateCalls = nil
}

// Package llm defines the Generator interface for response-generation
// backends.
//
// A generator turns one user transcript plus a bounded conversation history
// into the assistant's next reply. The turn pipeline treats generation as a
// single unary call; providers that stream internally should collect the full
// completion before returning.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Conversation roles, matching the OpenAI-style chat message convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser], or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Generator is the abstraction over any response-generation backend.
type Generator interface {
	// Generate produces the assistant's reply to transcript, with history
	// supplied in chronological order as additional conversation context.
	//
	// An empty reply with a nil error is a valid (if unhelpful) outcome; the
	// caller decides how to degrade. Errors indicate the backend failed.
	Generate(ctx context.Context, transcript string, history []Message) (string, error)
}

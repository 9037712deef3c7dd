// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer renders one complete reply text into a single PCM buffer. The
// turn pipeline chunks the buffer for streamed delivery itself, so providers
// that stream internally should collect all audio before returning.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes the voice configuration used for synthesis.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g. "alloy" for OpenAI,
	// a voice UUID for ElevenLabs).
	ID string

	// Language is the BCP-47 language tag the voice speaks (e.g. "en-US").
	Language string

	// Speed adjusts the speaking rate (0.5–2.0, 0 = provider default).
	Speed float64
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text as mono 16-bit PCM at the pipeline sample rate
	// and returns the complete audio buffer.
	//
	// Empty text is an error — the pipeline never synthesises a blank reply.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

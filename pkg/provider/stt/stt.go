// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber wraps a batch transcription service (a local whisper-server
// instance, the OpenAI audio API, …) behind a single unary call: one complete
// speech payload in, one transcript out. The turn pipeline always submits a
// fully reassembled utterance, so no streaming session state is needed here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// Result is a committed transcription of one speech payload.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts p into text. language is a BCP-47 tag (e.g. "en",
	// "en-US"); an empty string lets the provider auto-detect where supported.
	//
	// A clean recognition of silence returns an empty Result and no error;
	// errors indicate the provider itself failed.
	Transcribe(ctx context.Context, p audio.Payload, language string) (Result, error)
}

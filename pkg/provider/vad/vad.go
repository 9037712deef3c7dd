// Package vad defines the Detector interface for voice-activity detection
// backends.
//
// A detector answers two questions about a complete audio payload: is any
// speech present at all, and where are the speech regions. Detection is
// synchronous by design — it runs locally over buffered PCM and gates the
// expensive transcription stage, so it must not block on the network.
//
// Implementations must be safe for concurrent use.
package vad

import "github.com/voxpipe/voxpipe/pkg/audio"

// Detector is the abstraction over any voice-activity detection backend.
type Detector interface {
	// SpeechPresent reports whether p contains any detectable speech.
	// An error indicates the detector itself failed (wrong format, internal
	// fault) — it is distinct from a clean "no speech" result.
	SpeechPresent(p audio.Payload) (bool, error)

	// ExtractSegments returns the speech regions of p as independent payloads
	// in chronological order, with each segment carrying p's format fields.
	// A payload with no speech yields an empty slice and no error.
	ExtractSegments(p audio.Payload) ([]audio.Payload, error)
}

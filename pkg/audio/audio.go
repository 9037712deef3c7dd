// Package audio defines the payload and fragment types shared by every stage
// of the voice turn pipeline, together with the stream reassembly and chunking
// primitives used by the gateway.
//
// All pipeline stages operate on mono 16-bit signed little-endian PCM at the
// payload's declared sample rate. The core never resamples; format conversion
// is the concern of the capability providers.
package audio

import (
	"encoding/binary"
	"time"
)

// DefaultSampleRate is the sample rate assumed when a caller does not declare one.
const DefaultSampleRate = 16000

// DefaultChunkSize is the outbound fragment payload size used by [Split].
const DefaultChunkSize = 4096

// bitsPerSample is fixed at 16; the pipeline carries 16-bit signed
// little-endian PCM end to end.
const bitsPerSample = 16

// Encoding identifies the byte layout of a [Payload].
type Encoding string

// EncodingPCM16 is 16-bit signed little-endian PCM, the single encoding the
// pipeline supports.
const EncodingPCM16 Encoding = "pcm16"

// Payload is one contiguous buffer of audio flowing through the pipeline.
type Payload struct {
	// Data is the raw sample data.
	Data []byte

	// SampleRate in Hz. Defaults to [DefaultSampleRate].
	SampleRate int

	// Channels is the channel count. The pipeline is mono-only (1).
	Channels int

	// Encoding is the sample layout. Only [EncodingPCM16] is supported.
	Encoding Encoding
}

// NewPayload wraps data in a Payload with the pipeline's default format
// (mono 16-bit PCM at 16 kHz).
func NewPayload(data []byte) Payload {
	return Payload{
		Data:       data,
		SampleRate: DefaultSampleRate,
		Channels:   1,
		Encoding:   EncodingPCM16,
	}
}

// Empty reports whether the payload carries no sample data.
func (p Payload) Empty() bool { return len(p.Data) == 0 }

// Duration returns the playback duration of the payload, or 0 if the format
// fields are not populated.
func (p Payload) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	samples := len(p.Data) / (2 * p.Channels)
	return time.Duration(samples) * time.Second / time.Duration(p.SampleRate)
}

// Fragment is one piece of a chunked audio stream. The same shape is used for
// inbound reconstruction and outbound delivery.
type Fragment struct {
	// SessionID keys the fragment to its conversation stream.
	SessionID string `json:"session_id"`

	// Sequence is the monotonic fragment index, starting at 0.
	// [ErrorSequence] marks an error sentinel.
	Sequence int64 `json:"sequence"`

	// Data is the fragment's slice of the audio payload. JSON-encoded as base64.
	Data []byte `json:"data,omitempty"`

	// Final marks the last fragment of a stream. It is the sole completion
	// signal; sequence numbers are informational.
	Final bool `json:"final"`
}

// ErrorSequence is the sentinel sequence number carried by the single final
// fragment a stream emits when the pipeline fails.
const ErrorSequence int64 = -1

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container, suitable for upload to batch transcription services.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

package audio

import (
	"bytes"
	"sync"
)

// Reassembler accumulates inbound audio fragments into one contiguous payload
// per session. Fragments are appended in arrival order; the Final flag is the
// sole completion signal. Sequence numbers are not used for ordering — a
// sender that interleaves fragments out of order gets them back in arrival
// order. Concurrent feeds under the same session id likewise interleave in
// arrival order, with the first Final fragment winning.
//
// A finalised session's buffer is discarded, so a subsequent stream under the
// same session id starts clean.
//
// Reassembler is safe for concurrent use; different session ids proceed fully
// in parallel apart from the map access itself.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*bytes.Buffer

	sampleRate int
}

// NewReassembler creates an empty Reassembler. Completed payloads are stamped
// with sampleRate; pass 0 to use [DefaultSampleRate].
func NewReassembler(sampleRate int) *Reassembler {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Reassembler{
		buffers:    make(map[string]*bytes.Buffer),
		sampleRate: sampleRate,
	}
}

// Feed appends frag to its session's buffer, creating the buffer on first
// contact. When frag.Final is set the accumulated bytes are returned as a
// complete Payload (done=true) and the buffer entry is discarded. Otherwise
// done is false and the zero Payload is returned.
//
// An empty final fragment on a fresh session yields a zero-length payload;
// rejecting that as "no audio" is the downstream pipeline's job.
func (r *Reassembler) Feed(frag Fragment) (p Payload, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[frag.SessionID]
	if !ok {
		buf = &bytes.Buffer{}
		r.buffers[frag.SessionID] = buf
	}
	buf.Write(frag.Data)

	if !frag.Final {
		return Payload{}, false
	}

	delete(r.buffers, frag.SessionID)
	return Payload{
		Data:       buf.Bytes(),
		SampleRate: r.sampleRate,
		Channels:   1,
		Encoding:   EncodingPCM16,
	}, true
}

// Abort discards any partial buffer held for sessionID. Call it when an
// inbound stream disconnects before its final fragment so the partial payload
// never reaches the pipeline.
func (r *Reassembler) Abort(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, sessionID)
}

// Open returns the number of sessions currently buffering.
func (r *Reassembler) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

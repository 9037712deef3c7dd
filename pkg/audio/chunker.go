package audio

// Split cuts data into outbound fragments of at most chunkSize bytes with
// monotonic sequence numbers starting at 0 and the Final flag set on the last
// fragment. A chunkSize of 0 or less uses [DefaultChunkSize].
//
// Split is the exact inverse of [Reassembler.Feed]: feeding the returned
// fragments back through a Reassembler reproduces data byte for byte.
//
// A zero-length input yields exactly one empty final fragment, so a stream
// consumer sees an explicit "no audio" marker rather than a silently closed
// stream.
func Split(sessionID string, data []byte, chunkSize int) []Fragment {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if len(data) == 0 {
		return []Fragment{{SessionID: sessionID, Sequence: 0, Final: true}}
	}

	n := (len(data) + chunkSize - 1) / chunkSize
	frags := make([]Fragment, 0, n)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		frags = append(frags, Fragment{
			SessionID: sessionID,
			Sequence:  int64(off / chunkSize),
			Data:      data[off:end],
			Final:     end == len(data),
		})
	}
	return frags
}

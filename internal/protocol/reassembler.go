package protocol

// Reassembler extracts complete frames out of a stream of socket reads,
// retaining any incomplete tail between calls. Bytes are appended to an
// internal buffer; each completed frame's body is copied into its own
// slice, and the remaining bytes are moved to the front of the buffer
// after every extracted frame.
type Reassembler struct {
	buf []byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{buf: make([]byte, 0, 4096)}
}

// Feed appends newly read bytes to the internal buffer.
func (r *Reassembler) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next extracts the next complete frame from the buffer, if one is fully
// present. ok is false when more bytes are needed.
func (r *Reassembler) Next() (frame *Frame, ok bool, err error) {
	if len(r.buf) < 1 {
		return nil, false, nil
	}
	version, isResponse, err := PeekVersion(r.buf)
	if err != nil {
		return nil, false, err
	}
	headerLen := 2 + version.StreamIDWidth() + 1 + 4
	if len(r.buf) < headerLen {
		return nil, false, nil
	}
	h, err := DecodeHeader(r.buf)
	if err != nil {
		return nil, false, err
	}
	total := headerLen + int(h.BodyLength)
	if len(r.buf) < total {
		return nil, false, nil
	}

	body := make([]byte, h.BodyLength)
	copy(body, r.buf[headerLen:total])

	f := &Frame{
		Version:  h.Version,
		Flags:    h.Flags,
		StreamID: h.StreamID,
		Opcode:   h.Opcode,
		Body:     body,
	}
	_ = isResponse

	remaining := len(r.buf) - total
	if remaining == 0 {
		r.buf = r.buf[:0]
	} else {
		copy(r.buf, r.buf[total:])
		r.buf = r.buf[:remaining]
	}
	return f, true, nil
}

// Pending returns the number of bytes currently buffered and not yet
// forming a complete frame.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Package protocol implements the wire framing this driver speaks: the
// frame header (8 bytes for v3, 9 bytes for v4+), opcode/flag constants, and protocol-version
// capability queries. Binary encoding of CQL value types is explicitly out
// of scope here — a Frame carries an opaque body []byte and the codec
// above this layer (request builders, result decoders) is an external
// collaborator.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Version is a negotiated protocol version number.
type Version uint8

const (
	VersionUnknown Version = 0
	V3             Version = 3
	V4             Version = 4
	V5             Version = 5
	V6             Version = 6
)

// MaxSupportedVersion is the highest version this driver proposes during
// STARTUP negotiation.
const MaxSupportedVersion = V5

// MinSupportedVersion is the lowest version this driver will downgrade to
// before giving up.
const MinSupportedVersion = V3

// Lower returns the next lower version to retry with after a
// PROTOCOL_ERROR, and whether a lower version exists at all.
func (v Version) Lower() (Version, bool) {
	if v <= MinSupportedVersion {
		return v, false
	}
	return v - 1, true
}

// StreamIDWidth reports whether this version uses 1-byte ([0,2^7)) or
// 2-byte ([0,2^15)) stream ids.
func (v Version) StreamIDWidth() int {
	if v <= V3 {
		return 1
	}
	return 2
}

// MaxStreamID is the exclusive upper bound of the stream id space for v.
func (v Version) MaxStreamID() int32 {
	if v.StreamIDWidth() == 1 {
		return 1 << 7
	}
	return 1 << 15
}

// SupportsTimestampInFlags reports whether QUERY/EXECUTE/BATCH flags carry
// an explicit client timestamp (protocol v3+).
func (v Version) SupportsTimestampInFlags() bool { return v >= V3 }

// SupportsContinuousPaging reports whether this version supports the
// DSE-style continuous paging extension.
func (v Version) SupportsContinuousPaging() bool { return v >= V5 }

// Opcode identifies the kind of frame body.
type Opcode uint8

// Request opcodes.
const (
	OpError        Opcode = 0x00
	OpStartup      Opcode = 0x01
	OpReady        Opcode = 0x02
	OpAuthenticate Opcode = 0x03
	OpOptions      Opcode = 0x05
	OpSupported    Opcode = 0x06
	OpQuery        Opcode = 0x07
	OpResult       Opcode = 0x08
	OpPrepare      Opcode = 0x09
	OpExecute      Opcode = 0x0A
	OpRegister     Opcode = 0x0B
	OpEvent        Opcode = 0x0C
	OpBatch        Opcode = 0x0D
	OpAuthChallenge Opcode = 0x0E
	OpAuthResponse  Opcode = 0x0F
	OpAuthSuccess   Opcode = 0x10
)

func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	case OpPrepare:
		return "PREPARE"
	case OpExecute:
		return "EXECUTE"
	case OpRegister:
		return "REGISTER"
	case OpEvent:
		return "EVENT"
	case OpBatch:
		return "BATCH"
	case OpAuthChallenge:
		return "AUTH_CHALLENGE"
	case OpAuthResponse:
		return "AUTH_RESPONSE"
	case OpAuthSuccess:
		return "AUTH_SUCCESS"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(o))
	}
}

// HeaderFlags are the per-frame flags carried in byte 1 of the header.
// Their meaning is version-dependent beyond the low two bits.
type HeaderFlags uint8

const (
	FlagCompression   HeaderFlags = 0x01
	FlagTracing       HeaderFlags = 0x02
	FlagCustomPayload HeaderFlags = 0x04
	FlagWarning       HeaderFlags = 0x08
	FlagUseBeta       HeaderFlags = 0x10
)

// maxHeaderLength is the largest frame header size (2-byte stream id):
// version, flags, stream id (1 or 2 bytes depending on version), opcode,
// body length.
const maxHeaderLength = 9

// Frame is a decoded (or to-be-encoded) protocol frame. Body is opaque —
// higher layers are responsible for the CQL type encoding of its
// contents; this package only frames it.
type Frame struct {
	Version  Version
	Flags    HeaderFlags
	StreamID int16
	Opcode   Opcode
	Body     []byte
}

// HeaderLen returns the on-wire header length for this frame's version:
// version(1) + flags(1) + stream id(1 or 2) + opcode(1) + body length(4).
func (f *Frame) HeaderLen() int {
	return 2 + f.Version.StreamIDWidth() + 1 + 4
}

// EncodeHeader writes this frame's 9-byte (or 8-byte, legacy) header into
// dst, which must be at least HeaderLen() bytes. The direction bit
// (request vs response) is folded into Version's high bit per the wire
// convention: requests carry the raw version, responses carry version|0x80.
func (f *Frame) EncodeHeader(dst []byte, isResponse bool) error {
	n := f.HeaderLen()
	if len(dst) < n {
		return fmt.Errorf("protocol: header buffer too small: have %d need %d", len(dst), n)
	}
	v := byte(f.Version)
	if isResponse {
		v |= 0x80
	}
	dst[0] = v
	dst[1] = byte(f.Flags)
	off := 2
	if f.Version.StreamIDWidth() == 1 {
		dst[off] = byte(f.StreamID)
		off++
	} else {
		binary.BigEndian.PutUint16(dst[off:], uint16(f.StreamID))
		off += 2
	}
	dst[off] = byte(f.Opcode)
	off++
	binary.BigEndian.PutUint32(dst[off:], uint32(len(f.Body)))
	return nil
}

// Encode serializes the full frame (header + body) as a new byte slice.
func (f *Frame) Encode(isResponse bool) ([]byte, error) {
	n := f.HeaderLen()
	buf := make([]byte, n+len(f.Body))
	if err := f.EncodeHeader(buf[:n], isResponse); err != nil {
		return nil, err
	}
	copy(buf[n:], f.Body)
	return buf, nil
}

// ParsedHeader is the decoded form of a frame header, before the body
// (whose length it names) has necessarily arrived.
type ParsedHeader struct {
	Version    Version
	IsResponse bool
	Flags      HeaderFlags
	StreamID   int16
	Opcode     Opcode
	BodyLength uint32
}

// HeaderLen returns how many header bytes this version uses.
func (h ParsedHeader) HeaderLen() int {
	return 2 + h.Version.StreamIDWidth() + 1 + 4
}

// PeekVersion reads the version byte of a header without otherwise
// parsing it; used by the reassembler to learn the header length before
// it has a full header in the buffer.
func PeekVersion(b []byte) (Version, bool, error) {
	if len(b) < 1 {
		return 0, false, fmt.Errorf("protocol: buffer too short to contain a version byte")
	}
	raw := b[0]
	isResponse := raw&0x80 != 0
	return Version(raw &^ 0x80), isResponse, nil
}

// DecodeHeader parses a frame header out of b, which must contain at
// least enough bytes for the version's header length (callers use
// PeekVersion first to learn how many bytes that is).
func DecodeHeader(b []byte) (ParsedHeader, error) {
	version, isResponse, err := PeekVersion(b)
	if err != nil {
		return ParsedHeader{}, err
	}
	want := 2 + version.StreamIDWidth() + 1 + 4
	if len(b) < want {
		return ParsedHeader{}, fmt.Errorf("protocol: short header: have %d need %d", len(b), want)
	}
	h := ParsedHeader{Version: version, IsResponse: isResponse}
	h.Flags = HeaderFlags(b[1])
	off := 2
	if version.StreamIDWidth() == 1 {
		h.StreamID = int16(int8(b[off]))
		off++
	} else {
		h.StreamID = int16(binary.BigEndian.Uint16(b[off:]))
		off += 2
	}
	h.Opcode = Opcode(b[off])
	off++
	h.BodyLength = binary.BigEndian.Uint32(b[off:])
	return h, nil
}

// ErrProtocolMismatch is returned by the negotiation helper when the
// server rejects every version this driver is willing to offer.
var ErrProtocolMismatch = fmt.Errorf("protocol: no mutually supported version")

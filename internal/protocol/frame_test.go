package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_Lower(t *testing.T) {
	v, ok := V5.Lower()
	assert.True(t, ok)
	assert.Equal(t, V4, v)

	v, ok = MinSupportedVersion.Lower()
	assert.False(t, ok, "the minimum supported version has no lower fallback")
	assert.Equal(t, MinSupportedVersion, v)
}

func TestVersion_StreamIDWidth(t *testing.T) {
	assert.Equal(t, 1, V3.StreamIDWidth())
	assert.Equal(t, 2, V4.StreamIDWidth())
	assert.Equal(t, 2, V5.StreamIDWidth())
}

func TestVersion_MaxStreamID(t *testing.T) {
	assert.Equal(t, int32(1<<7), V3.MaxStreamID())
	assert.Equal(t, int32(1<<15), V4.MaxStreamID())
}

func TestVersion_Capabilities(t *testing.T) {
	assert.False(t, Version(2).SupportsTimestampInFlags())
	assert.True(t, V3.SupportsTimestampInFlags())
	assert.False(t, V4.SupportsContinuousPaging())
	assert.True(t, V5.SupportsContinuousPaging())
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "QUERY", OpQuery.String())
	assert.Equal(t, "ERROR", OpError.String())
	assert.Contains(t, Opcode(0x7F).String(), "UNKNOWN")
}

func TestFrame_EncodeDecodeRoundTrip_V3(t *testing.T) {
	f := &Frame{Version: V3, Flags: FlagTracing, StreamID: 42, Opcode: OpQuery, Body: []byte("hello")}

	encoded, err := f.Encode(false)
	require.NoError(t, err)
	assert.Len(t, encoded, f.HeaderLen()+len(f.Body))

	header, err := DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, V3, header.Version)
	assert.False(t, header.IsResponse)
	assert.Equal(t, FlagTracing, header.Flags)
	assert.Equal(t, int16(42), header.StreamID)
	assert.Equal(t, OpQuery, header.Opcode)
	assert.Equal(t, uint32(len(f.Body)), header.BodyLength)
}

func TestFrame_EncodeDecodeRoundTrip_V5WideStreamID(t *testing.T) {
	f := &Frame{Version: V5, StreamID: 1000, Opcode: OpExecute, Body: []byte("params")}

	encoded, err := f.Encode(true)
	require.NoError(t, err)

	header, err := DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, V5, header.Version)
	assert.True(t, header.IsResponse, "the response direction bit must round-trip")
	assert.Equal(t, int16(1000), header.StreamID)
	assert.Equal(t, OpExecute, header.Opcode)
}

func TestFrame_HeaderLen_MatchesWireSize(t *testing.T) {
	// v3 uses a 1-byte stream id: version+flags+stream+opcode+length = 8.
	assert.Equal(t, 8, (&Frame{Version: V3}).HeaderLen())
	// v4+ uses a 2-byte stream id: 9 bytes total.
	assert.Equal(t, 9, (&Frame{Version: V4}).HeaderLen())
	assert.Equal(t, 9, (&Frame{Version: V5}).HeaderLen())

	f := &Frame{Version: V4, Opcode: OpQuery, Body: []byte("hello")}
	encoded, err := f.Encode(false)
	require.NoError(t, err)
	assert.Len(t, encoded, 9+len("hello"), "no stray byte may sit between header and body")
	assert.Equal(t, []byte("hello"), encoded[9:])
}

func TestFrame_EncodeHeader_BufferTooSmall(t *testing.T) {
	f := &Frame{Version: V4, Opcode: OpQuery}
	err := f.EncodeHeader(make([]byte, 2), false)
	assert.Error(t, err)
}

func TestPeekVersion(t *testing.T) {
	v, isResponse, err := PeekVersion([]byte{0x84})
	require.NoError(t, err)
	assert.Equal(t, V4, v)
	assert.True(t, isResponse)

	v, isResponse, err = PeekVersion([]byte{0x03})
	require.NoError(t, err)
	assert.Equal(t, V3, v)
	assert.False(t, isResponse)
}

func TestPeekVersion_EmptyBuffer(t *testing.T) {
	_, _, err := PeekVersion(nil)
	assert.Error(t, err)
}

func TestDecodeHeader_ShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{0x04, 0x00})
	assert.Error(t, err)
}

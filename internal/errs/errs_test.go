package errs

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoHostAvailableError_CopiesInputMap(t *testing.T) {
	src := map[string]error{"10.0.0.1:9042": errors.New("boom")}
	e := NewNoHostAvailableError(src)

	src["10.0.0.2:9042"] = errors.New("late addition")

	assert.Len(t, e.Errors, 1, "NewNoHostAvailableError must copy, not alias, the input map")
	assert.Contains(t, e.Error(), "1 host")
}

func TestNoHostAvailableError_EmptyMapMessage(t *testing.T) {
	e := NewNoHostAvailableError(nil)
	assert.Equal(t, "no host available: no hosts were tried", e.Error())
}

func TestAuthenticationError_Unwrap(t *testing.T) {
	inner := errors.New("bad credentials")
	e := NewAuthenticationError("10.0.0.1:9042", inner)

	assert.ErrorIs(t, e, inner)
	assert.Contains(t, e.Error(), "10.0.0.1:9042")
}

func TestDriverInternalError_Unwrap(t *testing.T) {
	inner := errors.New("invariant violated")
	e := NewDriverInternalError("host map consistency", inner)

	assert.ErrorIs(t, e, inner)
}

func TestDriverInternalError_WithoutInnerError(t *testing.T) {
	e := NewDriverInternalError("host map consistency", nil)
	assert.Equal(t, "driver internal error: host map consistency", e.Error())
}

func TestResponseError_FormatsCodeAndMessage(t *testing.T) {
	e := NewResponseError(CodeUnavailable, "not enough replicas")
	e.Endpoint = "10.0.0.1:9042"
	assert.Contains(t, e.Error(), "0x1000")
	assert.Contains(t, e.Error(), "not enough replicas")
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(errors.New("not a net error")))

	opErr := &net.OpError{Op: "read", Err: errors.New("connection reset")}
	assert.True(t, IsConnectionError(opErr))
}

func TestBusyConnectionError_Message(t *testing.T) {
	e := NewBusyConnectionError("10.0.0.1:9042")
	assert.Contains(t, e.Error(), "10.0.0.1:9042")
	assert.Contains(t, e.Error(), "busy")
}

func TestConnectionClosedError_Message(t *testing.T) {
	e := NewConnectionClosedError("10.0.0.1:9042", "request")
	assert.Contains(t, e.Error(), "10.0.0.1:9042")
	assert.Contains(t, e.Error(), "closed")
}

func TestNotSupportedError_Message(t *testing.T) {
	e := NewNotSupportedError("paging", 2)
	assert.Contains(t, e.Error(), "paging")
	assert.Contains(t, e.Error(), "2")
}

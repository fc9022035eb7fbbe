// Package errs defines the typed error taxonomy shared across the driver.
// Every error here is a concrete struct implementing error and Unwrap, so
// callers classify failures with errors.As/errors.Is instead of string
// matching.
package errs

import (
	"errors"
	"fmt"
	"net"
)

// ArgumentError signals invalid configuration or API misuse. Never retried.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument error: %s: %s", e.Field, e.Reason)
}

func NewArgumentError(field, reason string) *ArgumentError {
	return &ArgumentError{Field: field, Reason: reason}
}

// AuthenticationError means the server rejected credentials during STARTUP.
// It terminates the Connection and is surfaced per-endpoint under
// NoHostAvailableError.
type AuthenticationError struct {
	Endpoint string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error on %s: %v", e.Endpoint, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func NewAuthenticationError(endpoint string, err error) *AuthenticationError {
	return &AuthenticationError{Endpoint: endpoint, Err: err}
}

// BusyConnectionError means the selected Connection is saturated. The
// Request Handler moves to the next host transparently; this is never
// surfaced to the caller.
type BusyConnectionError struct {
	Endpoint string
}

func (e *BusyConnectionError) Error() string {
	return fmt.Sprintf("connection to %s is busy", e.Endpoint)
}

func NewBusyConnectionError(endpoint string) *BusyConnectionError {
	return &BusyConnectionError{Endpoint: endpoint}
}

// DriverInternalError indicates an invariant violation inside the driver
// itself. Logged and rethrown, never retried.
type DriverInternalError struct {
	Invariant string
	Err       error
}

func (e *DriverInternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver internal error (%s): %v", e.Invariant, e.Err)
	}
	return fmt.Sprintf("driver internal error: %s", e.Invariant)
}

func (e *DriverInternalError) Unwrap() error { return e.Err }

func NewDriverInternalError(invariant string, err error) *DriverInternalError {
	return &DriverInternalError{Invariant: invariant, Err: err}
}

// NoHostAvailableError aggregates a per-endpoint error map across all hosts
// a request tried. Terminal for that request.
type NoHostAvailableError struct {
	Errors map[string]error
}

func (e *NoHostAvailableError) Error() string {
	if len(e.Errors) == 0 {
		return "no host available: no hosts were tried"
	}
	return fmt.Sprintf("no host available: %d host(s) tried", len(e.Errors))
}

func NewNoHostAvailableError(perHost map[string]error) *NoHostAvailableError {
	cp := make(map[string]error, len(perHost))
	for k, v := range perHost {
		cp[k] = v
	}
	return &NoHostAvailableError{Errors: cp}
}

// NotSupportedError means the requested feature is incompatible with the
// negotiated protocol version.
type NotSupportedError struct {
	Feature         string
	ProtocolVersion int
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s is not supported on protocol version %d", e.Feature, e.ProtocolVersion)
}

func NewNotSupportedError(feature string, version int) *NotSupportedError {
	return &NotSupportedError{Feature: feature, ProtocolVersion: version}
}

// OperationTimedOutError is a per-request or per-metadata-query timeout.
// Retriable per the active retry policy.
type OperationTimedOutError struct {
	Endpoint string
	Op       string
}

func (e *OperationTimedOutError) Error() string {
	return fmt.Sprintf("operation %q timed out against %s", e.Op, e.Endpoint)
}

func NewOperationTimedOutError(endpoint, op string) *OperationTimedOutError {
	return &OperationTimedOutError{Endpoint: endpoint, Op: op}
}

// ConnectionClosedError signals that a pending operation was cancelled
// because its Connection closed, distinct from OperationTimedOutError:
// the request never got the chance to time out, the transport under it
// went away. Retriable against a different host, never the same one.
type ConnectionClosedError struct {
	Endpoint string
	Op       string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("operation %q on %s cancelled: connection closed", e.Op, e.Endpoint)
}

func NewConnectionClosedError(endpoint, op string) *ConnectionClosedError {
	return &ConnectionClosedError{Endpoint: endpoint, Op: op}
}

// ResponseCode mirrors the CQL protocol's server error codes (§6 of the
// wire format this driver speaks). Values follow the conventional CQL
// native-protocol error-code space.
type ResponseCode uint32

const (
	CodeServerError          ResponseCode = 0x0000
	CodeProtocolError        ResponseCode = 0x000A
	CodeAuthenticationError  ResponseCode = 0x0100
	CodeUnavailable          ResponseCode = 0x1000
	CodeOverloaded           ResponseCode = 0x1001
	CodeIsBootstrapping      ResponseCode = 0x1002
	CodeTruncateError        ResponseCode = 0x1003
	CodeWriteTimeout         ResponseCode = 0x1100
	CodeReadTimeout          ResponseCode = 0x1200
	CodeReadFailure          ResponseCode = 0x1300
	CodeFunctionFailure      ResponseCode = 0x1400
	CodeWriteFailure         ResponseCode = 0x1500
	CodeSyntaxError          ResponseCode = 0x2000
	CodeUnauthorized         ResponseCode = 0x2100
	CodeInvalid              ResponseCode = 0x2200
	CodeConfigError          ResponseCode = 0x2300
	CodeAlreadyExists        ResponseCode = 0x2400
	CodeUnprepared           ResponseCode = 0x2500
)

// ResponseError is a decoded server ERROR frame. Its Code determines which
// retry-policy hook the Request Handler invokes.
type ResponseError struct {
	Code    ResponseCode
	Message string
	// Endpoint is the host that returned this error, filled in by the
	// Request Handler before the error is handed to the retry policy.
	Endpoint string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server error 0x%04X from %s: %s", uint32(e.Code), e.Endpoint, e.Message)
}

func NewResponseError(code ResponseCode, message string) *ResponseError {
	return &ResponseError{Code: code, Message: message}
}

// IsConnectionError classifies a transport-level failure using
// errors.As against net.Error / net.OpError, the same classification
// shape used by the pool/connection layer to decide whether a socket is
// defunct rather than inspecting error strings.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable numeric error code following the JSON-RPC scheme,
// extended with domain codes in the -32000 range.
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603

	CodeAgentNotFound       ErrorCode = -32001
	CodeAgentSpawnFailed    ErrorCode = -32002
	CodeResourceNotFound    ErrorCode = -32003
	CodeToolExecutionFailed ErrorCode = -32004
	CodeSecurityViolation   ErrorCode = -32005
	CodeWorkflowFailed      ErrorCode = -32006
)

// Error is a typed protocol failure. Every rejected operation surfaces one of
// these so callers always see a stable code plus human-readable text.
type Error struct {
	Code    ErrorCode
	Message string
	Data    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured detail and returns the error for chaining.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// AsError extracts a protocol Error from err. Unexpected faults map to
// CodeInternalError so nothing escapes without a code.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// HasCode reports whether err carries the given protocol error code.
func HasCode(err error, code ErrorCode) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Code == code
}

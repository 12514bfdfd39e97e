// Package api defines the wire contract between the coordinator and its
// clients: error codes, request and response payloads, canonical object
// store paths and zkey index formatting.
package api

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code classifies a callable failure. Codes are stable wire values; clients
// switch on them to decide whether an operation can be retried.
type Code string

const (
	// CodeUnauthenticated means the request carried no usable credential.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	// CodePermissionDenied means the credential lacks a required claim.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeFailedPrecondition means a state guard rejected the call. The
	// caller must re-read server state before retrying.
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	// CodeNotFound means the referenced document does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeAlreadyExists means a unique resource was created twice.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	// CodeInvalidArgument means the request payload is malformed.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeUnavailable means a dependency failed transiently after the
	// server exhausted its own retries.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeInternal is everything else.
	CodeInternal Code = "INTERNAL"
)

// Error is the structured failure of a callable. It crosses the wire as
// {"code": ..., "message": ...}.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Error satisfies the error interface, printing in the CLI surface format.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the structured error from err, unwrapping as needed.
// Plain errors map to CodeInternal.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// ErrCode returns the code classifying err.
func ErrCode(err error) Code {
	return AsError(err).Code
}

// HTTPStatus maps a code onto the status line of the HTTP transport.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusClientClosedRequest is recorded when the client disconnects before
// a response is written. Nothing is sent on the wire.
const StatusClientClosedRequest = 499

// Error is an error with an HTTP status and a message that is safe to show
// to clients. Err carries the underlying cause for logging.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no underlying cause.
func New(status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg}
}

// Wrap builds an Error around cause.
func Wrap(cause error, status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg, Err: cause}
}

func BadRequest(msg string) *Error { return New(http.StatusBadRequest, "bad_request", msg) }
func Unauthorized(msg string) *Error {
	return New(http.StatusUnauthorized, "unauthorized", msg)
}
func Forbidden(msg string) *Error { return New(http.StatusForbidden, "forbidden", msg) }
func NotFound(msg string) *Error  { return New(http.StatusNotFound, "not_found", msg) }
func Conflict(msg string) *Error  { return New(http.StatusConflict, "conflict", msg) }
func TooManyRequests() *Error {
	return New(http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later")
}
func Internal(cause error) *Error {
	return Wrap(cause, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError))
}

// From classifies err. Errors that are already *Error keep their status;
// well known causes map to 4xx; everything else is a 500.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return he
	}

	var maxErr *http.MaxBytesError
	var synErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(err, StatusClientClosedRequest, "client_closed", "client closed request")
	case errors.As(err, &maxErr):
		return Wrap(err, http.StatusRequestEntityTooLarge, "payload_too_large", "request entity too large")
	case errors.As(err, &synErr), errors.As(err, &typeErr):
		return Wrap(err, http.StatusBadRequest, "invalid_body", "malformed request body")
	}
	return Internal(err)
}

// StatusOf returns the status From(err) would use, or 200 for nil.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return From(err).Status
}

func UnsupportedMediaType(msg string) *Error {
	return New(http.StatusUnsupportedMediaType, "unsupported_media_type", msg)
}

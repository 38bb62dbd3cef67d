// Package apierr is the typed error surfaced at the REST boundary: a
// small closed set of problem codes mapped to HTTP status, each carrying
// a typed Code, a status mapping, and a safe client-facing message, with
// the underlying cause kept around for logging only. It sits alongside
// the plain fmt.Errorf-wrapped errors used everywhere inside the domain.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code is the closed errorCode taxonomy the REST boundary exposes.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeSafetyBlock        Code = "SAFETY_BLOCK"
	CodeInfrastructureDown Code = "INFRASTRUCTURE_DOWN"
	CodeInternal           Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeSafetyBlock:        http.StatusUnprocessableEntity,
	CodeInfrastructureDown: http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a problem document: a closed Code, a message safe to return to
// the caller, and an optional Cause kept only for %w-wrapping and logging.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for e.Code, defaulting to 500 for an
// unrecognized code (never reachable for a Code produced by this package's
// own constructors).
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(CodeValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(CodeConflict, format, args...)
}

func SafetyBlock(format string, args ...any) *Error {
	return newf(CodeSafetyBlock, format, args...)
}

func InfrastructureDown(format string, args ...any) *Error {
	return newf(CodeInfrastructureDown, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newf(CodeInternal, format, args...)
}

// Wrap attaches cause to a new Error under code, for logging and Unwrap;
// cause's text never reaches the client-facing message.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := newf(code, format, args...)
	e.Cause = cause
	return e
}

// As reports whether err (or something it wraps) is an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// document is the JSON body written at the REST boundary. Intentionally
// smaller than a full RFC 7807 problem document (no "type"/"instance"
// URIs), but keeps the same code/message split.
type document struct {
	Code    Code   `json:"errorCode"`
	Message string `json:"message"`
}

// WriteJSON classifies err as an *Error (defaulting to CodeInternal with a
// generic message for anything else, so internal error text never leaks to
// the client) and writes the matching status + JSON problem document.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Internal("an internal error occurred")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(document{Code: apiErr.Code, Message: apiErr.Message})
}

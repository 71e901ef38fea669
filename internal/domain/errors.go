package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when another advance holds the job's claim
	ErrJobAlreadyClaimed = errors.New("job already claimed")

	// ErrJobTerminal is returned when advancing a job that is done or failed
	ErrJobTerminal = errors.New("job is in a terminal status")

	// ErrStepConflict is returned when a step completion loses its compare-and-swap
	ErrStepConflict = errors.New("job step changed concurrently")

	// ErrVideoNotFound is returned when a video projection does not exist
	ErrVideoNotFound = errors.New("video not found")

	// ErrProfileNotFound is returned when a voice profile does not exist
	ErrProfileNotFound = errors.New("voice profile not found")

	// ErrSessionNotFound is returned when a bearer token matches no session
	ErrSessionNotFound = errors.New("session not found")

	// ErrObjectNotFound is returned when a blob does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidPayload is returned when a broker message is malformed
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// Code is a stable machine-readable error code
type Code string

// Error codes surfaced at the HTTP boundary
const (
	CodeInvalidIdentifier  Code = "INVALID_IDENTIFIER"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeForbidden          Code = "FORBIDDEN"
	CodeAuthInvalid        Code = "AUTH_INVALID"
	CodeConsentRequired    Code = "CONSENT_REQUIRED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeProfileNotFound    Code = "PROFILE_NOT_FOUND"
	CodeVoiceNotFound      Code = "VOICE_NOT_FOUND"
	CodeVoiceIDUnresolved  Code = "VOICE_ID_NOT_RESOLVED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeStatusFetchFailed  Code = "STATUS_FETCH_FAILED"
	CodeTTSGenerationError Code = "TTS_GENERATION_ERROR"
	CodeVoiceTrainFailed   Code = "VOICE_TRAIN_FAIL"
	CodeFilesNotFound      Code = "FILES_NOT_FOUND"
	CodeStorageConfigError Code = "STORAGE_CONFIG_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a code to its HTTP status family
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidIdentifier, CodeInvalidInput, CodeConsentRequired, CodeVoiceIDUnresolved, CodeFilesNotFound:
		return http.StatusBadRequest
	case CodeAuthInvalid:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeProfileNotFound, CodeVoiceNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeStatusFetchFailed, CodeVoiceTrainFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a normalized failure carrying a code and a caller-safe message
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error
func (e *Error) Status() int {
	return e.Code.HTTPStatus()
}

// Is matches another *Error by code so errors.Is(err, &Error{Code: X}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates an Error with the given code and message
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error keeping the cause for server-side logs
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a malformed request
func InvalidInput(format string, args ...any) *Error {
	return NewError(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// InvalidIdentifier reports a string from which no video id could be extracted
func InvalidIdentifier(input string) *Error {
	return &Error{Code: CodeInvalidIdentifier, Message: "invalid video identifier", Details: map[string]any{"input": input}}
}

// Forbidden reports a caller lacking the required capability
func Forbidden(uid, required string) *Error {
	if uid == "" {
		uid = "anonymous"
	}
	return &Error{
		Code:    CodeForbidden,
		Message: "requires role: " + required,
		Details: map[string]any{"uid": uid, "required": required},
	}
}

// AuthInvalid reports a bad or missing credential
func AuthInvalid(message string) *Error {
	return NewError(CodeAuthInvalid, message)
}

// NotFound reports a missing document
func NotFound(what string) *Error {
	return NewError(CodeNotFound, what+" not found")
}

// AsError converts any error into an *Error, falling back to INTERNAL_ERROR
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return WrapError(CodeNotFound, "job not found", err)
	case errors.Is(err, ErrVideoNotFound):
		return WrapError(CodeNotFound, "video not found", err)
	case errors.Is(err, ErrProfileNotFound):
		return WrapError(CodeProfileNotFound, "voice profile not found", err)
	}
	return WrapError(CodeInternal, "internal error", err)
}

// IsCode reports whether err normalizes to code
func IsCode(err error, code Code) bool {
	de := AsError(err)
	return de != nil && de.Code == code
}

// Package errors defines the error taxonomy shared by every hrmesh component.
// Rejections carry a machine-readable Code plus optional retry metadata so
// callers can translate them into HTTP responses or degrade gracefully
// without matching on message strings.
package errors

import (
	sterrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrConfigRequired      = sterrors.New("hrmesh: configuration is required")
	ErrLoggerRequired      = sterrors.New("hrmesh: logger is required")
	ErrPublisherRequired   = sterrors.New("hrmesh: publisher is required")
	ErrSubscriberRequired  = sterrors.New("hrmesh: subscriber is required")
	ErrTopicRequired       = sterrors.New("hrmesh: topic is required")
	ErrServiceNameRequired = sterrors.New("hrmesh: service name is required")
	ErrInstanceRequired    = sterrors.New("hrmesh: instance is required")
)

// Code identifies a failure class produced by the communication layer.
type Code string

const (
	CodeUnroutable         Code = "UNROUTABLE"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeBadGateway         Code = "BAD_GATEWAY"
	CodeTimeout            Code = "TIMEOUT"
	CodeShuttingDown       Code = "SHUTTING_DOWN"
	CodeInternal           Code = "INTERNAL"
)

// RateLimitCode derives the category-specific variant of
// CodeRateLimitExceeded, e.g. "GLOBAL_RATE_LIMIT_EXCEEDED".
func RateLimitCode(category string) Code {
	if category == "" {
		return CodeRateLimitExceeded
	}
	return Code(strings.ToUpper(category) + "_" + string(CodeRateLimitExceeded))
}

// IsRateLimitCode reports whether the code is CodeRateLimitExceeded or one of
// its category variants.
func IsRateLimitCode(c Code) bool {
	return strings.HasSuffix(string(c), string(CodeRateLimitExceeded))
}

// Error is the structured error returned by the registry, breaker, limiter,
// gateway, and bridge. RetryAfter and LoadFactor are zero when they do not
// apply to the code.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	LoadFactor float64
	Err        error
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hrmesh: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("hrmesh: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is comparisons against a bare
// New(code, "") work without comparing messages.
func (e *Error) Is(target error) bool {
	var other *Error
	if !sterrors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the Code from err, or CodeInternal when err is not an
// *Error. Returns an empty Code for nil errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if sterrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := sterrors.As(err, &e)
	return e, ok
}

// HTTPStatus maps a code to the status used on the gateway's edge responses.
func HTTPStatus(c Code) int {
	switch {
	case c == CodeUnroutable:
		return http.StatusNotFound
	case c == CodeServiceUnavailable, c == CodeCircuitOpen, c == CodeShuttingDown:
		return http.StatusServiceUnavailable
	case c == CodeBadGateway:
		return http.StatusBadGateway
	case c == CodeTimeout:
		return http.StatusGatewayTimeout
	case IsRateLimitCode(c):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

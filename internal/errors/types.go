package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ConfigError reports missing or invalid service configuration. It is raised
// before any network call and maps to HTTP 500.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// NewConfigError creates a configuration error.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// BadRequestError reports invalid caller input and maps to HTTP 400.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// NewBadRequestError creates a bad-input error.
func NewBadRequestError(format string, args ...any) *BadRequestError {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError reports a non-2xx (and, for queries, non-404) response from
// the control API. The upstream response body is carried verbatim as the
// message so callers can surface it. Maps to HTTP 502.
type UpstreamError struct {
	Call       string // logical RPC name, e.g. "ListDispatch"
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s failed: %v", e.Call, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: status %d: %s", e.Call, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamStatusError creates an upstream error from a response status and body.
func NewUpstreamStatusError(call string, status int, body string) *UpstreamError {
	return &UpstreamError{Call: call, StatusCode: status, Body: body}
}

// NewUpstreamTransportError creates an upstream error from a transport failure.
func NewUpstreamTransportError(call string, err error) *UpstreamError {
	return &UpstreamError{Call: call, Err: err}
}

// ResponseTooLargeError reports that an upstream response body exceeded the
// configured read limit. It counts as an upstream fault and maps to HTTP 502.
type ResponseTooLargeError struct {
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// IsResponseTooLarge reports whether err indicates an oversized response body.
func IsResponseTooLarge(err error) bool {
	var target *ResponseTooLargeError
	return errors.As(err, &target)
}

// UnavailableError reports that a request was rejected locally, before
// reaching upstream, because the circuit breaker is open.
type UnavailableError struct {
	Name    string
	RetryIn time.Duration
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is temporarily unavailable due to repeated failures, retry in %v", e.Name, e.RetryIn.Round(time.Second))
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsBadRequest reports whether err is a bad-input error.
func IsBadRequest(err error) bool {
	var target *BadRequestError
	return errors.As(err, &target)
}

// IsUpstream reports whether err originated from the upstream control API.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// UpstreamStatus returns the HTTP status carried by an upstream error, or 0.
func UpstreamStatus(err error) int {
	var target *UpstreamError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}

// HTTPStatus maps an error to the status code the endpoint adapter should
// respond with: 400 for bad input, 500 for misconfiguration, 502 otherwise.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsBadRequest(err):
		return http.StatusBadRequest
	case IsConfig(err):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

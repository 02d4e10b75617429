// Package errors defines typed errors for request handling.
// Only authentication and unknown-query errors ever surface to clients;
// upstream failures are logged and degrade to empty results.
package errors

import (
	"fmt"
)

// AppError carries a classification alongside the message so handlers can
// pick the right HTTP status.
type AppError struct {
	Type    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error type constants
const (
	ErrorTypeConfiguration    = "CONFIGURATION_INVALID"
	ErrorTypeAuthentication   = "AUTHENTICATION_FAILED"
	ErrorTypeUnknownQueryType = "UNKNOWN_QUERY_TYPE"
	ErrorTypeUpstreamFailure  = "UPSTREAM_FAILURE"
	ErrorTypeMappingMiss      = "MAPPING_MISS"
	ErrorTypeCacheCorruption  = "CACHE_CORRUPTION"
)

// NewConfigurationError creates a fatal startup configuration error.
func NewConfigurationError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeConfiguration, Message: message, Cause: cause}
}

// NewAuthenticationError creates an invalid API key error (HTTP 403).
func NewAuthenticationError() *AppError {
	return &AppError{Type: ErrorTypeAuthentication, Message: "invalid API key"}
}

// NewUnknownQueryTypeError creates an unsupported query type error (HTTP 400).
func NewUnknownQueryTypeError(t string) *AppError {
	return &AppError{Type: ErrorTypeUnknownQueryType, Message: fmt.Sprintf("unsupported query type: %s", t)}
}

// NewUpstreamError wraps a failure from an upstream service.
func NewUpstreamError(service string, cause error) *AppError {
	return &AppError{Type: ErrorTypeUpstreamFailure, Message: fmt.Sprintf("%s request failed", service), Cause: cause}
}

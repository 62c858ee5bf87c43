// Package core provides the provider, feature and error vocabulary shared by the gateway.
package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeConfiguration indicates missing credentials or an unusable provider setup
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeTransport indicates a timeout or connection failure
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeProvider indicates a non-success status or a provider-reported error payload
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeEmptyResponse indicates a success status with no usable content
	ErrorTypeEmptyResponse ErrorType = "empty_response_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx) on the gateway's own API
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeForcedProvider indicates that a forced single-provider call failed
	ErrorTypeForcedProvider ErrorType = "forced_provider_error"
	// ErrorTypeCancelled marks an attempt abandoned because the caller went away
	ErrorTypeCancelled ErrorType = "cancelled"
)

// ErrForcedProviderFailed is matched by errors.Is for every ForcedProviderError.
var ErrForcedProviderFailed = errors.New("forced provider call failed")

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeTransport:
		return http.StatusGatewayTimeout
	case ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	case ErrorTypeProvider, ErrorTypeEmptyResponse, ErrorTypeForcedProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	return map[string]interface{}{"error": body}
}

// NewConfigurationError creates an error for a provider that cannot be called as configured
func NewConfigurationError(provider ProviderID, message string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeConfiguration,
		Message:  message,
		Provider: string(provider),
	}
}

// NewTransportError creates an error for a timeout or connection failure
func NewTransportError(provider ProviderID, message string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeTransport,
		Message:  message,
		Provider: string(provider),
		Err:      err,
	}
}

// NewProviderError creates an error for a non-success upstream response
func NewProviderError(provider ProviderID, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   string(provider),
		Err:        err,
	}
}

// NewEmptyResponseError creates an error for a response without usable content
func NewEmptyResponseError(provider ProviderID, message string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeEmptyResponse,
		Message:  message,
		Provider: string(provider),
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// ParseProviderError builds a ProviderError from an upstream error response.
// Upstream 5xx responses are reported as 502; 4xx statuses are preserved.
func ParseProviderError(provider ProviderID, statusCode int, body []byte, originalErr error) *GatewayError {
	message := string(body)
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	} else if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	}
	return NewUpstreamStatusError(provider, statusCode, message, originalErr)
}

// NewUpstreamStatusError builds a ProviderError for an upstream status with an already
// extracted message. An empty message falls back to the status text.
func NewUpstreamStatusError(provider ProviderID, statusCode int, message string, err error) *GatewayError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	status := statusCode
	if statusCode >= 500 || statusCode < 400 {
		status = http.StatusBadGateway
	}
	return NewProviderError(provider, status, fmt.Sprintf("status %d: %s", statusCode, message), err)
}

// ForcedProviderError reports that a caller-forced provider failed. Callers tell it apart
// from the degraded fallback result because the degraded result is never an error.
type ForcedProviderError struct {
	Provider ProviderID
	Err      error
}

func (e *ForcedProviderError) Error() string {
	return fmt.Sprintf("forced provider %s failed: %v", e.Provider, e.Err)
}

func (e *ForcedProviderError) Unwrap() []error {
	return []error{ErrForcedProviderFailed, e.Err}
}

// AsGatewayError converts any error into a GatewayError suitable for an HTTP response.
func AsGatewayError(err error) *GatewayError {
	var forced *ForcedProviderError
	if errors.As(err, &forced) {
		out := &GatewayError{
			Type:       ErrorTypeForcedProvider,
			Message:    forced.Error(),
			StatusCode: http.StatusBadGateway,
			Provider:   string(forced.Provider),
			Err:        err,
		}
		var cause *GatewayError
		if errors.As(forced.Err, &cause) && cause.Type == ErrorTypeConfiguration {
			out.StatusCode = http.StatusServiceUnavailable
		}
		return out
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    err.Error(),
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

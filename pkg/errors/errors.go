// Package errors defines custom error types and error handling utilities for the riskguard service.
// This package provides structured error types that map to API error codes and HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/riskguard/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// RiskError represents a structured error with additional metadata
type RiskError interface {
	error

	// Code returns the API error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) RiskError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) RiskError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

// baseError is the internal implementation of RiskError
type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Description() string { return e.description }

func (e *baseError) Unwrap() error { return e.cause }

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) RiskError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) RiskError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new RiskError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) RiskError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) RiskError {
	return NewError(
		constants.ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter, includes an invalid parameter value, or is otherwise malformed.",
		message,
	)
}

// ErrNotFound creates a generic not_found error
func ErrNotFound(message string) RiskError {
	return NewError(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		"The requested resource was not found.",
		message,
	)
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) RiskError {
	return NewError(
		constants.ErrCodeUnauthorized,
		http.StatusUnauthorized,
		"The caller is not authenticated.",
		message,
	)
}

// ErrServerError creates a server_error error
func ErrServerError(message string) RiskError {
	return NewError(
		constants.ErrCodeServerError,
		http.StatusInternalServerError,
		"The server encountered an unexpected condition that prevented it from fulfilling the request.",
		message,
	)
}

// ErrUpstreamUnavailable creates a service_unavailable error for an external collaborator
func ErrUpstreamUnavailable(upstream string) RiskError {
	return NewError(
		constants.ErrCodeServiceUnavailable,
		http.StatusServiceUnavailable,
		"A required upstream service is currently unavailable.",
		fmt.Sprintf("upstream unavailable: %s", upstream),
	).WithMetadata("upstream", upstream)
}

// ErrRateLimitExceeded creates a rate limit exceeded error
func ErrRateLimitExceeded(scope string, limit int) RiskError {
	return NewError(
		constants.ErrCodeRateLimitExceeded,
		http.StatusTooManyRequests,
		"Rate limit exceeded. Please try again later.",
		fmt.Sprintf("Rate limit exceeded for scope '%s': %d requests", scope, limit),
	).WithMetadata("scope", scope).
		WithMetadata("limit", limit)
}

// ErrConflict creates a conflict error, used when an optimistic write loses repeatedly
func ErrConflict(message string) RiskError {
	return NewError(
		constants.ErrCodeConflict,
		http.StatusConflict,
		"The resource was modified concurrently.",
		message,
	)
}

// ================================================================================
// Domain-Specific Error Constructors
// ================================================================================

// ErrUserNotFound creates a not_found error for an unknown user
func ErrUserNotFound(userID string) RiskError {
	return ErrNotFound(fmt.Sprintf("user not found: %s", userID)).
		WithMetadata("user_id", userID)
}

// ErrProfileNotFound creates a not_found error for a user without a risk profile
func ErrProfileNotFound(userID string) RiskError {
	return ErrNotFound(fmt.Sprintf("risk profile not found for user: %s", userID)).
		WithMetadata("user_id", userID)
}

// ErrAssessmentNotFound creates a not_found error for an unknown assessment
func ErrAssessmentNotFound(assessmentID string) RiskError {
	return ErrNotFound(fmt.Sprintf("assessment not found: %s", assessmentID)).
		WithMetadata("assessment_id", assessmentID)
}

// ErrMissingRequiredParameter creates a missing required parameter error
func ErrMissingRequiredParameter(paramName string) RiskError {
	return ErrInvalidRequest(fmt.Sprintf("Missing required parameter: %s", paramName)).
		WithMetadata("parameter", paramName)
}

// ErrInvalidParameterFormat creates an invalid parameter format error
func ErrInvalidParameterFormat(paramName string, expectedFormat string) RiskError {
	return ErrInvalidRequest(fmt.Sprintf("Invalid format for parameter '%s': expected %s", paramName, expectedFormat)).
		WithMetadata("parameter", paramName).
		WithMetadata("expected_format", expectedFormat)
}

// ErrInvalidConfig creates an error for configuration that fails validation
func ErrInvalidConfig(reason string) RiskError {
	return ErrServerError(fmt.Sprintf("invalid configuration: %s", reason)).
		WithMetadata("reason", reason)
}

// ErrDatabaseOperation wraps a persistence failure
func ErrDatabaseOperation(op string, cause error) RiskError {
	return ErrServerError(fmt.Sprintf("database operation failed: %s", op)).
		WithCause(cause).
		WithMetadata("operation", op)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsRiskError attempts to find a RiskError in the error chain
func AsRiskError(err error) (RiskError, bool) {
	var riskErr RiskError
	if stderrors.As(err, &riskErr) {
		return riskErr, true
	}
	return nil, false
}

// WrapError wraps a generic error into a RiskError
func WrapError(err error, code constants.ErrorCode, message string) RiskError {
	var httpStatus int

	switch code {
	case constants.ErrCodeInvalidRequest:
		httpStatus = http.StatusBadRequest
	case constants.ErrCodeNotFound:
		httpStatus = http.StatusNotFound
	case constants.ErrCodeUnauthorized:
		httpStatus = http.StatusUnauthorized
	case constants.ErrCodeConflict:
		httpStatus = http.StatusConflict
	case constants.ErrCodeRateLimitExceeded:
		httpStatus = http.StatusTooManyRequests
	case constants.ErrCodeServiceUnavailable:
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	return NewError(code, httpStatus, message, message).WithCause(err)
}

// IsNotFoundError checks if an error is a not found error.
func IsNotFoundError(err error) bool {
	if riskErr, ok := AsRiskError(err); ok {
		return riskErr.Code() == constants.ErrCodeNotFound
	}
	return false
}

// IsInvalidRequestError checks if an error was caused by caller input.
func IsInvalidRequestError(err error) bool {
	if riskErr, ok := AsRiskError(err); ok {
		return riskErr.Code() == constants.ErrCodeInvalidRequest
	}
	return false
}

// IsConflictError reports whether err is an optimistic concurrency conflict.
func IsConflictError(err error) bool {
	if riskErr, ok := AsRiskError(err); ok {
		return riskErr.Code() == constants.ErrCodeConflict
	}
	return false
}

// IsTransientError checks if an error is transient and can be retried
func IsTransientError(err error) bool {
	if riskErr, ok := AsRiskError(err); ok {
		return riskErr.Code() == constants.ErrCodeServiceUnavailable ||
			riskErr.Code() == constants.ErrCodeConflict
	}
	return false
}

// ShouldLogError determines if an error should be logged at error level
func ShouldLogError(err error) bool {
	if riskErr, ok := AsRiskError(err); ok {
		status := riskErr.HTTPStatus()
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return true
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse
func ToErrorResponse(err error) *ErrorResponse {
	if riskErr, ok := AsRiskError(err); ok {
		return &ErrorResponse{
			Error:            string(riskErr.Code()),
			ErrorDescription: riskErr.Error(),
			Metadata:         riskErr.Metadata(),
		}
	}

	return &ErrorResponse{
		Error:            string(constants.ErrCodeServerError),
		ErrorDescription: "An unexpected error occurred",
	}
}

// HTTPStatusOf returns the HTTP status for any error, defaulting to 500.
func HTTPStatusOf(err error) int {
	if riskErr, ok := AsRiskError(err); ok {
		return riskErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

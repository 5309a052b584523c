// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed failures returned by the broker engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrUnknownService is returned when a service has no valid configuration
	ErrUnknownService = "unknown_service"

	// ErrPlatformCredentialsMissing is returned when platform credentials were requested but are not configured
	ErrPlatformCredentialsMissing = "platform_credentials_missing"

	// ErrAppNotFound is returned when no app is stored under the requested hash
	ErrAppNotFound = "app_not_found"

	// ErrTokenNotFound is returned when no token is stored for an app
	ErrTokenNotFound = "token_not_found"

	// ErrOwnerNotFound is returned when an org or session user has no record
	ErrOwnerNotFound = "owner_not_found"

	// ErrTokenExchangeFailed is returned when the provider rejects an authorization code exchange
	ErrTokenExchangeFailed = "token_exchange_failed"

	// ErrRefreshFailed is returned when the provider rejects a refresh request
	ErrRefreshFailed = "refresh_failed"

	// ErrUserInfoFailed records a provider rejecting a user-info request.
	// User info degrades instead of failing, so it is only seen in metrics.
	ErrUserInfoFailed = "user_info_failed"

	// ErrIntegrity is returned when an envelope fails authentication
	ErrIntegrity = "integrity"

	// ErrKeyNotFound is returned when an API key has no record
	ErrKeyNotFound = "key_not_found"

	// ErrValidation is returned for malformed configuration or missing caller input
	ErrValidation = "validation"

	// ErrTransport is returned when a provider could not be reached
	ErrTransport = "transport"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// UpstreamError carries the provider's reply for a rejected token request.
// The body is kept verbatim so callers can see what the provider said.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider responded with status %d: %s", e.StatusCode, e.Body)
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewUnknownServiceError creates a new unknown service error
func NewUnknownServiceError(service string, cause error) *Error {
	return NewError(ErrUnknownService, fmt.Sprintf("service %q is not configured", service), cause)
}

// NewPlatformCredentialsMissingError creates a new platform credentials missing error
func NewPlatformCredentialsMissingError(service string) *Error {
	return NewError(ErrPlatformCredentialsMissing,
		fmt.Sprintf("platform credentials are not configured for %q", service), nil)
}

// NewAppNotFoundError creates a new app not found error
func NewAppNotFoundError(appHash, service string) *Error {
	return NewError(ErrAppNotFound, fmt.Sprintf("app %s for %q not found", appHash, service), nil)
}

// NewTokenNotFoundError creates a new token not found error
func NewTokenNotFoundError(appHash string) *Error {
	return NewError(ErrTokenNotFound, fmt.Sprintf("no token stored for app %s", appHash), nil)
}

// NewOwnerNotFoundError creates a new owner not found error
func NewOwnerNotFoundError(ownerKey string) *Error {
	return NewError(ErrOwnerNotFound, fmt.Sprintf("%s is not registered", ownerKey), nil)
}

// NewTokenExchangeFailedError creates a new token exchange error carrying the provider reply
func NewTokenExchangeFailedError(status int, body string) *Error {
	return NewError(ErrTokenExchangeFailed, "authorization code exchange rejected",
		&UpstreamError{StatusCode: status, Body: body})
}

// NewRefreshFailedError creates a new refresh error carrying the provider reply
func NewRefreshFailedError(status int, body string) *Error {
	return NewError(ErrRefreshFailed, "token refresh rejected",
		&UpstreamError{StatusCode: status, Body: body})
}

// NewIntegrityError creates a new integrity error
func NewIntegrityError(message string, cause error) *Error {
	return NewError(ErrIntegrity, message, cause)
}

// NewKeyNotFoundError creates a new API key not found error
func NewKeyNotFoundError() *Error {
	return NewError(ErrKeyNotFound, "api key not found", nil)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewTransportError creates a new transport error
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrTransport, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsUnknownService checks if the error is an unknown service error
func IsUnknownService(err error) bool { return isType(err, ErrUnknownService) }

// IsPlatformCredentialsMissing checks if the error is a platform credentials missing error
func IsPlatformCredentialsMissing(err error) bool { return isType(err, ErrPlatformCredentialsMissing) }

// IsAppNotFound checks if the error is an app not found error
func IsAppNotFound(err error) bool { return isType(err, ErrAppNotFound) }

// IsTokenNotFound checks if the error is a token not found error
func IsTokenNotFound(err error) bool { return isType(err, ErrTokenNotFound) }

// IsOwnerNotFound checks if the error is an owner not found error
func IsOwnerNotFound(err error) bool { return isType(err, ErrOwnerNotFound) }

// IsTokenExchangeFailed checks if the error is a token exchange error
func IsTokenExchangeFailed(err error) bool { return isType(err, ErrTokenExchangeFailed) }

// IsRefreshFailed checks if the error is a refresh error
func IsRefreshFailed(err error) bool { return isType(err, ErrRefreshFailed) }

// IsIntegrity checks if the error is an integrity error
func IsIntegrity(err error) bool { return isType(err, ErrIntegrity) }

// IsKeyNotFound checks if the error is an API key not found error
func IsKeyNotFound(err error) bool { return isType(err, ErrKeyNotFound) }

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool { return isType(err, ErrValidation) }

// IsTransport checks if the error is a transport error
func IsTransport(err error) bool { return isType(err, ErrTransport) }

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool { return isType(err, ErrInternal) }

// IsRetryable reports whether the caller may retry the operation with backoff.
// Only failures to reach the provider qualify; rejections and integrity
// failures are final.
func IsRetryable(err error) bool {
	return IsTransport(err)
}

// TypeOf returns the type of the first *Error in err's chain, or ErrInternal.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternal
}

// Upstream returns the provider reply attached to an exchange or refresh failure.
func Upstream(err error) (*UpstreamError, bool) {
	var u *UpstreamError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// Code maps an error to the HTTP status the API layer should answer with.
func Code(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Type {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnknownService, ErrAppNotFound, ErrTokenNotFound, ErrOwnerNotFound:
		return http.StatusNotFound
	case ErrKeyNotFound:
		return http.StatusUnauthorized
	case ErrPlatformCredentialsMissing:
		return http.StatusPreconditionFailed
	case ErrTokenExchangeFailed, ErrRefreshFailed, ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Normalized Error Taxonomy
// =============================================================================

// ErrorCode identifies a normalized error category. Upstream-specific error
// shapes never escape the provider layer; callers branch on these codes only.
type ErrorCode string

const (
	CodeProviderNotFound        ErrorCode = "provider_not_found"
	CodeProviderInactive        ErrorCode = "provider_inactive"
	CodeMissingCredentials      ErrorCode = "missing_credentials"
	CodeRateLimited             ErrorCode = "rate_limited"
	CodeProviderUnavailable     ErrorCode = "provider_unavailable"
	CodeUpstreamValidation      ErrorCode = "upstream_validation"
	CodeUnsupportedAction       ErrorCode = "unsupported_action"
	CodeInsufficientFunds       ErrorCode = "insufficient_funds"
	CodeForbidden               ErrorCode = "forbidden"
	CodeInvalidCredentialFormat ErrorCode = "invalid_credential_format"
	CodeNotFound                ErrorCode = "not_found"
	CodeInternal                ErrorCode = "internal"
)

// Error is the normalized error carried across component boundaries.
// Provider is the originating upstream kind, empty when the error did not
// come from a provider call.
type Error struct {
	Code     ErrorCode
	Provider ProviderKind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a normalized error without an underlying cause.
func NewError(code ErrorCode, provider ProviderKind, message string) *Error {
	return &Error{Code: code, Provider: provider, Message: message}
}

// WrapError creates a normalized error wrapping an underlying cause.
func WrapError(code ErrorCode, provider ProviderKind, message string, err error) *Error {
	return &Error{Code: code, Provider: provider, Message: message, Err: err}
}

// CodeOf extracts the normalized code from an error chain.
// Returns CodeInternal for errors that carry no code.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given normalized code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrNoActiveProvider      = errors.New("no active sms provider")
	ErrProviderNotConfigured = errors.New("sms provider not configured")
	ErrRateLimited           = errors.New("rate limited")

	// ErrInvalidPhone is a validation error specific to the recipient number.
	ErrInvalidPhone = fmt.Errorf("%w: invalid phone number", ErrValidation)
)

// ErrorCode is the stable failure taxonomy carried by send results.
type ErrorCode string

const (
	CodeInvalidMessage        ErrorCode = "INVALID_MESSAGE"
	CodeInvalidPhone          ErrorCode = "INVALID_PHONE"
	CodeNoActiveProvider      ErrorCode = "NO_ACTIVE_PROVIDER"
	CodeProviderNotConfigured ErrorCode = "PROVIDER_NOT_CONFIGURED"
	CodeInvalidAPIKey         ErrorCode = "INVALID_API_KEY"
	CodeInsufficientCredit    ErrorCode = "INSUFFICIENT_CREDIT"
	CodeBadRequest            ErrorCode = "BAD_REQUEST"
	CodeProviderError         ErrorCode = "PROVIDER_ERROR"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeRateLimited           ErrorCode = "RATE_LIMITED"
)

func (c ErrorCode) String() string { return string(c) }

// Retryable reports whether another provider may succeed where this one failed.
func (c ErrorCode) Retryable() bool {
	return c == CodeProviderError || c == CodeTimeout
}

// CodeFromError maps domain sentinel errors to an ErrorCode.
func CodeFromError(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPhone):
		return CodeInvalidPhone
	case errors.Is(err, ErrValidation):
		return CodeInvalidMessage
	case errors.Is(err, ErrNoActiveProvider):
		return CodeNoActiveProvider
	case errors.Is(err, ErrProviderNotConfigured):
		return CodeProviderNotConfigured
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}
	return CodeProviderError
}

// RateLimitError is returned when a send is refused by a quota rule.
type RateLimitError struct {
	Rule    string
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limited: rule %s (limit %d)", e.Rule, e.Limit)
	}
	return fmt.Sprintf("rate limited: rule %s (limit %d) until %s", e.Rule, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

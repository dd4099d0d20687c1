package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	VendorCode string
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.VendorCode != "" {
		parts = append(parts, "code="+e.VendorCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Classify maps a provider call failure to the stable error taxonomy. Vendor
// specific codes take precedence over the HTTP status.
func Classify(err error, vendorCodes map[string]domain.ErrorCode) domain.ErrorCode {
	if err == nil {
		return ""
	}
	if isTimeout(err) {
		return domain.CodeTimeout
	}

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		return domain.CodeProviderError
	}

	if code, ok := vendorCodes[providerErr.VendorCode]; ok && providerErr.VendorCode != "" {
		return code
	}

	switch providerErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.CodeInvalidAPIKey
	case http.StatusPaymentRequired:
		return domain.CodeInsufficientCredit
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return domain.CodeBadRequest
	}
	return domain.CodeProviderError
}

// failure converts err into a failed SendResult. Raw vendor text stays in the
// message for operators; callers decide what to show customers.
func failure(err error, vendorCodes map[string]domain.ErrorCode) domain.SendResult {
	return domain.FailedSend(Classify(err, vendorCodes), err.Error())
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

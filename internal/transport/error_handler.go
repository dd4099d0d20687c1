package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
)

// End-user messages. Vendor error text is never returned to callers.
const (
	MsgRateLimited    = "Ați depășit numărul maxim de SMS-uri. Încercați din nou după %s."
	MsgRateLimitedNow = "Ați depășit numărul maxim de SMS-uri. Încercați din nou mai târziu."
	MsgInvalidPhone   = "Numărul de telefon nu este valid."
	MsgInvalidMessage = "Mesajul nu este valid."
	MsgNotFound       = "Resursa nu a fost găsită."
	MsgConflict       = "Resursa există deja."
	MsgUnavailable    = "Serviciul SMS nu este disponibil momentan. Vă rugăm încercați mai târziu."
)

var displayLocation = loadDisplayLocation()

func loadDisplayLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Code    string     `json:"code,omitempty"`
	Detail  string     `json:"detail,omitempty"`
	RetryAt *time.Time `json:"retryAt,omitempty"`
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, body := Classify(err)

		var rlErr *domain.RateLimitError
		if errors.As(err, &rlErr) && !rlErr.ResetAt.IsZero() {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(rlErr.ResetAt, time.Now())))
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}

		return c.Status(status).JSON(body)
	}
}

// Classify maps an error to its HTTP status and user-facing body.
func Classify(err error) (int, ErrorResponse) {
	var rlErr *domain.RateLimitError
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &rlErr):
		body := ErrorResponse{Error: RateLimitMessage(rlErr.ResetAt), Code: domain.CodeRateLimited.String()}
		if !rlErr.ResetAt.IsZero() {
			retryAt := rlErr.ResetAt.UTC()
			body.RetryAt = &retryAt
		}
		return fiber.StatusTooManyRequests, body
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.StatusTooManyRequests, ErrorResponse{Error: MsgRateLimitedNow, Code: domain.CodeRateLimited.String()}
	case errors.Is(err, domain.ErrInvalidPhone):
		return fiber.StatusBadRequest, ErrorResponse{Error: MsgInvalidPhone, Code: domain.CodeInvalidPhone.String()}
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest, ErrorResponse{Error: MsgInvalidMessage, Code: domain.CodeInvalidMessage.String(), Detail: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, ErrorResponse{Error: MsgNotFound}
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, ErrorResponse{Error: MsgConflict, Detail: err.Error()}
	case errors.Is(err, domain.ErrNoActiveProvider):
		return fiber.StatusServiceUnavailable, ErrorResponse{Error: MsgUnavailable, Code: domain.CodeNoActiveProvider.String()}
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return fiber.StatusServiceUnavailable, ErrorResponse{Error: MsgUnavailable, Code: domain.CodeProviderNotConfigured.String()}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, ErrorResponse{Error: MsgUnavailable, Code: domain.CodeTimeout.String()}
	case errors.As(err, &fiberErr):
		return fiberErr.Code, ErrorResponse{Error: fiberErr.Message}
	}
	return fiber.StatusInternalServerError, ErrorResponse{Error: MsgUnavailable}
}

// SendFailureMessage is the user-facing message for a failed send result.
func SendFailureMessage(code domain.ErrorCode) string {
	switch code {
	case domain.CodeInvalidPhone:
		return MsgInvalidPhone
	case domain.CodeInvalidMessage, domain.CodeBadRequest:
		return MsgInvalidMessage
	case domain.CodeRateLimited:
		return MsgRateLimitedNow
	}
	return MsgUnavailable
}

// RateLimitMessage renders the denial message with the local reset time.
func RateLimitMessage(resetAt time.Time) string {
	if resetAt.IsZero() {
		return MsgRateLimitedNow
	}
	return fmt.Sprintf(MsgRateLimited, resetAt.In(displayLocation).Format("02.01.2006 15:04"))
}

func retryAfterSeconds(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// WebhookHandler accepts vendor delivery reports and queues them for the DLR worker.
type WebhookHandler struct {
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebhookHandler(publisher queue.Publisher, logger *zap.Logger) (*WebhookHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{publisher: publisher, logger: logger, now: time.Now}, nil
}

func RegisterWebhookRoutes(router fiber.Router, publisher queue.Publisher, logger *zap.Logger) error {
	h, err := NewWebhookHandler(publisher, logger)
	if err != nil {
		return err
	}

	router.Post("/v1/webhooks/sms/:provider", h.ReceiveDeliveryReport)
	return nil
}

func (h *WebhookHandler) ReceiveDeliveryReport(c *fiber.Ctx) error {
	provider := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	if provider == "" {
		return fiber.NewError(fiber.StatusBadRequest, "provider is required")
	}

	payload, err := webhookPayload(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
	}
	if len(payload) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty webhook payload")
	}

	msg := queue.DeliveryReportMessage{
		ID:         uuid.NewString(),
		Provider:   provider,
		Payload:    payload,
		ReceivedAt: h.now().UTC(),
	}
	if requestID, ok := observability.RequestIDFromContext(c.UserContext()); ok {
		msg.RequestID = requestID
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), publishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, queue.DeliveryReportQueue, msg); err != nil {
		observability.WithContextLogger(h.logger, c.UserContext()).Error("failed to queue delivery report",
			zap.String("provider", provider),
			zap.Error(err),
		)
		// A non-2xx response makes the vendor retry the callback.
		return fiber.NewError(fiber.StatusServiceUnavailable, "delivery report not accepted")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   "accepted",
		"reportId": msg.ID,
	})
}

// webhookPayload flattens a JSON or form callback, plus query parameters, into
// string values.
func webhookPayload(c *fiber.Ctx) (map[string]string, error) {
	payload := make(map[string]string)

	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		payload[string(key)] = string(value)
	})

	body := c.Body()
	if len(body) == 0 {
		return payload, nil
	}

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		for key, value := range raw {
			if s, ok := stringifyValue(value); ok {
				payload[key] = s
			}
		}
		return payload, nil
	}

	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		payload[string(key)] = string(value)
	})
	return payload, nil
}

func stringifyValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}

package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
)

type SMSService interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendOutcome, error)
	CheckQuota(ctx context.Context, phone, ip string) (*service.QuotaStatus, error)
	AllowVerifyAttempt(ctx context.Context, codeKey string) error
	ReserveAddressSlot(ctx context.Context, owner string) error
	ReleaseAddressSlot(ctx context.Context, owner string) error
	Status(ctx context.Context, logID string) (*domain.DeliveryLogRecord, error)
	Estimate(ctx context.Context, body string, category domain.Category) (service.PriceEstimate, error)
	Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error)
}

type SMSHandler struct {
	service SMSService
}

func NewSMSHandler(service SMSService) (*SMSHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("sms service is required")
	}
	return &SMSHandler{service: service}, nil
}

func RegisterSMSRoutes(router fiber.Router, service SMSService) error {
	h, err := NewSMSHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sms/send", h.Send)
	v1.Post("/sms/quota", h.CheckQuota)
	v1.Post("/sms/estimate", h.Estimate)
	v1.Get("/sms/stats", h.Statistics)
	v1.Get("/sms/:id/status", h.Status)

	v1.Post("/limits/verify-attempts", h.VerifyAttempt)
	v1.Post("/limits/address-slots/:owner", h.ReserveAddressSlot)
	v1.Delete("/limits/address-slots/:owner", h.ReleaseAddressSlot)

	return nil
}

type sendSMSRequest struct {
	Phone    string            `json:"phone"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	SenderID string            `json:"senderId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type sendSMSResponse struct {
	Success   bool    `json:"success"`
	LogID     string  `json:"logId,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	MessageID string  `json:"messageId,omitempty"`
	Status    string  `json:"status,omitempty"`
	Parts     int     `json:"parts,omitempty"`
	Cost      float64 `json:"cost"`
	Currency  string  `json:"currency,omitempty"`
	ErrorCode string  `json:"errorCode,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type quotaRequest struct {
	Phone string `json:"phone"`
}

type decisionResponse struct {
	Allowed   bool       `json:"allowed"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

type quotaResponse struct {
	Allowed bool              `json:"allowed"`
	Phone   decisionResponse  `json:"phone"`
	IP      *decisionResponse `json:"ip,omitempty"`
	RetryAt *time.Time        `json:"retryAt,omitempty"`
	Message string            `json:"message,omitempty"`
}

type estimateRequest struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

type estimateResponse struct {
	Provider   string  `json:"provider"`
	Encoding   string  `json:"encoding"`
	Characters int     `json:"characters"`
	Parts      int     `json:"parts"`
	Cost       float64 `json:"cost"`
	Currency   string  `json:"currency"`
}

type verifyAttemptRequest struct {
	CodeKey string `json:"codeKey"`
}

type deliveryLogResponse struct {
	ID                string            `json:"id"`
	Provider          string            `json:"provider"`
	ProviderMessageID string            `json:"providerMessageId,omitempty"`
	Recipient         string            `json:"recipient"`
	Category          string            `json:"category"`
	Status            string            `json:"status"`
	Parts             int               `json:"parts"`
	Cost              float64           `json:"cost"`
	Currency          string            `json:"currency,omitempty"`
	ErrorCode         string            `json:"errorCode,omitempty"`
	LatencySeconds    *float64          `json:"latencySeconds,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SentAt            *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time        `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

type statsItem struct {
	Provider          string   `json:"provider"`
	Status            string   `json:"status"`
	Count             int64    `json:"count"`
	TotalCost         float64  `json:"totalCost"`
	AvgLatencySeconds *float64 `json:"avgLatencySeconds,omitempty"`
}

type statsResponse struct {
	Data []statsItem `json:"data"`
}

func (h *SMSHandler) Send(c *fiber.Ctx) error {
	var req sendSMSRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return err
	}

	outcome, err := h.service.Send(c.UserContext(), service.SendRequest{
		Phone:    req.Phone,
		IP:       c.IP(),
		Body:     req.Message,
		Category: category,
		SenderID: strings.TrimSpace(req.SenderID),
		Metadata: req.Metadata,
	})
	if err != nil {
		return err
	}

	result := outcome.Result
	resp := sendSMSResponse{
		Success:   result.Success,
		LogID:     outcome.LogID,
		Provider:  result.Provider,
		MessageID: result.MessageID,
		Status:    string(result.Status),
		Parts:     result.Parts,
		Cost:      result.Cost,
		Currency:  result.Currency,
	}
	if result.Success {
		return c.Status(fiber.StatusOK).JSON(resp)
	}

	resp.ErrorCode = result.ErrorCode.String()
	resp.Error = transport.SendFailureMessage(result.ErrorCode)
	return c.Status(sendFailureStatus(result.ErrorCode)).JSON(resp)
}

func (h *SMSHandler) CheckQuota(c *fiber.Ctx) error {
	var req quotaRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := h.service.CheckQuota(c.UserContext(), req.Phone, c.IP())
	if err != nil {
		return err
	}

	resp := quotaResponse{
		Allowed: status.Allowed,
		Phone:   toDecisionResponse(status.Phone.Allowed, status.Phone.Limit, status.Phone.Remaining, status.Phone.ResetAt),
	}
	if status.IP != nil {
		ip := toDecisionResponse(status.IP.Allowed, status.IP.Limit, status.IP.Remaining, status.IP.ResetAt)
		resp.IP = &ip
	}
	if !status.Allowed {
		resp.RetryAt = optionalTime(status.RetryAt)
		resp.Message = transport.RateLimitMessage(status.RetryAt)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *SMSHandler) Estimate(c *fiber.Ctx) error {
	var req estimateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return err
	}

	estimate, err := h.service.Estimate(c.UserContext(), req.Message, category)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(estimateResponse{
		Provider:   estimate.Provider,
		Encoding:   string(estimate.Encoding),
		Characters: estimate.Units,
		Parts:      estimate.Parts,
		Cost:       estimate.Cost,
		Currency:   estimate.Currency,
	})
}

func (h *SMSHandler) Status(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	rec, err := h.service.Status(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryLogResponse(rec))
}

func (h *SMSHandler) Statistics(c *fiber.Ctx) error {
	filter, err := parseStatsFilter(c)
	if err != nil {
		return err
	}

	stats, err := h.service.Statistics(c.UserContext(), filter)
	if err != nil {
		return err
	}

	items := make([]statsItem, 0, len(stats))
	for _, s := range stats {
		items = append(items, statsItem{
			Provider:          s.Provider,
			Status:            s.Status.String(),
			Count:             s.Count,
			TotalCost:         s.TotalCost,
			AvgLatencySeconds: s.AvgLatencySeconds,
		})
	}
	return c.Status(fiber.StatusOK).JSON(statsResponse{Data: items})
}

func (h *SMSHandler) VerifyAttempt(c *fiber.Ctx) error {
	var req verifyAttemptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.CodeKey) == "" {
		return fmt.Errorf("%w: codeKey is required", domain.ErrValidation)
	}

	if err := h.service.AllowVerifyAttempt(c.UserContext(), req.CodeKey); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SMSHandler) ReserveAddressSlot(c *fiber.Ctx) error {
	if err := h.service.ReserveAddressSlot(c.UserContext(), c.Params("owner")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SMSHandler) ReleaseAddressSlot(c *fiber.Ctx) error {
	if err := h.service.ReleaseAddressSlot(c.UserContext(), c.Params("owner")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseStatsFilter(c *fiber.Ctx) (domain.StatsFilter, error) {
	filter := domain.StatsFilter{Provider: strings.TrimSpace(c.Query("provider"))}

	if raw := strings.TrimSpace(c.Query("category")); raw != "" {
		category, err := domain.ParseCategoryFromString(raw)
		if err != nil {
			return domain.StatsFilter{}, err
		}
		filter.Category = category
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return domain.StatsFilter{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return domain.StatsFilter{}, err
	}
	filter.From = from
	filter.To = to

	return filter, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

// sendFailureStatus maps a failed send to the HTTP status returned alongside the result.
func sendFailureStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidPhone, domain.CodeInvalidMessage, domain.CodeBadRequest:
		return fiber.StatusBadRequest
	case domain.CodeRateLimited:
		return fiber.StatusTooManyRequests
	case domain.CodeNoActiveProvider, domain.CodeProviderNotConfigured:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusBadGateway
}

func toDecisionResponse(allowed bool, limit, remaining int, resetAt time.Time) decisionResponse {
	return decisionResponse{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   optionalTime(resetAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func toDeliveryLogResponse(rec *domain.DeliveryLogRecord) deliveryLogResponse {
	if rec == nil {
		return deliveryLogResponse{}
	}

	return deliveryLogResponse{
		ID:                rec.ID,
		Provider:          rec.Provider,
		ProviderMessageID: rec.ProviderMessageID,
		Recipient:         rec.RecipientMasked,
		Category:          rec.Category.String(),
		Status:            rec.Status.String(),
		Parts:             rec.Parts,
		Cost:              rec.Cost,
		Currency:          rec.Currency,
		ErrorCode:         rec.ErrorCode,
		LatencySeconds:    rec.LatencySeconds,
		Metadata:          rec.Metadata,
		SentAt:            rec.SentAt,
		DeliveredAt:       rec.DeliveredAt,
		CreatedAt:         rec.CreatedAt,
	}
}

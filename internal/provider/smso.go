package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/nyaruka/phonenumbers"
)

const (
	smsoName           = "SMSO.ro"
	smsoDefaultBaseURL = "https://app.smso.ro"
	smsoCurrency       = "RON"
	smsoRegion         = "RO"
	smsoTimeLayout     = "2006-01-02 15:04:05"
)

var smsoVendorCodes = map[string]domain.ErrorCode{
	"invalid_api_key":      domain.CodeInvalidAPIKey,
	"insufficient_credit":  domain.CodeInsufficientCredit,
	"not_enough_credit":    domain.CodeInsufficientCredit,
	"invalid_phone_number": domain.CodeBadRequest,
	"invalid_sender":       domain.CodeBadRequest,
}

var bucharest = loadBucharest()

func loadBucharest() *time.Location {
	loc, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		return time.UTC
	}
	return loc
}

type smsoSendRequest struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	Sender     string `json:"sender,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type smsoSendResponse struct {
	Status          int     `json:"status"`
	ResponseToken   string  `json:"responseToken"`
	TransactionCost float64 `json:"transaction_cost"`
}

type smsoStatusResponse struct {
	ResponseToken string `json:"responseToken"`
	Status        string `json:"status"`
	SentAt        string `json:"sent_at"`
	DeliveredAt   string `json:"delivered_at"`
}

type smsoCreditResponse struct {
	CreditValue float64 `json:"credit_value"`
}

type smsoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SMSOAdapter talks to the SMSO.ro REST API. It accepts Romanian national
// numbers and normalizes everything to E.164 before sending.
type SMSOAdapter struct {
	Defaults

	client   *resty.Client
	sender   string
	callback string
}

func NewSMSOAdapter(settings domain.ProviderSettings, creds domain.Credentials, client *resty.Client) (*SMSOAdapter, error) {
	apiKey := creds.Get("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: smso requires api_key", domain.ErrProviderNotConfigured)
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = smsoDefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid smso base url: %v", domain.ErrProviderNotConfigured, err)
	}

	d := newDefaults(smsoName, settings,
		FeatureSend, FeatureStatus, FeatureBalance, FeatureWebhook, FeatureUnicode, FeatureSenderID)
	client = newRestyClient(baseURL, d.timeout(), client)
	client.SetHeader("X-Authorization", apiKey)

	return &SMSOAdapter{
		Defaults: d,
		client:   client,
		sender:   strings.TrimSpace(settings.SenderID),
		callback: settings.StatusCallbackURL,
	}, nil
}

// FormatPhoneNumber accepts 07xx, 0040 and +40 forms as well as foreign E.164.
func (a *SMSOAdapter) FormatPhoneNumber(phone string) (string, error) {
	stripped := domain.StripPhoneFormatting(phone)
	if stripped == "" {
		return "", fmt.Errorf("%w: recipient is required", domain.ErrInvalidPhone)
	}
	if strings.HasPrefix(stripped, "00") {
		stripped = "+" + stripped[2:]
	}

	num, err := phonenumbers.Parse(stripped, smsoRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidPhone, phone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q is not a valid number", domain.ErrInvalidPhone, phone)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (a *SMSOAdapter) ValidatePhoneNumber(phone string) bool {
	_, err := a.FormatPhoneNumber(phone)
	return err == nil
}

func (a *SMSOAdapter) Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	msg, invalid := prepareMessage(msg, a.FormatPhoneNumber)
	if invalid != nil {
		return *invalid
	}

	sender := a.sender
	if msg.SenderID != "" {
		sender = msg.SenderID
	}

	var out smsoSendResponse
	req := a.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(smsoSendRequest{To: msg.To, Body: msg.Body, Sender: sender, WebhookURL: a.callback}).
		SetResult(&out)
	if _, err := execute(ctx, req, http.MethodPost, "/api/v1/send", smsoErrorCode); err != nil {
		return failure(err, smsoVendorCodes)
	}
	if out.ResponseToken == "" {
		return domain.FailedSend(domain.CodeProviderError, "smso response missing responseToken")
	}

	estimate := a.cost.Estimate(msg)
	cost := estimate.Cost
	if out.TransactionCost > 0 {
		cost = roundTo(out.TransactionCost, a.cost.Precision)
	}

	return domain.SendResult{
		Success:   true,
		MessageID: out.ResponseToken,
		Status:    domain.SendStatusSent,
		Cost:      cost,
		Currency:  a.currency(smsoCurrency),
		Parts:     estimate.Parts,
		Raw:       map[string]any{"responseToken": out.ResponseToken, "transaction_cost": out.TransactionCost},
	}
}

func (a *SMSOAdapter) GetStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	if strings.TrimSpace(messageID) == "" {
		return domain.UnknownDelivery(messageID)
	}

	var out smsoStatusResponse
	req := a.client.R().SetQueryParam("responseToken", messageID).SetResult(&out)
	if _, err := execute(ctx, req, http.MethodGet, "/api/v1/status", smsoErrorCode); err != nil {
		return domain.UnknownDelivery(messageID)
	}

	status := domain.DeliveryStatus{
		MessageID: messageID,
		Status:    smsoDeliveryState(out.Status),
		Raw:       map[string]any{"status": out.Status},
	}
	if status.Status == domain.DeliveryDelivered {
		status.DeliveredAt = parseSMSOTime(out.DeliveredAt)
	}
	return status
}

func (a *SMSOAdapter) GetBalance(ctx context.Context) domain.ProviderBalance {
	currency := a.currency(smsoCurrency)
	threshold := a.settings.LowBalanceThreshold

	var out smsoCreditResponse
	req := a.client.R().SetResult(&out)
	if _, err := execute(ctx, req, http.MethodGet, "/api/v1/credit-check", smsoErrorCode); err != nil {
		return domain.DegradedBalance(currency, domain.BalanceUnitMoney, threshold)
	}
	return domain.NewProviderBalance(out.CreditValue, currency, domain.BalanceUnitMoney, threshold)
}

func (a *SMSOAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return healthFromBalance(ctx, a.GetBalance)
}

// HandleWebhook parses SMSO delivery report callbacks.
func (a *SMSOAdapter) HandleWebhook(payload map[string]string) *domain.DeliveryStatus {
	id := payload["uuid"]
	if id == "" {
		id = payload["responseToken"]
	}
	raw := payload["status"]
	if id == "" || raw == "" {
		return nil
	}

	status := &domain.DeliveryStatus{
		MessageID: id,
		Status:    smsoDeliveryState(raw),
		Raw:       map[string]any{"status": raw, "sent_at": payload["sent_at"]},
	}
	if status.Status == domain.DeliveryDelivered {
		status.DeliveredAt = parseSMSOTime(payload["delivered_at"])
	}
	if status.Status == domain.DeliveryFailed {
		status.ErrorMessage = payload["error"]
	}
	return status
}

func smsoDeliveryState(s string) domain.DeliveryState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "dispatched", "scheduled":
		return domain.DeliveryPending
	case "sent":
		return domain.DeliverySent
	case "delivered":
		return domain.DeliveryDelivered
	case "undelivered", "failed", "error", "rejected":
		return domain.DeliveryFailed
	case "expired":
		return domain.DeliveryExpired
	}
	return domain.DeliveryUnknown
}

// SMSO reports wall-clock times in Bucharest local time.
func parseSMSOTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	t, err := time.ParseInLocation(smsoTimeLayout, s, bucharest)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func smsoErrorCode(body []byte) string {
	var e smsoError
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(e.Code))
}

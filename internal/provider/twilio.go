package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

const (
	twilioName           = "Twilio"
	twilioDefaultBaseURL = "https://api.twilio.com"
	twilioCurrency       = "USD"
)

var twilioVendorCodes = map[string]domain.ErrorCode{
	"20003": domain.CodeInvalidAPIKey,
	"20404": domain.CodeBadRequest,
	"21211": domain.CodeBadRequest,
	"21408": domain.CodeBadRequest,
	"21610": domain.CodeBadRequest,
	"21614": domain.CodeBadRequest,
}

type twilioMessage struct {
	SID          string          `json:"sid"`
	Status       string          `json:"status"`
	ErrorCode    json.RawMessage `json:"error_code"`
	ErrorMessage *string         `json:"error_message"`
	DateUpdated  string          `json:"date_updated"`
}

type twilioBalance struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type twilioError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// TwilioAdapter talks to the Twilio Programmable Messaging REST API.
type TwilioAdapter struct {
	Defaults

	client     *resty.Client
	accountSID string
	from       string
	callback   string
}

func NewTwilioAdapter(settings domain.ProviderSettings, creds domain.Credentials, client *resty.Client) (*TwilioAdapter, error) {
	accountSID := creds.Get("account_sid")
	authToken := creds.Get("auth_token")
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("%w: twilio requires account_sid and auth_token", domain.ErrProviderNotConfigured)
	}
	if strings.TrimSpace(settings.SenderID) == "" {
		return nil, fmt.Errorf("%w: twilio requires a sender_id", domain.ErrProviderNotConfigured)
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid twilio base url: %v", domain.ErrProviderNotConfigured, err)
	}

	d := newDefaults(twilioName, settings,
		FeatureSend, FeatureStatus, FeatureBalance, FeatureWebhook, FeatureUnicode, FeatureSenderID)
	client = newRestyClient(baseURL, d.timeout(), client)
	client.SetBasicAuth(accountSID, authToken)

	return &TwilioAdapter{
		Defaults:   d,
		client:     client,
		accountSID: accountSID,
		from:       strings.TrimSpace(settings.SenderID),
		callback:   settings.StatusCallbackURL,
	}, nil
}

func (a *TwilioAdapter) accountPath(suffix string) string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s%s", url.PathEscape(a.accountSID), suffix)
}

func (a *TwilioAdapter) Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	msg, invalid := prepareMessage(msg, a.FormatPhoneNumber)
	if invalid != nil {
		return *invalid
	}

	from := a.from
	if msg.SenderID != "" {
		from = msg.SenderID
	}
	form := map[string]string{
		"To":   msg.To,
		"From": from,
		"Body": msg.Body,
	}
	if a.callback != "" {
		form["StatusCallback"] = a.callback
	}

	var out twilioMessage
	req := a.client.R().SetFormData(form).SetResult(&out)
	if _, err := execute(ctx, req, http.MethodPost, a.accountPath("/Messages.json"), twilioErrorCode); err != nil {
		return failure(err, twilioVendorCodes)
	}
	if out.SID == "" {
		return domain.FailedSend(domain.CodeProviderError, "twilio response missing sid")
	}

	seg := Segments(msg.Body)
	return domain.SendResult{
		Success:   true,
		MessageID: out.SID,
		Status:    twilioSendStatus(out.Status),
		Cost:      a.CalculateCost(msg),
		Currency:  a.currency(twilioCurrency),
		Parts:     seg.Parts,
		Raw:       map[string]any{"sid": out.SID, "status": out.Status},
	}
}

func (a *TwilioAdapter) GetStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	if strings.TrimSpace(messageID) == "" {
		return domain.UnknownDelivery(messageID)
	}

	var out twilioMessage
	req := a.client.R().SetResult(&out)
	if _, err := execute(ctx, req, http.MethodGet, a.accountPath("/Messages/"+url.PathEscape(messageID)+".json"), twilioErrorCode); err != nil {
		return domain.UnknownDelivery(messageID)
	}

	status := domain.DeliveryStatus{
		MessageID: messageID,
		Status:    twilioDeliveryState(out.Status),
		ErrorCode: rawCode(out.ErrorCode),
		Raw:       map[string]any{"status": out.Status},
	}
	if out.ErrorMessage != nil {
		status.ErrorMessage = *out.ErrorMessage
	}
	if status.Status == domain.DeliveryDelivered {
		if at, err := time.Parse(time.RFC1123Z, out.DateUpdated); err == nil {
			at = at.UTC()
			status.DeliveredAt = &at
		}
	}
	return status
}

func (a *TwilioAdapter) GetBalance(ctx context.Context) domain.ProviderBalance {
	currency := a.currency(twilioCurrency)
	threshold := a.settings.LowBalanceThreshold

	var out twilioBalance
	req := a.client.R().SetResult(&out)
	if _, err := execute(ctx, req, http.MethodGet, a.accountPath("/Balance.json"), twilioErrorCode); err != nil {
		return domain.DegradedBalance(currency, domain.BalanceUnitMoney, threshold)
	}

	balance, err := strconv.ParseFloat(strings.TrimSpace(out.Balance), 64)
	if err != nil {
		return domain.DegradedBalance(currency, domain.BalanceUnitMoney, threshold)
	}
	if out.Currency != "" {
		currency = out.Currency
	}
	return domain.NewProviderBalance(balance, currency, domain.BalanceUnitMoney, threshold)
}

func (a *TwilioAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return healthFromBalance(ctx, a.GetBalance)
}

// HandleWebhook parses Twilio StatusCallback form fields.
func (a *TwilioAdapter) HandleWebhook(payload map[string]string) *domain.DeliveryStatus {
	sid := payload["MessageSid"]
	if sid == "" {
		sid = payload["SmsSid"]
	}
	raw := payload["MessageStatus"]
	if raw == "" {
		raw = payload["SmsStatus"]
	}
	if sid == "" || raw == "" {
		return nil
	}

	return &domain.DeliveryStatus{
		MessageID:    sid,
		Status:       twilioDeliveryState(raw),
		ErrorCode:    payload["ErrorCode"],
		ErrorMessage: payload["ErrorMessage"],
		Raw:          map[string]any{"status": raw},
	}
}

func twilioSendStatus(s string) domain.SendStatus {
	switch strings.ToLower(s) {
	case "sent", "delivered":
		return domain.SendStatusSent
	case "failed", "undelivered", "canceled":
		return domain.SendStatusFailed
	}
	return domain.SendStatusPending
}

func twilioDeliveryState(s string) domain.DeliveryState {
	switch strings.ToLower(s) {
	case "queued", "accepted", "scheduled":
		return domain.DeliveryPending
	case "sending", "sent":
		return domain.DeliverySent
	case "delivered", "read":
		return domain.DeliveryDelivered
	case "failed", "undelivered", "canceled":
		return domain.DeliveryFailed
	}
	return domain.DeliveryUnknown
}

func twilioErrorCode(body []byte) string {
	var e twilioError
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Code.String()
}

func rawCode(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return ""
	}
	return s
}

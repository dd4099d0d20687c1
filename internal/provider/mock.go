package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
)

const (
	mockName     = "Mock SMS"
	mockCurrency = "RON"
	// Balance reported when mock_balance is not configured.
	defaultMockBalance = 1000.0
)

// MockAdapter simulates a provider for development and tests. It never calls
// the network; accepted messages land in a MockLedger.
type MockAdapter struct {
	Defaults

	ledger        *MockLedger
	logger        *zap.Logger
	successRate   float64
	delay         time.Duration
	deliveryDelay time.Duration
	otpCode       string
	balance       float64

	now      func() time.Time
	random   func() float64
	randIntn func(int) int
}

func NewMockAdapter(settings domain.ProviderSettings, ledger *MockLedger, logger *zap.Logger) *MockAdapter {
	if ledger == nil {
		ledger = NewMockLedger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	successRate := 1.0
	if settings.SuccessRate != nil {
		successRate = *settings.SuccessRate
	}

	balance := settings.MockBalance
	if balance == 0 {
		balance = defaultMockBalance
	}

	return &MockAdapter{
		Defaults: newDefaults(mockName, settings,
			FeatureSend, FeatureStatus, FeatureBalance, FeatureWebhook, FeatureUnicode, FeatureSenderID),
		ledger:        ledger,
		logger:        logger,
		successRate:   successRate,
		delay:         time.Duration(settings.DelayMillis) * time.Millisecond,
		deliveryDelay: time.Duration(settings.DeliveryDelayMillis) * time.Millisecond,
		otpCode:       settings.OTPCode,
		balance:       balance,
		now:           time.Now,
		random:        rand.Float64,
		randIntn:      rand.Intn,
	}
}

func (a *MockAdapter) Ledger() *MockLedger { return a.ledger }

// GenerateOTP returns the configured fixed code or a random six digit one.
func (a *MockAdapter) GenerateOTP() string {
	if a.otpCode != "" {
		return a.otpCode
	}
	return fmt.Sprintf("%06d", a.randIntn(1000000))
}

func (a *MockAdapter) Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	msg, invalid := prepareMessage(msg, a.FormatPhoneNumber)
	if invalid != nil {
		return *invalid
	}

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.FailedSend(domain.CodeTimeout, ctx.Err().Error())
		case <-timer.C:
		}
	}

	if a.random() >= a.successRate {
		return domain.FailedSend(domain.CodeProviderError, "simulated provider failure")
	}

	cost := a.CalculateCost(msg)
	rec := MockRecord{
		MessageID: "mock-" + uuid.NewString(),
		To:        msg.To,
		Body:      msg.Body,
		Category:  msg.Category,
		Cost:      cost,
		SentAt:    a.now().UTC(),
	}
	if msg.Category == domain.CategoryOTP {
		rec.OTPCode = extractOTP(msg.Body)
	}
	a.ledger.add(rec)

	fields := []zap.Field{
		zap.String("message_id", rec.MessageID),
		zap.String("recipient", domain.MaskPhone(msg.To)),
		zap.String("category", msg.Category.String()),
	}
	if rec.OTPCode != "" {
		fields = append(fields, zap.String("otp_code", rec.OTPCode))
	}
	a.logger.Info("mock sms accepted", fields...)

	return domain.SendResult{
		Success:   true,
		MessageID: rec.MessageID,
		Status:    domain.SendStatusSent,
		Cost:      cost,
		Currency:  a.currency(mockCurrency),
		Parts:     Segments(msg.Body).Parts,
	}
}

func (a *MockAdapter) GetStatus(_ context.Context, messageID string) domain.DeliveryStatus {
	rec, ok := a.ledger.Get(messageID)
	if !ok {
		return domain.UnknownDelivery(messageID)
	}

	deliveredAt := rec.SentAt.Add(a.deliveryDelay)
	if a.now().UTC().Before(deliveredAt) {
		return domain.DeliveryStatus{MessageID: messageID, Status: domain.DeliverySent}
	}
	return domain.DeliveryStatus{MessageID: messageID, Status: domain.DeliveryDelivered, DeliveredAt: &deliveredAt}
}

func (a *MockAdapter) GetBalance(context.Context) domain.ProviderBalance {
	return domain.NewProviderBalance(a.balance, a.currency(mockCurrency), domain.BalanceUnitMoney, a.settings.LowBalanceThreshold)
}

func (a *MockAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return healthFromBalance(ctx, a.GetBalance)
}

// HandleWebhook accepts {"message_id": ..., "status": ...} payloads.
func (a *MockAdapter) HandleWebhook(payload map[string]string) *domain.DeliveryStatus {
	id := payload["message_id"]
	if id == "" {
		return nil
	}
	state, err := domain.ParseDeliveryStateFromString(payload["status"])
	if err != nil {
		return nil
	}

	status := &domain.DeliveryStatus{
		MessageID:    id,
		Status:       state,
		ErrorCode:    payload["error_code"],
		ErrorMessage: payload["error_message"],
	}
	if state == domain.DeliveryDelivered {
		if at, err := time.Parse(time.RFC3339, payload["delivered_at"]); err == nil {
			at = at.UTC()
			status.DeliveredAt = &at
		}
	}
	return status
}

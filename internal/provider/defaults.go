package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Defaults carries behaviour shared by every adapter: generic E.164 handling,
// pricing and the no-op webhook parser. Adapters embed it and override what
// their vendor does differently.
type Defaults struct {
	name     string
	features []Feature
	settings domain.ProviderSettings
	cost     CostCalculator
}

func newDefaults(name string, settings domain.ProviderSettings, features ...Feature) Defaults {
	return Defaults{
		name:     name,
		features: features,
		settings: settings,
		cost:     NewCostCalculator(settings),
	}
}

func (d Defaults) Name() string { return d.name }

func (d Defaults) SupportedFeatures() []Feature {
	out := make([]Feature, len(d.features))
	copy(out, d.features)
	return out
}

func (d Defaults) CalculateCost(msg domain.OutboundMessage) float64 {
	return d.cost.Calculate(msg)
}

func (d Defaults) FormatPhoneNumber(phone string) (string, error) {
	normalized := domain.StripPhoneFormatting(phone)
	if normalized == "" {
		return "", fmt.Errorf("%w: recipient is required", domain.ErrInvalidPhone)
	}
	if !domain.IsE164(normalized) {
		return "", fmt.Errorf("%w: %q is not in E.164 format", domain.ErrInvalidPhone, phone)
	}
	return normalized, nil
}

func (d Defaults) ValidatePhoneNumber(phone string) bool {
	_, err := d.FormatPhoneNumber(phone)
	return err == nil
}

func (d Defaults) HandleWebhook(map[string]string) *domain.DeliveryStatus {
	return nil
}

func (d Defaults) currency(fallback string) string {
	if d.settings.Currency != "" {
		return d.settings.Currency
	}
	return fallback
}

func (d Defaults) timeout() time.Duration {
	if d.settings.TimeoutSeconds > 0 {
		return time.Duration(d.settings.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// prepareMessage normalizes the recipient with format and validates the result.
// A non-nil SendResult means the message must not be sent.
func prepareMessage(msg domain.OutboundMessage, format func(string) (string, error)) (domain.OutboundMessage, *domain.SendResult) {
	if msg.Category == "" {
		msg.Category = domain.CategoryTransactional
	}
	if domain.StripPhoneFormatting(msg.To) != "" {
		normalized, err := format(msg.To)
		if err != nil {
			result := domain.FailedSend(domain.CodeFromError(err), err.Error())
			return msg, &result
		}
		msg.To = normalized
	}
	if err := msg.Validate(); err != nil {
		result := domain.FailedSend(domain.CodeFromError(err), err.Error())
		return msg, &result
	}
	return msg, nil
}

// healthFromBalance treats a low or unreachable balance as unhealthy.
func healthFromBalance(ctx context.Context, balance func(context.Context) domain.ProviderBalance) (bool, string) {
	b := balance(ctx)
	switch {
	case b.Degraded:
		return false, "balance endpoint unreachable"
	case b.IsLow:
		return false, fmt.Sprintf("balance %.2f %s at or below threshold %.2f", b.Balance, b.Currency, b.LowThreshold)
	}
	return true, fmt.Sprintf("balance %.2f %s", b.Balance, b.Currency)
}

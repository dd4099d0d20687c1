package provider

import (
	"context"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// Feature names an optional capability of a provider integration.
type Feature string

const (
	FeatureSend     Feature = "send"
	FeatureStatus   Feature = "status"
	FeatureBalance  Feature = "balance"
	FeatureWebhook  Feature = "webhook"
	FeatureUnicode  Feature = "unicode"
	FeatureSenderID Feature = "sender_id"
)

// Adapter is the outbound SMS delivery port. Send, GetStatus and GetBalance never
// return errors: failures are reported inside the result.
type Adapter interface {
	Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult
	GetStatus(ctx context.Context, messageID string) domain.DeliveryStatus
	GetBalance(ctx context.Context) domain.ProviderBalance
	CalculateCost(msg domain.OutboundMessage) float64
	HealthCheck(ctx context.Context) (bool, string)

	Name() string
	SupportedFeatures() []Feature

	FormatPhoneNumber(phone string) (string, error)
	ValidatePhoneNumber(phone string) bool

	// HandleWebhook parses a vendor callback. It returns nil when the payload is
	// not a delivery report this adapter understands.
	HandleWebhook(payload map[string]string) *domain.DeliveryStatus
}

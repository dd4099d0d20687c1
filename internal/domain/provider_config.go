package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AdapterType selects the vendor integration behind a provider configuration.
type AdapterType string

const (
	AdapterMock   AdapterType = "mock"
	AdapterTwilio AdapterType = "twilio"
	AdapterSMSO   AdapterType = "smso"
	AdapterSNS    AdapterType = "sns"
)

func (a AdapterType) String() string { return string(a) }

func (a AdapterType) IsValid() bool {
	switch a {
	case AdapterMock, AdapterTwilio, AdapterSMSO, AdapterSNS:
		return true
	}
	return false
}

func ParseAdapterTypeFromString(s string) (AdapterType, error) {
	a := AdapterType(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unsupported adapter type %q", ErrValidation, s)
	}
	return a, nil
}

// Credentials holds decrypted vendor secrets keyed by name (api_key, account_sid, ...).
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[key])
}

// ProviderSettings is the non-secret, adapter-specific configuration.
type ProviderSettings struct {
	SenderID            string   `json:"sender_id,omitempty" toml:"sender_id"`
	BaseURL             string   `json:"base_url,omitempty" toml:"base_url"`
	StatusCallbackURL   string   `json:"status_callback_url,omitempty" toml:"status_callback_url"`
	Region              string   `json:"region,omitempty" toml:"region"`
	CostPerSMS          float64  `json:"cost_per_sms,omitempty" toml:"cost_per_sms"`
	MarketingMultiplier float64  `json:"marketing_multiplier,omitempty" toml:"marketing_multiplier"`
	Currency            string   `json:"currency,omitempty" toml:"currency"`
	CurrencyPrecision   int      `json:"currency_precision,omitempty" toml:"currency_precision"`
	LowBalanceThreshold float64  `json:"low_balance_threshold,omitempty" toml:"low_balance_threshold"`
	TimeoutSeconds      int      `json:"timeout_seconds,omitempty" toml:"timeout_seconds"`
	SuccessRate         *float64 `json:"success_rate,omitempty" toml:"success_rate"`
	DelayMillis         int      `json:"delay_ms,omitempty" toml:"delay_ms"`
	DeliveryDelayMillis int      `json:"delivery_delay_ms,omitempty" toml:"delivery_delay_ms"`
	OTPCode             string   `json:"otp_code,omitempty" toml:"otp_code"`
	MockBalance         float64  `json:"mock_balance,omitempty" toml:"mock_balance"`
}

// ProviderConfig is a persisted SMS provider configuration row.
type ProviderConfig struct {
	ID          string
	Slug        string
	Name        string
	AdapterType AdapterType
	IsActive    bool
	IsDefault   bool
	Priority    int
	// Credentials is the encrypted credential blob; plaintext never leaves the secrets package.
	Credentials string
	Settings    ProviderSettings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

func (p *ProviderConfig) Validate() error {
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("%w: invalid provider slug %q", ErrValidation, p.Slug)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: provider name is required", ErrValidation)
	}
	if !p.AdapterType.IsValid() {
		return fmt.Errorf("%w: unsupported adapter type %q", ErrValidation, p.AdapterType)
	}
	if p.IsDefault && !p.IsActive {
		return fmt.Errorf("%w: default provider must be active", ErrValidation)
	}
	if sr := p.Settings.SuccessRate; sr != nil && (*sr < 0 || *sr > 1) {
		return fmt.Errorf("%w: success_rate must be within [0,1]", ErrValidation)
	}
	if p.Settings.CostPerSMS < 0 || p.Settings.MarketingMultiplier < 0 {
		return fmt.Errorf("%w: pricing values must not be negative", ErrValidation)
	}
	return nil
}

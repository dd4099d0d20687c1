package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
)

// Options carries collaborators shared by adapters built from configuration.
type Options struct {
	Logger *zap.Logger
	// Ledger backs every mock adapter so sent messages survive cache rebuilds.
	Ledger *MockLedger
	// HTTPClient overrides the resty client of HTTP adapters; a fresh client is
	// created per adapter when nil.
	HTTPClient func() *resty.Client
	// SNSPublisher overrides the AWS-backed publisher.
	SNSPublisher SNSPublisher
}

// New builds the adapter selected by cfg.AdapterType.
func New(ctx context.Context, cfg domain.ProviderConfig, creds domain.Credentials, opts Options) (Adapter, error) {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = opts.HTTPClient()
	}

	switch cfg.AdapterType {
	case domain.AdapterMock:
		return NewMockAdapter(cfg.Settings, opts.Ledger, opts.Logger), nil
	case domain.AdapterTwilio:
		return NewTwilioAdapter(cfg.Settings, creds, client)
	case domain.AdapterSMSO:
		return NewSMSOAdapter(cfg.Settings, creds, client)
	case domain.AdapterSNS:
		publisher := opts.SNSPublisher
		if publisher == nil {
			p, err := NewAWSSNSPublisher(ctx, cfg.Settings.Region, creds)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrProviderNotConfigured, err)
			}
			publisher = p
		}
		return NewSNSAdapter(cfg.Settings, publisher)
	}
	return nil, fmt.Errorf("%w: unsupported adapter type %q", domain.ErrProviderNotConfigured, cfg.AdapterType)
}

// CurrencyFor returns the billing currency of cfg, falling back to the
// adapter's vendor currency.
func CurrencyFor(cfg domain.ProviderConfig) string {
	if cfg.Settings.Currency != "" {
		return cfg.Settings.Currency
	}
	switch cfg.AdapterType {
	case domain.AdapterTwilio:
		return twilioCurrency
	case domain.AdapterSMSO:
		return smsoCurrency
	case domain.AdapterSNS:
		return snsCurrency
	}
	return mockCurrency
}

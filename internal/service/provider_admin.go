package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/config"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

type CredentialEncrypter interface {
	EncryptCredentials(creds domain.Credentials) (string, error)
}

// AdapterCache is the invalidation side of the provider manager.
type AdapterCache interface {
	Invalidate(slug string)
	InvalidateAll()
}

// ProviderInput is an admin write of a provider configuration. Nil
// Credentials keeps the stored credentials on update.
type ProviderInput struct {
	Slug        string
	Name        string
	AdapterType domain.AdapterType
	IsActive    bool
	IsDefault   bool
	Priority    int
	Settings    domain.ProviderSettings
	Credentials domain.Credentials
}

// ProviderAdmin manages stored provider configurations.
type ProviderAdmin struct {
	providers repository.ProviderRepository
	cipher    CredentialEncrypter
	cache     AdapterCache
	logger    *zap.Logger
}

func NewProviderAdmin(
	providers repository.ProviderRepository,
	cipher CredentialEncrypter,
	cache AdapterCache,
	logger *zap.Logger,
) (*ProviderAdmin, error) {
	if providers == nil {
		return nil, errors.New("provider repository is required")
	}
	if cipher == nil {
		return nil, errors.New("credential encrypter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProviderAdmin{
		providers: providers,
		cipher:    cipher,
		cache:     cache,
		logger:    logger,
	}, nil
}

func (a *ProviderAdmin) List(ctx context.Context) ([]domain.ProviderConfig, error) {
	return a.providers.List(ctx)
}

func (a *ProviderAdmin) Get(ctx context.Context, slug string) (*domain.ProviderConfig, error) {
	return a.providers.GetBySlug(ctx, slug)
}

func (a *ProviderAdmin) Create(ctx context.Context, in ProviderInput) (*domain.ProviderConfig, error) {
	cfg, err := a.configFromInput(in)
	if err != nil {
		return nil, err
	}
	if in.Credentials != nil {
		if cfg.Credentials, err = a.cipher.EncryptCredentials(in.Credentials); err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
	}

	if err := a.providers.Create(ctx, cfg); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: provider %q already exists", domain.ErrConflict, cfg.Slug)
		}
		return nil, err
	}

	a.invalidateAll()
	a.logger.Info("sms provider created",
		zap.String("provider", cfg.Slug),
		zap.String("adapterType", cfg.AdapterType.String()),
	)
	return cfg, nil
}

func (a *ProviderAdmin) Update(ctx context.Context, in ProviderInput) (*domain.ProviderConfig, error) {
	existing, err := a.providers.GetBySlug(ctx, in.Slug)
	if err != nil {
		return nil, err
	}

	cfg, err := a.configFromInput(in)
	if err != nil {
		return nil, err
	}
	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	cfg.Credentials = existing.Credentials
	if in.Credentials != nil {
		if cfg.Credentials, err = a.cipher.EncryptCredentials(in.Credentials); err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
	}

	if err := a.providers.Update(ctx, cfg); err != nil {
		return nil, err
	}

	a.invalidateAll()
	a.logger.Info("sms provider updated", zap.String("provider", cfg.Slug))
	return a.providers.GetBySlug(ctx, cfg.Slug)
}

func (a *ProviderAdmin) Activate(ctx context.Context, slug string) error {
	return a.setActive(ctx, slug, true)
}

// Deactivate disables a provider; configurations are never deleted.
func (a *ProviderAdmin) Deactivate(ctx context.Context, slug string) error {
	return a.setActive(ctx, slug, false)
}

func (a *ProviderAdmin) setActive(ctx context.Context, slug string, active bool) error {
	if err := a.providers.SetActive(ctx, slug, active); err != nil {
		return err
	}
	a.invalidate(slug)
	a.logger.Info("sms provider active flag changed", zap.String("provider", slug), zap.Bool("active", active))
	return nil
}

func (a *ProviderAdmin) SetDefault(ctx context.Context, slug string) error {
	if err := a.providers.SetDefault(ctx, slug); err != nil {
		return err
	}
	a.invalidateAll()
	a.logger.Info("sms default provider changed", zap.String("provider", slug))
	return nil
}

// Seed upserts every provider from a seed file and returns how many were written.
func (a *ProviderAdmin) Seed(ctx context.Context, seeds []config.ProviderSeed) (int, error) {
	written := 0
	for _, seed := range seeds {
		cfg, err := seed.ProviderConfig()
		if err != nil {
			return written, fmt.Errorf("provider %s: %w", seed.Slug, err)
		}
		if len(seed.Credentials) > 0 {
			if cfg.Credentials, err = a.cipher.EncryptCredentials(seed.Credentials); err != nil {
				return written, fmt.Errorf("provider %s: failed to encrypt credentials: %w", seed.Slug, err)
			}
		}
		if err := a.providers.Upsert(ctx, &cfg); err != nil {
			return written, fmt.Errorf("provider %s: %w", seed.Slug, err)
		}
		written++
	}

	if written > 0 {
		a.invalidateAll()
		a.logger.Info("sms providers seeded", zap.Int("count", written))
	}
	return written, nil
}

func (a *ProviderAdmin) configFromInput(in ProviderInput) (*domain.ProviderConfig, error) {
	cfg := &domain.ProviderConfig{
		Slug:        strings.TrimSpace(in.Slug),
		Name:        strings.TrimSpace(in.Name),
		AdapterType: in.AdapterType,
		IsActive:    in.IsActive,
		IsDefault:   in.IsDefault,
		Priority:    in.Priority,
		Settings:    in.Settings,
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Slug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *ProviderAdmin) invalidate(slug string) {
	if a.cache != nil {
		a.cache.Invalidate(slug)
	}
}

// invalidateAll is used when a write can change which provider is selected.
func (a *ProviderAdmin) invalidateAll() {
	if a.cache != nil {
		a.cache.InvalidateAll()
	}
}

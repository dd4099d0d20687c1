package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
)

const defaultBalanceCheckInterval = 15 * time.Minute

type BalanceChecker interface {
	GetBalance(ctx context.Context, slug string) (domain.ProviderBalance, error)
}

// BalanceMonitor periodically refreshes the balance of every active provider
// so low-balance warnings and the balance gauge stay current.
type BalanceMonitor struct {
	registry ProviderRegistry
	balances BalanceChecker
	logger   *zap.Logger
	interval time.Duration
}

func NewBalanceMonitor(registry ProviderRegistry, balances BalanceChecker, interval time.Duration, logger *zap.Logger) (*BalanceMonitor, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance checker is required")
	}
	if interval <= 0 {
		interval = defaultBalanceCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BalanceMonitor{
		registry: registry,
		balances: balances,
		logger:   logger,
		interval: interval,
	}, nil
}

func (s *BalanceMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.check(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("balance monitor initial check failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.check(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("balance monitor check failed", zap.Error(err))
			}
		}
	}
}

func (s *BalanceMonitor) check(ctx context.Context) error {
	_, err := s.lowBalanceProviders(ctx)
	return err
}

// lowBalanceProviders returns the slugs of active providers at or below their threshold.
func (s *BalanceMonitor) lowBalanceProviders(ctx context.Context) ([]string, error) {
	configs, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}

	var low []string
	for _, cfg := range configs {
		balance, err := s.balances.GetBalance(ctx, cfg.Slug)
		if err != nil {
			s.logger.Error("failed to read provider balance",
				zap.String("provider", cfg.Slug),
				zap.Error(err),
			)
			continue
		}
		if balance.IsLow {
			low = append(low, cfg.Slug)
		}
	}
	return low, nil
}

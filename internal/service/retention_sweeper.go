package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRetentionSweepInterval = time.Hour
)

// LogPurger deletes expired delivery log rows.
type LogPurger interface {
	Purge(ctx context.Context, batchSize int) (int64, error)
}

// RetentionSweeper periodically removes delivery log rows past their expiry.
type RetentionSweeper struct {
	logs      LogPurger
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRetentionSweeper(logs LogPurger, interval time.Duration, batchSize int, logger *zap.Logger) (*RetentionSweeper, error) {
	if logs == nil {
		return nil, fmt.Errorf("delivery log is required")
	}
	if interval <= 0 {
		interval = defaultRetentionSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultPurgeBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{
		logs:      logs,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}, nil
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Sweep once at startup so a long-stopped service catches up immediately.
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retention sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) error {
	deleted, err := s.logs.Purge(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to purge expired sms logs: %w", err)
	}
	s.logger.Debug("retention sweep finished", zap.Int64("deleted", deleted))
	return nil
}

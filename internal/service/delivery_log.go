package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

const defaultPurgeBatchSize = 500

// SendAttempt is one provider send to be written to the delivery log.
type SendAttempt struct {
	// ID makes Record idempotent; a new id is generated when empty.
	ID         string
	Message    domain.OutboundMessage
	Result     domain.SendResult
	RetryCount int
}

// DeliveryLog persists send attempts and applies delivery reports to them.
type DeliveryLog struct {
	logs      repository.SMSLogRepository
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewDeliveryLog(logs repository.SMSLogRepository, retention time.Duration, logger *zap.Logger) (*DeliveryLog, error) {
	if logs == nil {
		return nil, errors.New("sms log repository is required")
	}
	if retention <= 0 {
		retention = domain.DefaultLogRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryLog{
		logs:      logs,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (d *DeliveryLog) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Record writes the attempt. Recording the same ID twice returns the stored row.
func (d *DeliveryLog) Record(ctx context.Context, attempt SendAttempt) (*domain.DeliveryLogRecord, error) {
	now := d.now().UTC()
	id := attempt.ID
	if id == "" {
		id = uuid.NewString()
	}

	msg := attempt.Message
	result := attempt.Result
	status := domain.DeliveryStateFromSend(result.Status)
	if result.Success && status == domain.DeliveryPending && result.Status == "" {
		status = domain.DeliverySent
	}
	if !result.Success {
		status = domain.DeliveryFailed
	}

	rec := &domain.DeliveryLogRecord{
		ID:                id,
		Provider:          result.Provider,
		ProviderMessageID: result.MessageID,
		Recipient:         msg.To,
		RecipientMasked:   domain.MaskPhone(msg.To),
		Category:          msg.Category,
		Body:              msg.Body,
		Status:            status,
		Parts:             result.Parts,
		Cost:              result.Cost,
		Currency:          result.Currency,
		ErrorCode:         result.ErrorCode.String(),
		ErrorMessage:      result.ErrorMessage,
		RetryCount:        attempt.RetryCount,
		Metadata:          msg.Metadata,
		ExpiresAt:         now.Add(d.retention),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rec.Category == "" {
		rec.Category = domain.CategoryTransactional
	}
	if result.Success {
		rec.SentAt = &now
	}

	inserted, err := d.logs.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record sms log: %w", err)
	}
	if !inserted {
		return d.logs.GetByID(ctx, id)
	}
	return rec, nil
}

func (d *DeliveryLog) Get(ctx context.Context, id string) (*domain.DeliveryLogRecord, error) {
	return d.logs.GetByID(ctx, id)
}

func (d *DeliveryLog) GetByProviderMessageID(ctx context.Context, provider, messageID string) (*domain.DeliveryLogRecord, error) {
	return d.logs.GetByProviderMessageID(ctx, provider, messageID)
}

// UpdateStatus applies a delivery report for a message accepted by provider.
// Reports for unknown messages and reports that would move a terminal record
// back to a non-terminal state are logged and dropped; applied is false then.
func (d *DeliveryLog) UpdateStatus(ctx context.Context, provider string, status domain.DeliveryStatus) (bool, error) {
	if status.MessageID == "" {
		return false, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}

	rec, err := d.logs.GetByProviderMessageID(ctx, provider, status.MessageID)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.Warn("delivery report for unknown message dropped",
			zap.String("provider", provider),
			zap.String("messageId", status.MessageID),
			zap.String("status", status.Status.String()),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load sms log: %w", err)
	}

	return d.Apply(ctx, rec, status)
}

// Apply writes status onto an already loaded record. A delivered report
// without a provider timestamp is stamped with the current time.
func (d *DeliveryLog) Apply(ctx context.Context, rec *domain.DeliveryLogRecord, status domain.DeliveryStatus) (bool, error) {
	logger := d.logger.With(
		zap.String("logId", rec.ID),
		zap.String("provider", rec.Provider),
		zap.String("from", rec.Status.String()),
		zap.String("to", status.Status.String()),
	)

	if !rec.Status.CanTransitionTo(status.Status) {
		logger.Info("delivery status transition dropped")
		return false, nil
	}
	// A repeated terminal report keeps the first delivered_at and latency.
	if rec.Status == status.Status && rec.Status.IsTerminal() {
		logger.Debug("duplicate delivery report dropped")
		return false, nil
	}

	update := repository.StatusUpdate{
		Status:       status.Status,
		ErrorCode:    status.ErrorCode,
		ErrorMessage: status.ErrorMessage,
	}
	if status.Status == domain.DeliveryDelivered {
		deliveredAt := d.now().UTC()
		if status.DeliveredAt != nil {
			deliveredAt = status.DeliveredAt.UTC()
		}
		update.DeliveredAt = &deliveredAt
		if rec.SentAt != nil {
			latency := deliveredAt.Sub(*rec.SentAt).Seconds()
			if latency < 0 {
				latency = 0
			}
			update.LatencySeconds = &latency
		}
	}

	if err := d.logs.ApplyStatus(ctx, rec.ID, update); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("delivery status transition lost to a terminal update")
			return false, nil
		}
		return false, fmt.Errorf("failed to update sms log status: %w", err)
	}

	rec.Status = update.Status
	if update.DeliveredAt != nil {
		rec.DeliveredAt = update.DeliveredAt
	}
	if update.LatencySeconds != nil {
		rec.LatencySeconds = update.LatencySeconds
	}
	if update.ErrorCode != "" {
		rec.ErrorCode = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		rec.ErrorMessage = update.ErrorMessage
	}
	logger.Debug("delivery status applied")
	return true, nil
}

func (d *DeliveryLog) Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: stats range end is before its start", domain.ErrValidation)
	}
	return d.logs.Statistics(ctx, filter)
}

// Purge deletes expired rows in batches and returns how many were removed.
func (d *DeliveryLog) Purge(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultPurgeBatchSize
	}
	cutoff := d.now().UTC()

	var total int64
	for {
		deleted, err := d.logs.DeleteExpired(ctx, cutoff, batchSize)
		total += deleted
		if err != nil {
			return total, fmt.Errorf("failed to purge sms logs: %w", err)
		}
		if deleted < int64(batchSize) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		if d.metrics != nil {
			d.metrics.AddLogsPurged(total)
		}
		d.logger.Info("expired sms logs purged", zap.Int64("count", total))
	}
	return total, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

const (
	dlrOutcomeApplied         = "applied"
	dlrOutcomeDropped         = "dropped"
	dlrOutcomeIgnored         = "ignored"
	dlrOutcomeUnknownProvider = "unknown_provider"
)

// DeliveryReportParser turns a vendor webhook payload into a delivery status.
type DeliveryReportParser interface {
	HandleWebhook(ctx context.Context, slug string, payload map[string]string) (*domain.DeliveryStatus, error)
}

type DeliveryStatusWriter interface {
	UpdateStatus(ctx context.Context, provider string, status domain.DeliveryStatus) (bool, error)
}

// DLRWorker consumes queued delivery reports and applies them to the delivery log.
type DLRWorker struct {
	consumer    queue.Consumer
	parser      DeliveryReportParser
	logs        DeliveryStatusWriter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDLRWorker(
	consumer queue.Consumer,
	parser DeliveryReportParser,
	logs DeliveryStatusWriter,
	concurrency int,
	logger *zap.Logger,
) (*DLRWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if parser == nil {
		return nil, fmt.Errorf("delivery report parser is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery status writer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DLRWorker{
		consumer:    consumer,
		parser:      parser,
		logs:        logs,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DLRWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes delivery report queues until context cancellation.
func (w *DLRWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dlr worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("dlr worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dlr worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *DLRWorker) processMessage(ctx context.Context, msg queue.DeliveryReportMessage) error {
	if msg.RequestID != "" {
		ctx = observability.WithRequestID(ctx, msg.RequestID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("reportId", msg.ID),
		zap.String("provider", msg.Provider),
	)

	status, err := w.parser.HandleWebhook(ctx, msg.Provider, msg.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrProviderNotConfigured) {
			logger.Warn("delivery report for unavailable provider, skipping", zap.Error(err))
			w.observe(msg.Provider, dlrOutcomeUnknownProvider)
			return nil
		}
		return fmt.Errorf("failed to parse delivery report: %w", err)
	}

	// Nil means the payload is not a delivery report; ack and skip.
	if status == nil || status.MessageID == "" {
		logger.Debug("webhook payload is not a delivery report, skipping")
		w.observe(msg.Provider, dlrOutcomeIgnored)
		return nil
	}

	if status.Status == domain.DeliveryDelivered && status.DeliveredAt == nil && !msg.ReceivedAt.IsZero() {
		receivedAt := msg.ReceivedAt.UTC()
		status.DeliveredAt = &receivedAt
	}

	applied, err := w.logs.UpdateStatus(ctx, msg.Provider, *status)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.Warn("invalid delivery report, skipping", zap.Error(err))
			w.observe(msg.Provider, dlrOutcomeIgnored)
			return nil
		}
		return fmt.Errorf("failed to apply delivery report: %w", err)
	}

	if applied {
		w.observe(msg.Provider, dlrOutcomeApplied)
	} else {
		w.observe(msg.Provider, dlrOutcomeDropped)
	}
	return nil
}

func (w *DLRWorker) observe(provider, outcome string) {
	if w.metrics != nil {
		w.metrics.IncDLRProcessed(provider, outcome)
	}
}

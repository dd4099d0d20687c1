package ratelimit

import (
	"context"
	"errors"

	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"go.uber.org/zap"
)

var _ Limiter = (*FailoverLimiter)(nil)

// FailoverLimiter routes to primary and falls back to secondary on backend
// errors. When both fail the action is allowed (fail-open) and Decision.Err
// carries the cause.
type FailoverLimiter struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewFailoverLimiter(primary, secondary Limiter, logger *zap.Logger) (*FailoverLimiter, error) {
	if primary == nil {
		return nil, errors.New("primary limiter is required")
	}
	if secondary == nil {
		secondary = NewMemoryLimiter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverLimiter{primary: primary, secondary: secondary, logger: logger}, nil
}

func (f *FailoverLimiter) SetMetrics(metrics *observability.Metrics) {
	f.metrics = metrics
}

func (f *FailoverLimiter) CheckLimit(ctx context.Context, rule Rule, identifier string) (Decision, error) {
	return f.decide(ctx, "check", rule, func(l Limiter) (Decision, error) {
		return l.CheckLimit(ctx, rule, identifier)
	})
}

func (f *FailoverLimiter) Allow(ctx context.Context, rule Rule, identifier string) (Decision, error) {
	return f.decide(ctx, "allow", rule, func(l Limiter) (Decision, error) {
		return l.Allow(ctx, rule, identifier)
	})
}

func (f *FailoverLimiter) RecordUsage(ctx context.Context, rule Rule, identifier string) error {
	return f.run("record", rule, func(l Limiter) error { return l.RecordUsage(ctx, rule, identifier) })
}

func (f *FailoverLimiter) Release(ctx context.Context, rule Rule, identifier string) error {
	return f.run("release", rule, func(l Limiter) error { return l.Release(ctx, rule, identifier) })
}

func (f *FailoverLimiter) Reset(ctx context.Context, rule Rule, identifier string) error {
	return f.run("reset", rule, func(l Limiter) error { return l.Reset(ctx, rule, identifier) })
}

func (f *FailoverLimiter) decide(ctx context.Context, op string, rule Rule, call func(Limiter) (Decision, error)) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}

	d, err := call(f.primary)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	f.backendFailed(op, rule, err)

	fallback, fallbackErr := call(f.secondary)
	if fallbackErr == nil {
		fallback.Err = err
		return fallback, nil
	}

	joined := errors.Join(err, fallbackErr)
	f.logger.Warn("rate limiter unavailable, allowing request",
		zap.String("rule", rule.Name),
		zap.String("operation", op),
		zap.Error(joined),
	)
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, Err: joined}, nil
}

// run mirrors mutations to the fallback when the primary fails so the fallback
// sees the same usage while it serves decisions.
func (f *FailoverLimiter) run(op string, rule Rule, call func(Limiter) error) error {
	err := call(f.primary)
	if err == nil {
		return nil
	}
	f.backendFailed(op, rule, err)

	if fallbackErr := call(f.secondary); fallbackErr != nil {
		f.logger.Warn("rate limiter unavailable, usage not recorded",
			zap.String("rule", rule.Name),
			zap.String("operation", op),
			zap.Error(errors.Join(err, fallbackErr)),
		)
	}
	return nil
}

func (f *FailoverLimiter) backendFailed(op string, rule Rule, err error) {
	f.metrics.IncRateLimitBackendError(rule.Name)
	f.logger.Warn("rate limiter backend failed, using in-memory fallback",
		zap.String("rule", rule.Name),
		zap.String("operation", op),
		zap.Error(err),
	)
}

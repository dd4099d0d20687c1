package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

// SMSGateway is the provider-facing side of the SMS service.
type SMSGateway interface {
	SendSMS(ctx context.Context, msg domain.OutboundMessage) domain.SendResult
	FormatPhone(ctx context.Context, phone string) (string, error)
	GetStatusFrom(ctx context.Context, slug, messageID string) domain.DeliveryStatus
	Estimate(ctx context.Context, msg domain.OutboundMessage) (PriceEstimate, error)
}

type SendRequest struct {
	Phone    string
	IP       string
	Body     string
	Category domain.Category
	SenderID string
	Metadata map[string]string
	// SkipRateLimit bypasses customer quotas for internal sends.
	SkipRateLimit bool
}

type SendOutcome struct {
	LogID  string
	Result domain.SendResult
}

// QuotaStatus is the remaining send quota of a phone and client address.
type QuotaStatus struct {
	Allowed bool
	Phone   ratelimit.Decision
	IP      *ratelimit.Decision
	RetryAt time.Time
}

// SMSService runs storefront sends: quota checks, provider delivery and
// delivery logging.
type SMSService struct {
	gateway SMSGateway
	limiter ratelimit.Limiter
	rules   ratelimit.Rules
	log     *DeliveryLog
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewSMSService(
	gateway SMSGateway,
	limiter ratelimit.Limiter,
	rules ratelimit.Rules,
	log *DeliveryLog,
	logger *zap.Logger,
) (*SMSService, error) {
	if gateway == nil {
		return nil, errors.New("sms gateway is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if log == nil {
		return nil, errors.New("delivery log is required")
	}
	for _, rule := range []ratelimit.Rule{rules.PhoneDaily, rules.IPHourly, rules.VerifyAttempt, rules.AddressCount} {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMSService{
		gateway: gateway,
		limiter: limiter,
		rules:   rules,
		log:     log,
		logger:  logger,
	}, nil
}

func (s *SMSService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send delivers one SMS. Validation and quota failures are returned as
// errors; provider failures are reported in the outcome.
func (s *SMSService) Send(ctx context.Context, req SendRequest) (*SendOutcome, error) {
	logger := observability.WithContextLogger(s.logger, ctx)

	category := req.Category
	if category == "" {
		category = domain.CategoryTransactional
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: invalid category %q", domain.ErrValidation, category)
	}

	phone, err := s.gateway.FormatPhone(ctx, req.Phone)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveProvider) || errors.Is(err, domain.ErrProviderNotConfigured) {
			return nil, err
		}
		if !errors.Is(err, domain.ErrInvalidPhone) {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidPhone, err)
		}
		return nil, err
	}

	msg := domain.OutboundMessage{
		To:       phone,
		Body:     req.Body,
		Category: category,
		SenderID: req.SenderID,
		Metadata: req.Metadata,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var reserved []reservation
	if category.RateLimited() && !req.SkipRateLimit {
		reserved, err = s.reserveSendQuota(ctx, phone, req.IP)
		if err != nil {
			return nil, err
		}
	}

	result := s.gateway.SendSMS(ctx, msg)
	if !result.Success {
		s.release(ctx, reserved)
	}

	outcome := &SendOutcome{Result: result}
	rec, err := s.log.Record(ctx, SendAttempt{Message: msg, Result: result})
	if err != nil {
		logger.Error("failed to write sms delivery log",
			zap.String("provider", result.Provider),
			observability.Phone("to", phone),
			zap.Error(err),
		)
	} else {
		outcome.LogID = rec.ID
	}

	return outcome, nil
}

type reservation struct {
	rule ratelimit.Rule
	id   string
}

func (s *SMSService) reserveSendQuota(ctx context.Context, phone, ip string) ([]reservation, error) {
	wanted := []reservation{{rule: s.rules.PhoneDaily, id: phone}}
	if ip = strings.TrimSpace(ip); ip != "" {
		wanted = append(wanted, reservation{rule: s.rules.IPHourly, id: ip})
	}

	reserved := make([]reservation, 0, len(wanted))
	for _, r := range wanted {
		if err := s.allow(ctx, r.rule, r.id); err != nil {
			s.release(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, r)
	}
	return reserved, nil
}

// allow consumes one unit of rule for id and converts a denial into a
// *domain.RateLimitError.
func (s *SMSService) allow(ctx context.Context, rule ratelimit.Rule, id string) error {
	decision, err := s.limiter.Allow(ctx, rule, id)
	if err != nil {
		return limiterError(rule, err)
	}
	if decision.Err != nil {
		s.logger.Warn("rate limiter degraded, request allowed",
			zap.String("rule", rule.Name),
			zap.Error(decision.Err),
		)
	}
	if decision.Allowed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncRateLimitDenied(rule.Name)
	}
	return &domain.RateLimitError{Rule: rule.Name, Limit: decision.Limit, ResetAt: decision.ResetAt}
}

// limiterError keeps context errors intact so callers see a timeout or
// cancellation rather than a validation failure.
func limiterError(rule ratelimit.Rule, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("rate limit check %s interrupted: %w", rule.Name, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

func (s *SMSService) release(ctx context.Context, reserved []reservation) {
	for _, r := range reserved {
		if err := s.limiter.Release(ctx, r.rule, r.id); err != nil {
			s.logger.Warn("failed to release rate limit quota",
				zap.String("rule", r.rule.Name),
				zap.Error(err),
			)
		}
	}
}

// CheckQuota reports remaining quota without consuming it.
func (s *SMSService) CheckQuota(ctx context.Context, phone, ip string) (*QuotaStatus, error) {
	normalized, err := s.gateway.FormatPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveProvider) || errors.Is(err, domain.ErrProviderNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPhone, err)
	}

	phoneDecision, err := s.limiter.CheckLimit(ctx, s.rules.PhoneDaily, normalized)
	if err != nil {
		return nil, limiterError(s.rules.PhoneDaily, err)
	}
	status := &QuotaStatus{Allowed: phoneDecision.Allowed, Phone: phoneDecision}
	if !phoneDecision.Allowed {
		status.RetryAt = phoneDecision.ResetAt
	}

	if ip = strings.TrimSpace(ip); ip != "" {
		ipDecision, err := s.limiter.CheckLimit(ctx, s.rules.IPHourly, ip)
		if err != nil {
			return nil, limiterError(s.rules.IPHourly, err)
		}
		status.IP = &ipDecision
		if !ipDecision.Allowed {
			status.Allowed = false
			if ipDecision.ResetAt.After(status.RetryAt) {
				status.RetryAt = ipDecision.ResetAt
			}
		}
	}
	return status, nil
}

// AllowVerifyAttempt consumes one verification attempt for codeKey.
func (s *SMSService) AllowVerifyAttempt(ctx context.Context, codeKey string) error {
	return s.allow(ctx, s.rules.VerifyAttempt, codeKey)
}

// ReserveAddressSlot counts one more saved address for owner against the cumulative cap.
func (s *SMSService) ReserveAddressSlot(ctx context.Context, owner string) error {
	return s.allow(ctx, s.rules.AddressCount, owner)
}

func (s *SMSService) ReleaseAddressSlot(ctx context.Context, owner string) error {
	return s.limiter.Release(ctx, s.rules.AddressCount, owner)
}

// Status returns the logged message, refreshing it from the provider while
// it is not terminal.
func (s *SMSService) Status(ctx context.Context, logID string) (*domain.DeliveryLogRecord, error) {
	rec, err := s.log.Get(ctx, logID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() || rec.ProviderMessageID == "" {
		return rec, nil
	}

	status := s.gateway.GetStatusFrom(ctx, rec.Provider, rec.ProviderMessageID)
	if status.Status == domain.DeliveryUnknown || status.Status == "" {
		return rec, nil
	}
	if _, err := s.log.Apply(ctx, rec, status); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SMSService) Estimate(ctx context.Context, body string, category domain.Category) (PriceEstimate, error) {
	if strings.TrimSpace(body) == "" {
		return PriceEstimate{}, fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}
	if category == "" {
		category = domain.CategoryTransactional
	}
	if !category.IsValid() {
		return PriceEstimate{}, fmt.Errorf("%w: invalid category %q", domain.ErrValidation, category)
	}
	return s.gateway.Estimate(ctx, domain.OutboundMessage{Body: body, Category: category})
}

func (s *SMSService) Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error) {
	return s.log.Statistics(ctx, filter)
}

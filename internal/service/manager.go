package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout   = 30 * time.Second
	defaultHealthTimeout = 10 * time.Second
)

// ProviderRegistry is the read side of the provider configuration store.
type ProviderRegistry interface {
	ListActive(ctx context.Context) ([]domain.ProviderConfig, error)
	GetBySlug(ctx context.Context, slug string) (*domain.ProviderConfig, error)
}

type CredentialDecrypter interface {
	DecryptCredentials(token string) (domain.Credentials, error)
}

// AdapterFactory builds an adapter from a configuration and its decrypted credentials.
type AdapterFactory func(ctx context.Context, cfg domain.ProviderConfig, creds domain.Credentials) (provider.Adapter, error)

type ManagerOptions struct {
	SendTimeout time.Duration
	// FailoverEnabled lets SendSMS retry the next active provider on
	// PROVIDER_ERROR and TIMEOUT failures.
	FailoverEnabled bool
}

// ActiveProvider pairs a configuration with its built adapter.
type ActiveProvider struct {
	Config  domain.ProviderConfig
	Adapter provider.Adapter
}

// PriceEstimate is the projected cost of a message on the active provider.
type PriceEstimate struct {
	Provider string
	Currency string
	provider.Estimate
}

type cachedAdapter struct {
	fingerprint uint64
	adapter     provider.Adapter
}

// ProviderManager selects the active provider and keeps one adapter per
// provider slug, rebuilt whenever the stored configuration changes.
type ProviderManager struct {
	registry    ProviderRegistry
	cipher      CredentialDecrypter
	factory     AdapterFactory
	throughput  ratelimit.Throughput
	logger      *zap.Logger
	metrics     *observability.Metrics
	sendTimeout time.Duration
	failover    bool
	now         func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedAdapter
}

func NewProviderManager(
	registry ProviderRegistry,
	cipher CredentialDecrypter,
	factory AdapterFactory,
	throughput ratelimit.Throughput,
	opts ManagerOptions,
	logger *zap.Logger,
) (*ProviderManager, error) {
	if registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if cipher == nil {
		return nil, errors.New("credential decrypter is required")
	}
	if factory == nil {
		return nil, errors.New("adapter factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	return &ProviderManager{
		registry:    registry,
		cipher:      cipher,
		factory:     factory,
		throughput:  throughput,
		logger:      logger,
		sendTimeout: timeout,
		failover:    opts.FailoverEnabled,
		now:         time.Now,
		cache:       make(map[string]cachedAdapter),
	}, nil
}

func (m *ProviderManager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// GetActiveProvider returns the default active provider, or the active
// provider with the highest priority when none is marked default.
func (m *ProviderManager) GetActiveProvider(ctx context.Context) (*ActiveProvider, error) {
	configs, err := m.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}

	ordered := orderProviders(configs)
	if len(ordered) == 0 {
		return nil, domain.ErrNoActiveProvider
	}
	return m.build(ctx, ordered[0])
}

// orderProviders sorts active configurations by selection preference:
// defaults first, then priority descending, then slug.
func orderProviders(configs []domain.ProviderConfig) []domain.ProviderConfig {
	ordered := make([]domain.ProviderConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.IsActive {
			ordered = append(ordered, cfg)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Slug < b.Slug
	})
	return ordered
}

// Adapter returns the adapter for slug regardless of its active flag.
func (m *ProviderManager) Adapter(ctx context.Context, slug string) (*ActiveProvider, error) {
	cfg, err := m.registry.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return m.build(ctx, *cfg)
}

func (m *ProviderManager) build(ctx context.Context, cfg domain.ProviderConfig) (*ActiveProvider, error) {
	fp := fingerprint(cfg)

	m.mu.RLock()
	cached, ok := m.cache[cfg.Slug]
	m.mu.RUnlock()
	if ok && cached.fingerprint == fp {
		return &ActiveProvider{Config: cfg, Adapter: cached.adapter}, nil
	}

	creds, err := m.cipher.DecryptCredentials(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s: credentials unreadable: %v", domain.ErrProviderNotConfigured, cfg.Slug, err)
	}
	adapter, err := m.factory(ctx, cfg, creds)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: provider %s: %v", domain.ErrProviderNotConfigured, cfg.Slug, err)
	}

	m.mu.Lock()
	m.cache[cfg.Slug] = cachedAdapter{fingerprint: fp, adapter: adapter}
	m.mu.Unlock()

	m.logger.Info("sms provider adapter built",
		zap.String("provider", cfg.Slug),
		zap.String("adapterType", cfg.AdapterType.String()),
	)
	return &ActiveProvider{Config: cfg, Adapter: adapter}, nil
}

func fingerprint(cfg domain.ProviderConfig) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(cfg.Slug)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(cfg.AdapterType.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(cfg.Credentials)
	_, _ = d.WriteString("\x00")
	if settings, err := json.Marshal(cfg.Settings); err == nil {
		_, _ = d.Write(settings)
	} else {
		_, _ = fmt.Fprintf(d, "%+v", cfg.Settings)
	}
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(cfg.UpdatedAt.UnixNano(), 10))
	return d.Sum64()
}

func (m *ProviderManager) Invalidate(slug string) {
	m.mu.Lock()
	delete(m.cache, slug)
	m.mu.Unlock()
}

func (m *ProviderManager) InvalidateAll() {
	m.mu.Lock()
	m.cache = make(map[string]cachedAdapter)
	m.mu.Unlock()
}

// SendSMS delivers msg through the active provider. Failures are reported in
// the result; with failover enabled, retryable failures move on to the next
// active provider by priority.
func (m *ProviderManager) SendSMS(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	configs, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to list active providers", zap.Error(err))
		return domain.FailedSend(domain.CodeProviderError, "provider registry unavailable")
	}

	ordered := orderProviders(configs)
	if len(ordered) == 0 {
		return domain.FailedSend(domain.CodeNoActiveProvider, domain.ErrNoActiveProvider.Error())
	}
	if !m.failover {
		ordered = ordered[:1]
	}

	var result domain.SendResult
	for i, cfg := range ordered {
		active, err := m.build(ctx, cfg)
		if err != nil {
			m.logger.Error("failed to build sms provider", zap.String("provider", cfg.Slug), zap.Error(err))
			result = domain.FailedSend(domain.CodeProviderNotConfigured, err.Error())
			result.Provider = cfg.Slug
		} else {
			result = m.sendVia(ctx, active, msg)
		}

		if result.Success || !m.failover || i == len(ordered)-1 {
			break
		}
		if !result.ErrorCode.Retryable() && result.ErrorCode != domain.CodeProviderNotConfigured {
			break
		}
		m.logger.Warn("sms send failed, trying next provider",
			zap.String("provider", cfg.Slug),
			zap.String("next", ordered[i+1].Slug),
			zap.String("errorCode", result.ErrorCode.String()),
		)
	}
	return result
}

func (m *ProviderManager) sendVia(ctx context.Context, active *ActiveProvider, msg domain.OutboundMessage) (result domain.SendResult) {
	slug := active.Config.Slug
	logger := observability.WithContextLogger(m.logger, ctx).With(zap.String("provider", slug))

	if m.throughput != nil {
		if err := m.throughput.Wait(ctx, slug); err != nil {
			if ctx.Err() != nil {
				result = domain.FailedSend(domain.CodeTimeout, "send canceled while waiting for provider capacity")
				result.Provider = slug
				return result
			}
			logger.Warn("provider throughput limiter failed, sending anyway", zap.Error(err))
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	start := m.now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sms adapter panicked", zap.Any("panic", r))
			result = domain.FailedSend(domain.CodeProviderError, "provider adapter failure")
		}
		result.Provider = slug
		m.record(slug, msg.Category, result, m.now().Sub(start))
	}()

	result = active.Adapter.Send(sendCtx, msg)
	if !result.Success {
		if result.ErrorCode == "" {
			result.ErrorCode = domain.CodeProviderError
		}
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			result.ErrorCode = domain.CodeTimeout
		}
		logger.Warn("sms send failed",
			observability.Phone("to", msg.To),
			zap.String("errorCode", result.ErrorCode.String()),
			zap.String("error", result.ErrorMessage),
		)
		return result
	}

	logger.Info("sms sent",
		observability.Phone("to", msg.To),
		zap.String("messageId", result.MessageID),
		zap.Int("parts", result.Parts),
	)
	return result
}

func (m *ProviderManager) record(slug string, category domain.Category, result domain.SendResult, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveSMSSendDuration(slug, elapsed)
	if result.Success {
		m.metrics.IncSMSSent(slug, category.String())
		m.metrics.AddSMSCost(slug, result.Currency, result.Cost)
		return
	}
	m.metrics.IncSMSFailed(slug, result.ErrorCode.String())
}

// GetSMSStatus polls the active provider.
func (m *ProviderManager) GetSMSStatus(ctx context.Context, messageID string) domain.DeliveryStatus {
	active, err := m.GetActiveProvider(ctx)
	if err != nil {
		m.logger.Warn("status lookup without provider", zap.String("messageId", messageID), zap.Error(err))
		return domain.UnknownDelivery(messageID)
	}
	return m.pollStatus(ctx, active, messageID)
}

// GetStatusFrom polls the provider that accepted the message.
func (m *ProviderManager) GetStatusFrom(ctx context.Context, slug, messageID string) domain.DeliveryStatus {
	active, err := m.Adapter(ctx, slug)
	if err != nil {
		m.logger.Warn("status lookup for unavailable provider",
			zap.String("provider", slug),
			zap.String("messageId", messageID),
			zap.Error(err),
		)
		return domain.UnknownDelivery(messageID)
	}
	return m.pollStatus(ctx, active, messageID)
}

func (m *ProviderManager) pollStatus(ctx context.Context, active *ActiveProvider, messageID string) (status domain.DeliveryStatus) {
	statusCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sms adapter panicked during status lookup",
				zap.String("provider", active.Config.Slug),
				zap.Any("panic", r),
			)
			status = domain.UnknownDelivery(messageID)
		}
	}()
	return active.Adapter.GetStatus(statusCtx, messageID)
}

// GetBalance reports the balance of slug, or of the active provider when slug is empty.
func (m *ProviderManager) GetBalance(ctx context.Context, slug string) (domain.ProviderBalance, error) {
	active, err := m.resolve(ctx, slug)
	if err != nil {
		return domain.ProviderBalance{}, err
	}

	balanceCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	balance := active.Adapter.GetBalance(balanceCtx)
	if !balance.Degraded && m.metrics != nil {
		m.metrics.SetProviderBalance(active.Config.Slug, balance.Currency, balance.Balance)
	}
	if balance.IsLow {
		m.logger.Warn("sms provider balance low",
			zap.String("provider", active.Config.Slug),
			zap.Float64("balance", balance.Balance),
			zap.Bool("degraded", balance.Degraded),
		)
	}
	return balance, nil
}

// HandleWebhook parses a vendor callback with the adapter named by slug.
// A nil status means the payload is not a delivery report.
func (m *ProviderManager) HandleWebhook(ctx context.Context, slug string, payload map[string]string) (*domain.DeliveryStatus, error) {
	active, err := m.Adapter(ctx, slug)
	if err != nil {
		return nil, err
	}
	return active.Adapter.HandleWebhook(payload), nil
}

// TestProvider builds the adapter for slug and runs its health check.
func (m *ProviderManager) TestProvider(ctx context.Context, slug string) (bool, string, error) {
	active, err := m.Adapter(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotConfigured) {
			return false, err.Error(), nil
		}
		return false, "", err
	}

	healthCtx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	ok, message := active.Adapter.HealthCheck(healthCtx)
	m.logger.Info("sms provider health checked",
		zap.String("provider", slug),
		zap.Bool("healthy", ok),
		zap.String("message", message),
	)
	return ok, message, nil
}

// FormatPhone normalizes phone with the rules of the active provider.
func (m *ProviderManager) FormatPhone(ctx context.Context, phone string) (string, error) {
	active, err := m.GetActiveProvider(ctx)
	if err != nil {
		return "", err
	}
	return active.Adapter.FormatPhoneNumber(phone)
}

// Estimate prices msg on the active provider without sending it.
func (m *ProviderManager) Estimate(ctx context.Context, msg domain.OutboundMessage) (PriceEstimate, error) {
	active, err := m.GetActiveProvider(ctx)
	if err != nil {
		return PriceEstimate{}, err
	}
	if msg.Category == "" {
		msg.Category = domain.CategoryTransactional
	}

	estimate := provider.NewCostCalculator(active.Config.Settings).Estimate(msg)
	estimate.Cost = active.Adapter.CalculateCost(msg)
	return PriceEstimate{
		Provider: active.Config.Slug,
		Currency: provider.CurrencyFor(active.Config),
		Estimate: estimate,
	}, nil
}

func (m *ProviderManager) resolve(ctx context.Context, slug string) (*ActiveProvider, error) {
	if slug == "" {
		return m.GetActiveProvider(ctx)
	}
	return m.Adapter(ctx, slug)
}

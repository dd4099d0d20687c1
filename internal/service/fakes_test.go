package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
)

type fakeRegistry struct {
	mu      sync.Mutex
	configs []domain.ProviderConfig
	listErr error
}

func (f *fakeRegistry) ListActive(ctx context.Context) ([]domain.ProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ProviderConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		if cfg.IsActive {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeRegistry) GetBySlug(ctx context.Context, slug string) (*domain.ProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.configs {
		if cfg.Slug == slug {
			c := cfg
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRegistry) set(configs ...domain.ProviderConfig) {
	f.mu.Lock()
	f.configs = configs
	f.mu.Unlock()
}

// fakeCipher stores credentials as "k=v;k=v" and rejects the token "broken".
type fakeCipher struct{}

func (fakeCipher) EncryptCredentials(creds domain.Credentials) (string, error) {
	parts := make([]string, 0, len(creds))
	for k, v := range creds {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";"), nil
}

func (fakeCipher) DecryptCredentials(token string) (domain.Credentials, error) {
	if token == "broken" {
		return nil, errors.New("invalid ciphertext")
	}
	creds := domain.Credentials{}
	if token == "" {
		return creds, nil
	}
	for _, part := range strings.Split(token, ";") {
		k, v, _ := strings.Cut(part, "=")
		creds[k] = v
	}
	return creds, nil
}

type fakeAdapter struct {
	name      string
	sendFn    func(ctx context.Context, msg domain.OutboundMessage) domain.SendResult
	statusFn  func(ctx context.Context, id string) domain.DeliveryStatus
	balance   domain.ProviderBalance
	webhookFn func(payload map[string]string) *domain.DeliveryStatus

	mu    sync.Mutex
	sends []domain.OutboundMessage
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Send(ctx context.Context, msg domain.OutboundMessage) domain.SendResult {
	f.mu.Lock()
	f.sends = append(f.sends, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return domain.SendResult{
		Success:   true,
		MessageID: f.name + "-1",
		Status:    domain.SendStatusSent,
		Cost:      0.05,
		Currency:  "RON",
		Parts:     1,
	}
}

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAdapter) GetStatus(ctx context.Context, id string) domain.DeliveryStatus {
	if f.statusFn != nil {
		return f.statusFn(ctx, id)
	}
	return domain.UnknownDelivery(id)
}

func (f *fakeAdapter) GetBalance(ctx context.Context) domain.ProviderBalance { return f.balance }

func (f *fakeAdapter) CalculateCost(msg domain.OutboundMessage) float64 {
	return provider.CostCalculator{PerPart: 0.05, MarketingMultiplier: 1, Precision: 2}.Calculate(msg)
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return !f.balance.IsLow, "fake"
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) SupportedFeatures() []provider.Feature {
	return []provider.Feature{provider.FeatureSend}
}

func (f *fakeAdapter) FormatPhoneNumber(phone string) (string, error) {
	normalized := domain.StripPhoneFormatting(phone)
	if !domain.IsE164(normalized) {
		return "", domain.ErrInvalidPhone
	}
	return normalized, nil
}

func (f *fakeAdapter) ValidatePhoneNumber(phone string) bool {
	_, err := f.FormatPhoneNumber(phone)
	return err == nil
}

func (f *fakeAdapter) HandleWebhook(payload map[string]string) *domain.DeliveryStatus {
	if f.webhookFn != nil {
		return f.webhookFn(payload)
	}
	return nil
}

// adapterSet is an AdapterFactory serving prebuilt adapters by slug and
// counting builds.
type adapterSet struct {
	mu       sync.Mutex
	adapters map[string]provider.Adapter
	builds   map[string]int
	creds    map[string]domain.Credentials
}

func newAdapterSet(adapters map[string]provider.Adapter) *adapterSet {
	return &adapterSet{
		adapters: adapters,
		builds:   make(map[string]int),
		creds:    make(map[string]domain.Credentials),
	}
}

func (s *adapterSet) factory(ctx context.Context, cfg domain.ProviderConfig, creds domain.Credentials) (provider.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[cfg.Slug]++
	s.creds[cfg.Slug] = creds
	adapter, ok := s.adapters[cfg.Slug]
	if !ok {
		return nil, errors.New("no adapter for " + cfg.Slug)
	}
	return adapter, nil
}

func (s *adapterSet) buildCount(slug string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds[slug]
}

// memorySMSLogRepo is an in-memory repository.SMSLogRepository with the
// same terminal guard as the SQL implementation.
type memorySMSLogRepo struct {
	mu        sync.Mutex
	rows      map[string]domain.DeliveryLogRecord
	createErr error
	applyErr  error
	applied   []repository.StatusUpdate
}

func newMemorySMSLogRepo() *memorySMSLogRepo {
	return &memorySMSLogRepo{rows: make(map[string]domain.DeliveryLogRecord)}
}

func (r *memorySMSLogRepo) Create(ctx context.Context, rec *domain.DeliveryLogRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return false, r.createErr
	}
	if _, ok := r.rows[rec.ID]; ok {
		return false, nil
	}
	r.rows[rec.ID] = *rec
	return true, nil
}

func (r *memorySMSLogRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryLogRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memorySMSLogRepo) GetByProviderMessageID(ctx context.Context, provider, messageID string) (*domain.DeliveryLogRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.rows {
		if rec.Provider == provider && rec.ProviderMessageID == messageID {
			out := rec
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memorySMSLogRepo) ApplyStatus(ctx context.Context, id string, update repository.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return r.applyErr
	}
	rec, ok := r.rows[id]
	if !ok {
		return domain.ErrConflict
	}
	if rec.Status.IsTerminal() && !update.Status.IsTerminal() {
		return domain.ErrConflict
	}
	if update.Status.IsTerminal() && rec.Status == update.Status {
		return domain.ErrConflict
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
	r.rows[id] = rec
	r.applied = append(r.applied, update)
	return nil
}

func (r *memorySMSLogRepo) Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		provider string
		status   domain.DeliveryState
	}
	groups := make(map[key]*domain.DeliveryStats)
	for _, rec := range r.rows {
		if filter.Provider != "" && rec.Provider != filter.Provider {
			continue
		}
		k := key{rec.Provider, rec.Status}
		g, ok := groups[k]
		if !ok {
			g = &domain.DeliveryStats{Provider: rec.Provider, Status: rec.Status}
			groups[k] = g
		}
		g.Count++
		g.TotalCost += rec.Cost
	}
	out := make([]domain.DeliveryStats, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (r *memorySMSLogRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, rec := range r.rows {
		if int(deleted) >= limit {
			break
		}
		if rec.ExpiresAt.Before(before) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memorySMSLogRepo) get(id string) domain.DeliveryLogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

// memoryProviderRepo is an in-memory repository.ProviderRepository.
type memoryProviderRepo struct {
	mu   sync.Mutex
	rows map[string]domain.ProviderConfig
}

func newMemoryProviderRepo(configs ...domain.ProviderConfig) *memoryProviderRepo {
	r := &memoryProviderRepo{rows: make(map[string]domain.ProviderConfig)}
	for _, cfg := range configs {
		r.rows[cfg.Slug] = cfg
	}
	return r
}

func (r *memoryProviderRepo) Create(ctx context.Context, p *domain.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.Slug]; ok {
		return domain.ErrConflict
	}
	if p.IsDefault {
		r.clearDefaults()
	}
	p.ID = "id-" + p.Slug
	r.rows[p.Slug] = *p
	return nil
}

func (r *memoryProviderRepo) Update(ctx context.Context, p *domain.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.Slug]; !ok {
		return domain.ErrNotFound
	}
	if p.IsDefault {
		r.clearDefaults()
	}
	r.rows[p.Slug] = *p
	return nil
}

func (r *memoryProviderRepo) GetBySlug(ctx context.Context, slug string) (*domain.ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.rows[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cfg, nil
}

func (r *memoryProviderRepo) List(ctx context.Context) ([]domain.ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProviderConfig, 0, len(r.rows))
	for _, cfg := range r.rows {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r *memoryProviderRepo) ListActive(ctx context.Context) ([]domain.ProviderConfig, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, cfg := range all {
		if cfg.IsActive {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *memoryProviderRepo) SetActive(ctx context.Context, slug string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.rows[slug]
	if !ok {
		return domain.ErrNotFound
	}
	cfg.IsActive = active
	if !active {
		cfg.IsDefault = false
	}
	r.rows[slug] = cfg
	return nil
}

func (r *memoryProviderRepo) SetDefault(ctx context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.rows[slug]
	if !ok {
		return domain.ErrNotFound
	}
	r.clearDefaults()
	cfg.IsDefault = true
	cfg.IsActive = true
	r.rows[slug] = cfg
	return nil
}

func (r *memoryProviderRepo) Upsert(ctx context.Context, p *domain.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[p.Slug]; ok && p.Credentials == "" {
		p.Credentials = existing.Credentials
	}
	if p.IsDefault {
		r.clearDefaults()
	}
	r.rows[p.Slug] = *p
	return nil
}

func (r *memoryProviderRepo) clearDefaults() {
	for slug, cfg := range r.rows {
		cfg.IsDefault = false
		r.rows[slug] = cfg
	}
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
	all         int
}

func (f *fakeCache) Invalidate(slug string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, slug)
	f.mu.Unlock()
}

func (f *fakeCache) InvalidateAll() {
	f.mu.Lock()
	f.all++
	f.mu.Unlock()
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func activeConfig(slug string, priority int, isDefault bool) domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:          "id-" + slug,
		Slug:        slug,
		Name:        slug,
		AdapterType: domain.AdapterMock,
		IsActive:    true,
		IsDefault:   isDefault,
		Priority:    priority,
		Credentials: "api_key=" + slug,
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

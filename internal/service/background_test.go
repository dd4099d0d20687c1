package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePurger struct {
	calls   atomic.Int32
	batch   atomic.Int32
	purgeFn func(ctx context.Context, batchSize int) (int64, error)
}

func (f *fakePurger) Purge(ctx context.Context, batchSize int) (int64, error) {
	f.calls.Add(1)
	f.batch.Store(int32(batchSize))
	if f.purgeFn != nil {
		return f.purgeFn(ctx, batchSize)
	}
	return 0, nil
}

type fakeBalanceChecker struct {
	balances map[string]domain.ProviderBalance
	errs     map[string]error
}

func (f *fakeBalanceChecker) GetBalance(ctx context.Context, slug string) (domain.ProviderBalance, error) {
	if err := f.errs[slug]; err != nil {
		return domain.ProviderBalance{}, err
	}
	return f.balances[slug], nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRetentionSweeperDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewRetentionSweeper(nil, time.Minute, 10, nil); err == nil {
		t.Fatal("expected error for nil purger")
	}

	s, err := NewRetentionSweeper(&fakePurger{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}
	if s.interval != time.Hour || s.batchSize != defaultPurgeBatchSize {
		t.Fatalf("interval = %s batch = %d", s.interval, s.batchSize)
	}
}

func TestRetentionSweeperSweepsAtStartupAndOnTick(t *testing.T) {
	t.Parallel()

	purger := &fakePurger{}
	s, err := NewRetentionSweeper(purger, 20*time.Millisecond, 250, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitFor(t, func() bool { return purger.calls.Load() >= 2 })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := purger.batch.Load(); got != 250 {
		t.Fatalf("batch size = %d, want 250", got)
	}
}

func TestRetentionSweeperLogsFailuresAndKeepsRunning(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	purger := &fakePurger{purgeFn: func(context.Context, int) (int64, error) {
		return 0, errors.New("statement timeout")
	}}
	s, err := NewRetentionSweeper(purger, 10*time.Millisecond, 10, zap.New(core))
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitFor(t, func() bool { return purger.calls.Load() >= 3 })
	cancel()
	<-done

	if logs.FilterMessage("retention sweeper initial sweep failed").Len() != 1 {
		t.Fatal("expected initial sweep failure to be logged")
	}
	if logs.FilterMessage("retention sweeper sweep failed").Len() == 0 {
		t.Fatal("expected periodic sweep failure to be logged")
	}
}

func TestBalanceMonitorReportsLowBalanceProviders(t *testing.T) {
	t.Parallel()

	inactive := activeConfig("sns", 1, false)
	inactive.IsActive = false
	registry := &fakeRegistry{configs: []domain.ProviderConfig{
		activeConfig("smso", 10, true),
		activeConfig("twilio", 5, false),
		activeConfig("mock", 1, false),
		inactive,
	}}
	checker := &fakeBalanceChecker{
		balances: map[string]domain.ProviderBalance{
			"smso":   domain.NewProviderBalance(3, "RON", domain.BalanceUnitMoney, 10),
			"twilio": domain.NewProviderBalance(50, "USD", domain.BalanceUnitMoney, 10),
			"sns":    domain.NewProviderBalance(0, "USD", domain.BalanceUnitMoney, 10),
		},
		errs: map[string]error{"mock": errors.New("boom")},
	}

	core, logs := observer.New(zapcore.ErrorLevel)
	m, err := NewBalanceMonitor(registry, checker, 0, zap.New(core))
	if err != nil {
		t.Fatalf("NewBalanceMonitor() error = %v", err)
	}
	if m.interval != defaultBalanceCheckInterval {
		t.Fatalf("interval = %s, want default", m.interval)
	}

	low, err := m.lowBalanceProviders(context.Background())
	if err != nil {
		t.Fatalf("lowBalanceProviders() error = %v", err)
	}
	if len(low) != 1 || low[0] != "smso" {
		t.Fatalf("low = %v, want [smso]", low)
	}
	if logs.FilterMessage("failed to read provider balance").Len() != 1 {
		t.Fatal("expected balance read failure to be logged")
	}
}

func TestBalanceMonitorRegistryFailure(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{listErr: errors.New("db down")}
	m, err := NewBalanceMonitor(registry, &fakeBalanceChecker{}, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewBalanceMonitor() error = %v", err)
	}
	if err := m.check(context.Background()); err == nil {
		t.Fatal("expected registry error")
	}

	if _, err := NewBalanceMonitor(nil, &fakeBalanceChecker{}, time.Minute, nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
	if _, err := NewBalanceMonitor(registry, nil, time.Minute, nil); err == nil {
		t.Fatal("expected error for nil balance checker")
	}
}

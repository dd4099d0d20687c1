package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func TestWindowLimiterPhoneDaily(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter, err := newWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newWindowLimiter() error = %v", err)
	}
	rule := ratelimit.DefaultRules().PhoneDaily
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, rule, "+40722123456")
		if err != nil || !d.Allowed {
			t.Fatalf("Allow() #%d = %+v, %v", i+1, d, err)
		}
		now = now.Add(time.Minute)
	}

	d, err := limiter.CheckLimit(ctx, rule, "+40722123456")
	if err != nil {
		t.Fatalf("CheckLimit() error = %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("4th check = %+v, want denied", d)
	}
	wantReset := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Fatalf("ResetAt = %s, want %s", d.ResetAt, wantReset)
	}

	now = wantReset.Add(time.Millisecond)
	d, err = limiter.CheckLimit(ctx, rule, "+40722123456")
	if err != nil || !d.Allowed || d.Remaining != 1 {
		t.Fatalf("CheckLimit() after window = %+v, %v", d, err)
	}
}

func TestWindowLimiterCheckAndRecordSeparately(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, _ := NewWindowLimiter(rdb)
	rule := ratelimit.Rule{Name: ratelimit.RuleIPHourly, Limit: 1, Window: time.Hour}
	ctx := context.Background()

	if d, _ := limiter.CheckLimit(ctx, rule, "10.0.0.1"); !d.Allowed {
		t.Fatalf("CheckLimit() should allow fresh identifier")
	}
	if d, _ := limiter.CheckLimit(ctx, rule, "10.0.0.1"); !d.Allowed {
		t.Fatalf("CheckLimit() must not consume quota")
	}
	if err := limiter.RecordUsage(ctx, rule, "10.0.0.1"); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	if d, _ := limiter.CheckLimit(ctx, rule, "10.0.0.1"); d.Allowed {
		t.Fatalf("CheckLimit() after RecordUsage should deny")
	}

	if err := limiter.Release(ctx, rule, "10.0.0.1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if d, _ := limiter.CheckLimit(ctx, rule, "10.0.0.1"); !d.Allowed {
		t.Fatalf("CheckLimit() after Release should allow")
	}
}

func TestWindowLimiterCumulative(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)
	limiter, _ := NewWindowLimiter(rdb)
	rule := ratelimit.Rule{Name: ratelimit.RuleAddressCount, Limit: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, err := limiter.Allow(ctx, rule, "customer-7"); err != nil || !d.Allowed {
			t.Fatalf("Allow() #%d = %+v, %v", i+1, d, err)
		}
	}
	if d, _ := limiter.Allow(ctx, rule, "customer-7"); d.Allowed {
		t.Fatalf("Allow() over cap should deny")
	}

	key := ratelimit.Key(rule, "customer-7")
	if ttl := mr.TTL(key); ttl != 0 {
		t.Fatalf("cumulative counter TTL = %s, want none", ttl)
	}

	if err := limiter.Release(ctx, rule, "customer-7"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if d, _ := limiter.CheckLimit(ctx, rule, "customer-7"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("CheckLimit() after Release = %+v", d)
	}

	if err := limiter.Reset(ctx, rule, "customer-7"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("Reset() should delete the counter")
	}
	if err := limiter.Release(ctx, rule, "customer-7"); err != nil {
		t.Fatalf("Release() on empty counter error = %v", err)
	}
}

func TestWindowLimiterAllowIsAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, _ := NewWindowLimiter(rdb)
	rule := ratelimit.Rule{Name: ratelimit.RulePhoneDaily, Limit: 3, Window: 24 * time.Hour}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(context.Background(), rule, "+40722123456")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 3 {
		t.Fatalf("allowed = %d, want exactly 3", allowed.Load())
	}
}

func TestWindowLimiterBackendDown(t *testing.T) {
	t.Parallel()

	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter, _ := NewWindowLimiter(rdb)
	if _, err := limiter.Allow(context.Background(), ratelimit.DefaultRules().PhoneDaily, "+40722123456"); err == nil {
		t.Fatalf("Allow() against unreachable redis should fail")
	}

	failover, _ := ratelimit.NewFailoverLimiter(limiter, ratelimit.NewMemoryLimiter(), nil)
	d, err := failover.Allow(context.Background(), ratelimit.DefaultRules().PhoneDaily, "+40722123456")
	if err != nil || !d.Allowed || d.Err == nil {
		t.Fatalf("failover Allow() = %+v, %v; want allowed via fallback", d, err)
	}
}

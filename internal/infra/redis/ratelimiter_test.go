package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestThroughputLimiter(t *testing.T, sendsPerSec int) (*ThroughputLimiter, *miniredis.Miniredis) {
	t.Helper()

	rdb, mr := newTestRedisClient(t)
	limiter, err := NewThroughputLimiter(rdb, sendsPerSec)
	if err != nil {
		t.Fatalf("NewThroughputLimiter() error = %v", err)
	}
	return limiter, mr
}

func TestNewThroughputLimiterDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewThroughputLimiter(nil, 5); err == nil {
		t.Fatal("expected error for nil client")
	}

	limiter, _ := newTestThroughputLimiter(t, 0)
	if limiter.perSec != defaultSendsPerSec {
		t.Fatalf("perSec = %d, want %d", limiter.perSec, defaultSendsPerSec)
	}

	key, err := limiter.SendKey(" SMSO ")
	if err != nil || key != "sms:send-rate:{smso}" {
		t.Fatalf("SendKey() = %q, %v", key, err)
	}
	if _, err := limiter.SendKey(" "); err == nil {
		t.Fatal("expected error for empty provider")
	}
}

func TestThroughputLimiterAllowWindow(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestThroughputLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "smso")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "smso")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third send in the window should be held back")
	}

	if ttl := mr.TTL("sms:send-rate:{smso}"); ttl <= 0 || ttl > sendWindow {
		t.Fatalf("window ttl = %s, want within %s", ttl, sendWindow)
	}

	mr.FastForward(sendWindow)
	if allowed, err := limiter.Allow(ctx, "smso"); err != nil || !allowed {
		t.Fatalf("Allow() after window reset = %v, %v, want allowed", allowed, err)
	}
}

func TestThroughputLimiterIsPerProvider(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestThroughputLimiter(t, 1)
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "smso"); !allowed {
		t.Fatal("smso should be allowed on first send")
	}
	if allowed, _ := limiter.Allow(ctx, "Twilio"); !allowed {
		t.Fatal("twilio should be allowed on first send")
	}
	if allowed, _ := limiter.Allow(ctx, "SMSO "); allowed {
		t.Fatal("second smso send should be held back")
	}
	if _, err := limiter.Allow(ctx, " "); err == nil {
		t.Fatal("empty provider should fail")
	}
}

func TestThroughputLimiterWaitSleepsUntilWindowReset(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestThroughputLimiter(t, 1)

	var pauses []time.Duration
	limiter.pause = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		mr.FastForward(d)
		return nil
	}

	if allowed, _ := limiter.Allow(context.Background(), "mock"); !allowed {
		t.Fatal("expected first send to be allowed")
	}
	if err := limiter.Wait(context.Background(), "mock"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(pauses) != 1 {
		t.Fatalf("pauses = %v, want exactly one", pauses)
	}
	if pauses[0] < minSendPause || pauses[0] > sendWindow {
		t.Fatalf("pause = %s, want between %s and %s", pauses[0], minSendPause, sendWindow)
	}
}

func TestThroughputLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestThroughputLimiter(t, 1)

	if allowed, _ := limiter.Allow(context.Background(), "smso"); !allowed {
		t.Fatal("expected first send to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "smso")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestThroughputLimiterRedisDown(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestThroughputLimiter(t, 1)
	mr.Close()

	if _, err := limiter.Allow(context.Background(), "smso"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
	if err := limiter.Wait(context.Background(), "smso"); err == nil {
		t.Fatal("expected Wait() to surface the redis error")
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}

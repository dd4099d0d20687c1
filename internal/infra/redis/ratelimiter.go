package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec = 20
	sendWindow         = time.Second
	// Floor for the pause between reservations when the window is full.
	minSendPause = 5 * time.Millisecond
)

// sendSlotScript reserves one send in the provider's current window. The
// window opens on the first send and lasts ARGV[2] milliseconds. It returns 0
// when the send may go out, otherwise the milliseconds until the window resets.
var sendSlotScript = goredis.NewScript(`
local sent = redis.call("INCR", KEYS[1])
if sent == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if sent <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.Throughput = (*ThroughputLimiter)(nil)

// ThroughputLimiter caps outbound sends per provider across every API
// instance sharing the Redis, so a provider's own request rate is not exceeded.
type ThroughputLimiter struct {
	client  *goredis.Client
	perSec  int
	pause   func(ctx context.Context, d time.Duration) error
	keyBase string
}

func NewThroughputLimiter(client *goredis.Client, sendsPerSec int) (*ThroughputLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}

	return &ThroughputLimiter{
		client:  client,
		perSec:  sendsPerSec,
		pause:   pauseWithContext,
		keyBase: "sms:send-rate",
	}, nil
}

// SendKey is the Redis key holding the current send window of a provider.
func (l *ThroughputLimiter) SendKey(provider string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(provider))
	if slug == "" {
		return "", fmt.Errorf("provider slug is required")
	}
	return l.keyBase + ":{" + slug + "}", nil
}

// reserve takes a send slot for provider. When the window is full it returns
// how long until the window resets.
func (l *ThroughputLimiter) reserve(ctx context.Context, provider string) (time.Duration, error) {
	if l == nil || l.client == nil {
		return 0, fmt.Errorf("throughput limiter is not initialized")
	}
	key, err := l.SendKey(provider)
	if err != nil {
		return 0, err
	}

	ms, err := sendSlotScript.Run(ctx, l.client, []string{key}, l.perSec, sendWindow.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve send slot for %s: %w", provider, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Allow reports whether a send to provider may go out now, taking the slot if so.
func (l *ThroughputLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	retryIn, err := l.reserve(ctx, provider)
	if err != nil {
		return false, err
	}
	return retryIn == 0, nil
}

// Wait blocks until a send slot for provider is free or ctx is done. It
// sleeps until the provider's window resets rather than polling.
func (l *ThroughputLimiter) Wait(ctx context.Context, provider string) error {
	for {
		retryIn, err := l.reserve(ctx, provider)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}

		if retryIn < minSendPause {
			retryIn = minSendPause
		}
		if retryIn > sendWindow {
			retryIn = sendWindow
		}
		if err := l.pause(ctx, retryIn); err != nil {
			return err
		}
	}
}

func pauseWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

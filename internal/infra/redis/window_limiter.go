package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// KEYS[1] sorted set of event timestamps (ms).
// ARGV: now_ms, window_ms, limit, member, record flag.
// Returns {allowed, count, oldest_ms or -1}.
var windowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  allowed = 1
  if ARGV[5] == "1" then
    redis.call("ZADD", KEYS[1], now, ARGV[4])
    redis.call("PEXPIRE", KEYS[1], window)
    count = count + 1
  end
end
local oldest = -1
local first = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// KEYS[1] counter. ARGV: limit, record flag. Returns {allowed, count}.
var counterScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current}
end
if ARGV[2] == "1" then
  current = redis.call("INCR", KEYS[1])
end
return {1, current}
`)

var releaseCounterScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

var _ ratelimit.Limiter = (*WindowLimiter)(nil)

// WindowLimiter implements sliding-window and cumulative quotas in Redis.
// Every check-and-record runs as a single Lua script.
type WindowLimiter struct {
	client *goredis.Client
	now    func() time.Time
	member func() string
}

func NewWindowLimiter(client *goredis.Client) (*WindowLimiter, error) {
	return newWindowLimiter(client, time.Now)
}

func newWindowLimiter(client *goredis.Client, nowFn func() time.Time) (*WindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &WindowLimiter{client: client, now: nowFn, member: uuid.NewString}, nil
}

func (w *WindowLimiter) CheckLimit(ctx context.Context, rule ratelimit.Rule, identifier string) (ratelimit.Decision, error) {
	return w.evaluate(ctx, rule, identifier, false)
}

func (w *WindowLimiter) Allow(ctx context.Context, rule ratelimit.Rule, identifier string) (ratelimit.Decision, error) {
	return w.evaluate(ctx, rule, identifier, true)
}

func (w *WindowLimiter) RecordUsage(ctx context.Context, rule ratelimit.Rule, identifier string) error {
	id, err := ratelimit.NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}
	key := ratelimit.Key(rule, id)

	if rule.Cumulative() {
		if err := w.client.Incr(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
		return nil
	}

	now := w.now().UnixMilli()
	_, err = w.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now-rule.Window.Milliseconds()))
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now), Member: w.member()})
		pipe.PExpire(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (w *WindowLimiter) Release(ctx context.Context, rule ratelimit.Rule, identifier string) error {
	id, err := ratelimit.NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}
	key := ratelimit.Key(rule, id)

	if rule.Cumulative() {
		err = releaseCounterScript.Run(ctx, w.client, []string{key}).Err()
	} else {
		err = w.client.ZRemRangeByRank(ctx, key, -1, -1).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

func (w *WindowLimiter) Reset(ctx context.Context, rule ratelimit.Rule, identifier string) error {
	id, err := ratelimit.NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}
	if err := w.client.Del(ctx, ratelimit.Key(rule, id)).Err(); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

func (w *WindowLimiter) evaluate(ctx context.Context, rule ratelimit.Rule, identifier string, record bool) (ratelimit.Decision, error) {
	if err := rule.Validate(); err != nil {
		return ratelimit.Decision{}, err
	}
	id, err := ratelimit.NormalizeIdentifier(identifier)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	key := ratelimit.Key(rule, id)

	flag := "0"
	if record {
		flag = "1"
	}

	if rule.Cumulative() {
		vals, err := counterScript.Run(ctx, w.client, []string{key}, rule.Limit, flag).Int64Slice()
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("failed to evaluate rate limit: %w", err)
		}
		return ratelimit.Decision{
			Allowed:   vals[0] == 1,
			Limit:     rule.Limit,
			Remaining: remaining(rule.Limit, vals[1]),
		}, nil
	}

	now := w.now()
	vals, err := windowScript.Run(ctx, w.client, []string{key},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.Limit, w.member(), flag,
	).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	resetAt := now.Add(rule.Window)
	if vals[2] >= 0 {
		resetAt = time.UnixMilli(vals[2]).Add(rule.Window).In(now.Location())
	}
	return ratelimit.Decision{
		Allowed:   vals[0] == 1,
		Limit:     rule.Limit,
		Remaining: remaining(rule.Limit, vals[1]),
		ResetAt:   resetAt,
	}, nil
}

func remaining(limit int, count int64) int {
	if r := int64(limit) - count; r > 0 {
		return int(r)
	}
	return 0
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ Throughput = (*LocalThroughput)(nil)

// LocalThroughput is a per-process token bucket per key.
type LocalThroughput struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func NewLocalThroughput(perSec int) *LocalThroughput {
	if perSec <= 0 {
		perSec = 1
	}
	return &LocalThroughput{
		perSec:   rate.Limit(perSec),
		burst:    perSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalThroughput) limiter(key string) (*rate.Limiter, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return nil, fmt.Errorf("throughput key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[k]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[k] = lim
	}
	return lim, nil
}

func (l *LocalThroughput) Allow(_ context.Context, key string) (bool, error) {
	lim, err := l.limiter(key)
	if err != nil {
		return false, err
	}
	return lim.Allow(), nil
}

func (l *LocalThroughput) Wait(ctx context.Context, key string) error {
	lim, err := l.limiter(key)
	if err != nil {
		return err
	}
	return lim.Wait(ctx)
}

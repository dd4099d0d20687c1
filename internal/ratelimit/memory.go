package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultJanitorInterval = time.Minute

type memoryEntry struct {
	events []time.Time
	count  int
	window time.Duration
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter keeps counters in process memory. State is lost on restart.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return newMemoryLimiter(time.Now)
}

func newMemoryLimiter(nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{entries: make(map[string]*memoryEntry), now: nowFn}
}

// Start prunes expired windowed entries until ctx is canceled.
func (m *MemoryLimiter) Start(ctx context.Context) error {
	ticker := time.NewTicker(defaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Prune()
		}
	}
}

// Prune drops windowed entries with no events left inside their window and
// cumulative entries whose count is zero.
func (m *MemoryLimiter) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.window > 0 {
			e.events = pruneEvents(e.events, now.Add(-e.window))
		}
		if e.empty() {
			delete(m.entries, key)
		}
	}
}

func (m *MemoryLimiter) CheckLimit(_ context.Context, rule Rule, identifier string) (Decision, error) {
	return m.evaluate(rule, identifier, false)
}

func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, identifier string) (Decision, error) {
	return m.evaluate(rule, identifier, true)
}

func (m *MemoryLimiter) RecordUsage(_ context.Context, rule Rule, identifier string) error {
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entry(rule, id, now)
	if rule.Cumulative() {
		e.count++
	} else {
		e.events = append(e.events, now)
	}
	return nil
}

func (m *MemoryLimiter) Release(_ context.Context, rule Rule, identifier string) error {
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[Key(rule, id)]
	if !ok {
		return nil
	}
	if rule.Cumulative() {
		if e.count > 0 {
			e.count--
		}
		return nil
	}
	if n := len(e.events); n > 0 {
		e.events = e.events[:n-1]
	}
	return nil
}

func (m *MemoryLimiter) Reset(_ context.Context, rule Rule, identifier string) error {
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key(rule, id))
	return nil
}

func (m *MemoryLimiter) evaluate(rule Rule, identifier string, record bool) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entry(rule, id, now)
	if !record {
		defer m.dropIfEmpty(Key(rule, id), e)
	}

	if rule.Cumulative() {
		if e.count >= rule.Limit {
			return Decision{Allowed: false, Limit: rule.Limit, Remaining: 0}, nil
		}
		if record {
			e.count++
		}
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - e.count}, nil
	}

	if len(e.events) >= rule.Limit {
		return Decision{
			Allowed:   false,
			Limit:     rule.Limit,
			Remaining: 0,
			ResetAt:   e.events[0].Add(rule.Window),
		}, nil
	}
	if record {
		e.events = append(e.events, now)
	}

	resetAt := now.Add(rule.Window)
	if len(e.events) > 0 {
		resetAt = e.events[0].Add(rule.Window)
	}
	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - len(e.events),
		ResetAt:   resetAt,
	}, nil
}

// entry returns the pruned entry for key, creating it when absent. Caller holds mu.
func (m *MemoryLimiter) entry(rule Rule, id string, now time.Time) *memoryEntry {
	key := Key(rule, id)
	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{window: rule.Window}
		m.entries[key] = e
	}
	if !rule.Cumulative() {
		e.events = pruneEvents(e.events, now.Add(-rule.Window))
	}
	return e
}

func (e *memoryEntry) empty() bool {
	return e.count == 0 && len(e.events) == 0
}

// dropIfEmpty removes an entry a check-only call left without usage. Caller holds mu.
func (m *MemoryLimiter) dropIfEmpty(key string, e *memoryEntry) {
	if e.empty() {
		delete(m.entries, key)
	}
}

// pruneEvents drops events at or before cutoff. events is sorted ascending.
func pruneEvents(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

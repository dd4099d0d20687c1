package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Limiter enforces quota rules keyed by (rule, identifier).
type Limiter interface {
	// CheckLimit reports the current decision without consuming quota.
	CheckLimit(ctx context.Context, rule Rule, identifier string) (Decision, error)
	// RecordUsage consumes one unit unconditionally.
	RecordUsage(ctx context.Context, rule Rule, identifier string) error
	// Allow checks and, when allowed, consumes one unit in a single atomic step.
	Allow(ctx context.Context, rule Rule, identifier string) (Decision, error)
	// Release gives back one unit consumed by Allow or RecordUsage.
	Release(ctx context.Context, rule Rule, identifier string) error
	Reset(ctx context.Context, rule Rule, identifier string) error
}

// Throughput controls send rate per provider.
type Throughput interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Decision is the outcome of a quota check. Err is set when the decision was
// made by a fallback after a backend failure.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Err       error
}

// Key builds the storage key for a rule and identifier.
func Key(rule Rule, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", rule.Name, identifier)
}

// NormalizeIdentifier trims identifier and rejects empty values.
func NormalizeIdentifier(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", fmt.Errorf("rate limit identifier is required")
	}
	return id, nil
}

package ratelimit

import (
	"fmt"
	"time"
)

const (
	RulePhoneDaily    = "phone_daily"
	RuleIPHourly      = "ip_hourly"
	RuleVerifyAttempt = "verify_attempt"
	RuleAddressCount  = "address_count"
)

// Rule is a named ceiling. A zero Window makes the rule cumulative: the count
// never expires on its own.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (r Rule) Cumulative() bool { return r.Window <= 0 }

func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rate limit rule name is required")
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rate limit rule %s: limit must be positive", r.Name)
	}
	return nil
}

// Rules is the set of storefront quota rules.
type Rules struct {
	PhoneDaily    Rule
	IPHourly      Rule
	VerifyAttempt Rule
	AddressCount  Rule
}

func DefaultRules() Rules {
	return NewRules(3, 5, 5, 5*time.Minute, 50)
}

func NewRules(phoneDaily, ipHourly, verifyAttempts int, verifyWindow time.Duration, addressLimit int) Rules {
	return Rules{
		PhoneDaily:    Rule{Name: RulePhoneDaily, Limit: phoneDaily, Window: 24 * time.Hour},
		IPHourly:      Rule{Name: RuleIPHourly, Limit: ipHourly, Window: time.Hour},
		VerifyAttempt: Rule{Name: RuleVerifyAttempt, Limit: verifyAttempts, Window: verifyWindow},
		AddressCount:  Rule{Name: RuleAddressCount, Limit: addressLimit},
	}
}

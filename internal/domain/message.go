package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Category determines rate limiting and pricing of an outbound SMS.
type Category string

const (
	CategoryOTP           Category = "otp"
	CategoryTransactional Category = "transactional"
	CategoryMarketing     Category = "marketing"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryOTP, CategoryTransactional, CategoryMarketing:
		return true
	}
	return false
}

// RateLimited reports whether sends in this category count against customer quotas.
func (c Category) RateLimited() bool {
	return c == CategoryOTP || c == CategoryTransactional
}

func ParseCategoryFromString(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryTransactional, nil
	}
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

// MaxBodyLength bounds a concatenated SMS body in characters.
const MaxBodyLength = 1600

// OutboundMessage is a single SMS handed to a provider adapter.
type OutboundMessage struct {
	To       string
	Body     string
	Category Category
	SenderID string
	Metadata map[string]string
}

// Validate checks the message after the recipient has been normalized.
func (m OutboundMessage) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !m.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, m.Category)
	}
	if n := utf8.RuneCountInString(m.Body); n > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, n)
	}
	if !IsE164(m.To) {
		return fmt.Errorf("%w: %q is not in E.164 format", ErrInvalidPhone, m.To)
	}
	return nil
}

package domain

import (
	"fmt"
	"strings"
)

// SendStatus is the immediate outcome reported by a provider on submission.
type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

func (s SendStatus) String() string { return string(s) }

// DeliveryState is the carrier-level lifecycle of a message.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryExpired   DeliveryState = "expired"
	DeliveryUnknown   DeliveryState = "unknown"
)

func (s DeliveryState) String() string { return string(s) }

func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryFailed, DeliveryExpired, DeliveryUnknown:
		return true
	}
	return false
}

// IsTerminal reports whether no further carrier updates are expected.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailed, DeliveryExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in state s may move to next.
// Terminal states never regress and unknown never overwrites a known state.
func (s DeliveryState) CanTransitionTo(next DeliveryState) bool {
	if !next.IsValid() {
		return false
	}
	if next == DeliveryUnknown {
		return s == "" || s == DeliveryUnknown
	}
	if s.IsTerminal() && !next.IsTerminal() {
		return false
	}
	return true
}

func ParseDeliveryStateFromString(s string) (DeliveryState, error) {
	st := DeliveryState(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryStateFromSend maps the submission outcome onto the log lifecycle.
func DeliveryStateFromSend(s SendStatus) DeliveryState {
	switch s {
	case SendStatusSent:
		return DeliverySent
	case SendStatusFailed:
		return DeliveryFailed
	}
	return DeliveryPending
}

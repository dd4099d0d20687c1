package domain

import "time"

// SendResult is the normalized outcome of a provider send call.
type SendResult struct {
	Success      bool
	Provider     string
	MessageID    string
	Status       SendStatus
	Cost         float64
	Currency     string
	Parts        int
	ErrorCode    ErrorCode
	ErrorMessage string
	Raw          map[string]any
}

// FailedSend builds a failure result with the given code.
func FailedSend(code ErrorCode, message string) SendResult {
	return SendResult{
		Success:      false,
		Status:       SendStatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// DeliveryStatus is a point-in-time delivery report for one message.
type DeliveryStatus struct {
	MessageID    string
	Status       DeliveryState
	DeliveredAt  *time.Time
	ErrorCode    string
	ErrorMessage string
	Raw          map[string]any
}

// UnknownDelivery is returned when a provider cannot resolve a message id.
func UnknownDelivery(messageID string) DeliveryStatus {
	return DeliveryStatus{MessageID: messageID, Status: DeliveryUnknown}
}

// BalanceUnit tells whether a balance is money or message credits.
type BalanceUnit string

const (
	BalanceUnitMoney   BalanceUnit = "money"
	BalanceUnitCredits BalanceUnit = "credits"
)

// ProviderBalance is the remaining prepaid balance of a provider account.
type ProviderBalance struct {
	Balance      float64
	Currency     string
	Unit         BalanceUnit
	LowThreshold float64
	IsLow        bool
	Degraded     bool
}

func NewProviderBalance(balance float64, currency string, unit BalanceUnit, lowThreshold float64) ProviderBalance {
	return ProviderBalance{
		Balance:      balance,
		Currency:     currency,
		Unit:         unit,
		LowThreshold: lowThreshold,
		IsLow:        balance <= lowThreshold,
	}
}

// DegradedBalance reports a zero, low balance when the provider could not be queried.
func DegradedBalance(currency string, unit BalanceUnit, lowThreshold float64) ProviderBalance {
	b := NewProviderBalance(0, currency, unit, lowThreshold)
	b.IsLow = true
	b.Degraded = true
	return b
}

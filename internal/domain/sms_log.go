package domain

import "time"

// DefaultLogRetention is how long delivery log rows are kept.
const DefaultLogRetention = 90 * 24 * time.Hour

// DeliveryLogRecord is one persisted SMS send attempt. Reporting paths read
// RecipientMasked; Recipient and Body are kept for support lookups only.
type DeliveryLogRecord struct {
	ID                string
	Provider          string
	ProviderMessageID string
	Recipient         string
	RecipientMasked   string
	Category          Category
	Body              string
	Status            DeliveryState
	Parts             int
	Cost              float64
	Currency          string
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
	Metadata          map[string]string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	LatencySeconds    *float64
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DeliveryStats aggregates delivery log rows for one provider and status.
type DeliveryStats struct {
	Provider          string
	Status            DeliveryState
	Count             int64
	TotalCost         float64
	AvgLatencySeconds *float64
}

// StatsFilter narrows delivery statistics.
type StatsFilter struct {
	Provider string
	Category Category
	From     *time.Time
	To       *time.Time
}

package queue

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryReportMessage is the broker payload for one vendor delivery webhook.
type DeliveryReportMessage struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	Payload    map[string]string `json:"payload"`
	ReceivedAt time.Time         `json:"receivedAt"`
	RequestID  string            `json:"requestId,omitempty"`
}

func (m DeliveryReportMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

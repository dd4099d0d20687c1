package provider

import (
	"regexp"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

var otpPattern = regexp.MustCompile(`\b\d{4,8}\b`)

// MockRecord is a message accepted by the mock adapter.
type MockRecord struct {
	MessageID string
	To        string
	Body      string
	Category  domain.Category
	Cost      float64
	OTPCode   string
	SentAt    time.Time
}

// MockLedger stores messages accepted by mock adapters. It is shared between
// adapter instances so status lookups survive configuration reloads.
type MockLedger struct {
	mu      sync.Mutex
	records map[string]MockRecord
	order   []string
}

func NewMockLedger() *MockLedger {
	return &MockLedger{records: make(map[string]MockRecord)}
}

func (l *MockLedger) add(rec MockRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.MessageID] = rec
	l.order = append(l.order, rec.MessageID)
}

func (l *MockLedger) Get(messageID string) (MockRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[messageID]
	return rec, ok
}

// All returns records in send order.
func (l *MockLedger) All() []MockRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}

func (l *MockLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// LastCode returns the OTP code of the most recent message sent to phone.
func (l *MockLedger) LastCode(phone string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.order) - 1; i >= 0; i-- {
		rec := l.records[l.order[i]]
		if rec.To == phone && rec.OTPCode != "" {
			return rec.OTPCode
		}
	}
	return ""
}

func (l *MockLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]MockRecord)
	l.order = nil
}

func extractOTP(body string) string {
	return otpPattern.FindString(body)
}

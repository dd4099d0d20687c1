package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

func newTestTwilio(t *testing.T, handler http.HandlerFunc) *TwilioAdapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewTwilioAdapter(
		domain.ProviderSettings{BaseURL: server.URL, SenderID: "+15005550006", CostPerSMS: 0.0079, CurrencyPrecision: 4, LowBalanceThreshold: 5},
		domain.Credentials{"account_sid": "AC123", "auth_token": "secret"},
		nil,
	)
	if err != nil {
		t.Fatalf("NewTwilioAdapter() error = %v", err)
	}
	return adapter
}

func TestTwilioAdapterSendSuccess(t *testing.T) {
	t.Parallel()

	adapter := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("To") != "+40722123456" || r.PostForm.Get("From") != "+15005550006" || r.PostForm.Get("Body") != "Comanda confirmata" {
			t.Errorf("form = %v", r.PostForm)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued","error_code":null}`))
	})

	result := adapter.Send(context.Background(), domain.OutboundMessage{
		To:       "+40 722 123 456",
		Body:     "Comanda confirmata",
		Category: domain.CategoryTransactional,
	})
	if !result.Success || result.MessageID != "SM42" {
		t.Fatalf("Send() = %+v", result)
	}
	if result.Status != domain.SendStatusPending || result.Cost != 0.0079 || result.Currency != "USD" {
		t.Fatalf("Send() = %+v", result)
	}
}

func TestTwilioAdapterSendErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
		body       string
		want       domain.ErrorCode
	}{
		{name: "vendor auth code", statusCode: http.StatusUnauthorized, body: `{"code":20003,"message":"Authenticate"}`, want: domain.CodeInvalidAPIKey},
		{name: "invalid to number", statusCode: http.StatusBadRequest, body: `{"code":21211,"message":"Invalid 'To'"}`, want: domain.CodeBadRequest},
		{name: "payment required", statusCode: http.StatusPaymentRequired, body: `{}`, want: domain.CodeInsufficientCredit},
		{name: "server error", statusCode: http.StatusServiceUnavailable, body: ``, want: domain.CodeProviderError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter := newTestTwilio(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			})

			result := adapter.Send(context.Background(), domain.OutboundMessage{To: "+40722123456", Body: "x"})
			if result.Success || result.ErrorCode != tc.want {
				t.Fatalf("Send() = %+v, want %s", result, tc.want)
			}
		})
	}
}

func TestTwilioAdapterSendTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	adapter := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := adapter.Send(ctx, domain.OutboundMessage{To: "+40722123456", Body: "x"})
	if result.Success || result.ErrorCode != domain.CodeTimeout {
		t.Fatalf("Send() = %+v, want TIMEOUT", result)
	}
}

func TestTwilioAdapterInvalidPhoneMakesNoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	adapter := newTestTwilio(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})

	result := adapter.Send(context.Background(), domain.OutboundMessage{To: "123", Body: "x"})
	if result.ErrorCode != domain.CodeInvalidPhone {
		t.Fatalf("Send() = %+v, want INVALID_PHONE", result)
	}
	if calls.Load() != 0 {
		t.Fatalf("provider called %d times, want 0", calls.Load())
	}
}

func TestTwilioAdapterGetStatus(t *testing.T) {
	t.Parallel()

	adapter := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/2010-04-01/Accounts/AC123/Messages/SM42.json":
			_, _ = w.Write([]byte(`{"sid":"SM42","status":"delivered","error_code":null,"date_updated":"Sun, 01 Mar 2026 10:00:05 +0000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":20404,"message":"not found"}`))
		}
	})

	status := adapter.GetStatus(context.Background(), "SM42")
	if status.Status != domain.DeliveryDelivered || status.DeliveredAt == nil {
		t.Fatalf("GetStatus() = %+v", status)
	}
	want := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	if !status.DeliveredAt.Equal(want) {
		t.Fatalf("DeliveredAt = %s, want %s", status.DeliveredAt, want)
	}

	if missing := adapter.GetStatus(context.Background(), "SM404"); missing.Status != domain.DeliveryUnknown {
		t.Fatalf("GetStatus(missing) = %s, want unknown", missing.Status)
	}
}

func TestTwilioAdapterGetBalance(t *testing.T) {
	t.Parallel()

	adapter := newTestTwilio(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance":"3.20","currency":"USD"}`))
	})

	balance := adapter.GetBalance(context.Background())
	if balance.Balance != 3.2 || !balance.IsLow || balance.Degraded {
		t.Fatalf("GetBalance() = %+v", balance)
	}
	if ok, _ := adapter.HealthCheck(context.Background()); ok {
		t.Fatalf("HealthCheck() = healthy, want unhealthy on low balance")
	}
}

func TestTwilioAdapterHandleWebhook(t *testing.T) {
	t.Parallel()

	adapter := newTestTwilio(t, func(http.ResponseWriter, *http.Request) {})

	status := adapter.HandleWebhook(map[string]string{
		"MessageSid":    "SM42",
		"MessageStatus": "undelivered",
		"ErrorCode":     "30003",
		"ErrorMessage":  "Unreachable destination handset",
	})
	if status == nil || status.Status != domain.DeliveryFailed || status.ErrorCode != "30003" {
		t.Fatalf("HandleWebhook() = %+v", status)
	}

	if adapter.HandleWebhook(map[string]string{"foo": "bar"}) != nil {
		t.Fatalf("HandleWebhook() should ignore unrelated payloads")
	}
}

func TestNewTwilioAdapterRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewTwilioAdapter(domain.ProviderSettings{SenderID: "+15005550006"}, domain.Credentials{"account_sid": "AC123"}, nil)
	if err == nil {
		t.Fatalf("expected missing auth_token to fail")
	}
}

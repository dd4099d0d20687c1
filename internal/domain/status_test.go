package domain

import "testing"

func TestDeliveryStateCanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from DeliveryState
		to   DeliveryState
		want bool
	}{
		{from: DeliveryPending, to: DeliverySent, want: true},
		{from: DeliverySent, to: DeliveryDelivered, want: true},
		{from: DeliveryDelivered, to: DeliverySent, want: false},
		{from: DeliveryFailed, to: DeliveryPending, want: false},
		{from: DeliveryExpired, to: DeliveryDelivered, want: true},
		{from: DeliverySent, to: DeliveryUnknown, want: false},
		{from: "", to: DeliveryUnknown, want: true},
		{from: DeliverySent, to: "bogus", want: false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%q.CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewProviderBalance(t *testing.T) {
	t.Parallel()

	b := NewProviderBalance(5, "RON", BalanceUnitMoney, 10)
	if !b.IsLow {
		t.Fatalf("expected balance below threshold to be low")
	}

	b = NewProviderBalance(50, "RON", BalanceUnitMoney, 10)
	if b.IsLow {
		t.Fatalf("expected balance above threshold not to be low")
	}

	d := DegradedBalance("USD", BalanceUnitMoney, 1)
	if !d.IsLow || !d.Degraded || d.Balance != 0 {
		t.Fatalf("DegradedBalance() = %+v", d)
	}
}

func TestProviderConfigValidate(t *testing.T) {
	t.Parallel()

	rate := 1.5
	cfg := ProviderConfig{Slug: "smso", Name: "SMSO", AdapterType: AdapterSMSO, IsActive: true, IsDefault: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	bad := cfg
	bad.IsActive = false
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected inactive default to be rejected")
	}

	bad = cfg
	bad.Settings.SuccessRate = &rate
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected success_rate > 1 to be rejected")
	}

	bad = cfg
	bad.Slug = "Bad Slug"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid slug to be rejected")
	}
}

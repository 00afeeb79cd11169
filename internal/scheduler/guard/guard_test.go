package guard

import (
	"errors"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

func TestEnsureCycleCanClose(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 999000000, time.UTC)
	account := &accountdomain.BillingAccount{BillingCycleStart: start, BillingCycleEnd: end}

	tests := []struct {
		name    string
		account *accountdomain.BillingAccount
		now     time.Time
		want    error
	}{
		{"missing account", nil, end.Add(time.Hour), ErrMissingAccount},
		{"missing window", &accountdomain.BillingAccount{}, end.Add(time.Hour), ErrMissingCycleWindow},
		{"cycle still open", account, end.Add(-time.Hour), ErrCycleNotReadyToClose},
		{"at cycle end", account, end, ErrCycleNotReadyToClose},
		{"after cycle end", account, end.Add(time.Millisecond), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := EnsureCycleCanClose(tt.account, tt.now); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

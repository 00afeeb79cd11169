package guard

import (
	"errors"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

var (
	ErrMissingAccount       = errors.New("billing_account_missing")
	ErrCycleNotReadyToClose = errors.New("billing_cycle_not_ready_to_close")
	ErrMissingCycleWindow   = errors.New("billing_cycle_window_missing")
)

// EnsureCycleCanClose allows closing only after the cycle end has passed.
func EnsureCycleCanClose(account *accountdomain.BillingAccount, now time.Time) error {
	if account == nil {
		return ErrMissingAccount
	}
	if account.BillingCycleStart.IsZero() || account.BillingCycleEnd.IsZero() {
		return ErrMissingCycleWindow
	}
	if !now.After(account.BillingCycleEnd) {
		return ErrCycleNotReadyToClose
	}
	return nil
}

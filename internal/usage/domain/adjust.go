package domain

import (
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

const (
	AdjustReasonLateEvent   = "late_event_rolled_forward"
	AdjustReasonFutureEvent = "future_event_clamped"
)

type Adjustment struct {
	Timestamp    time.Time `json:"timestamp"`
	WasAdjusted  bool      `json:"was_adjusted"`
	AdjustReason string    `json:"adjust_reason,omitempty"`
}

// AdjustEventForLockedCycle normalizes the stored timestamp of an event that
// was already allowed through the write guard. While the cycle is locked an
// event older than the cycle start rolls forward to the start; an event past
// the cycle end is clamped to now. It never fails.
func AdjustEventForLockedCycle(eventTimestamp time.Time, account *accountdomain.BillingAccount, now time.Time) Adjustment {
	if account == nil {
		return Adjustment{Timestamp: eventTimestamp}
	}
	if account.IsBillingCycleLocked && eventTimestamp.Before(account.BillingCycleStart) {
		return Adjustment{
			Timestamp:    account.BillingCycleStart.UTC(),
			WasAdjusted:  true,
			AdjustReason: AdjustReasonLateEvent,
		}
	}
	if !account.BillingCycleEnd.IsZero() && eventTimestamp.After(account.BillingCycleEnd) {
		return Adjustment{
			Timestamp:    now.UTC(),
			WasAdjusted:  true,
			AdjustReason: AdjustReasonFutureEvent,
		}
	}
	return Adjustment{Timestamp: eventTimestamp}
}

package domain

import (
	"fmt"
	"math"
	"time"
)

var allowedTransitions = map[Status][]Status{
	StatusActive:    {StatusDue},
	StatusDue:       {StatusActive, StatusSuspended},
	StatusSuspended: {StatusActive},
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// AllowedTargets lists the statuses reachable from s, excluding s itself.
func AllowedTargets(s Status) []Status {
	return allowedTransitions[s]
}

// AssertValidTransition accepts self-transitions and the edges of the status
// machine. ACTIVE cannot skip the grace period and SUSPENDED cannot regress
// to DUE.
func AssertValidTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidStatus, from, to)
	}
	if from == to {
		return nil
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s (allowed: %v)", ErrInvalidTransition, from, to, allowedTransitions[from])
}

type WarningLevel string

const (
	WarningNormal    WarningLevel = "NORMAL"
	WarningWarning   WarningLevel = "WARNING"
	WarningCritical  WarningLevel = "CRITICAL"
	WarningSuspended WarningLevel = "SUSPENDED"
)

const DefaultCriticalHours = 12

// WarningState drives the billing banner. Every level except NORMAL is shown
// to all organization members and cannot be dismissed.
type WarningState struct {
	Level          WarningLevel `json:"level"`
	HoursRemaining float64      `json:"hours_remaining"`
	GracePeriodEnd *time.Time   `json:"grace_period_end,omitempty"`
	ShowBanner     bool         `json:"show_banner"`
	Dismissible    bool         `json:"dismissible"`
	Message        string       `json:"message,omitempty"`
}

// DeriveWarningState is a pure function of status, grace period end and now.
// A nil account status (no account) yields NORMAL. A DUE account with no
// recorded grace period end is treated as expired.
func DeriveWarningState(status Status, gracePeriodEnd *time.Time, now time.Time, criticalHours float64) WarningState {
	if criticalHours <= 0 {
		criticalHours = DefaultCriticalHours
	}

	switch status {
	case StatusSuspended:
		return WarningState{
			Level:      WarningSuspended,
			ShowBanner: true,
			Message:    "Billing is suspended. Update your payment method to restore access.",
		}
	case StatusDue:
		hours := 0.0
		if gracePeriodEnd != nil {
			hours = math.Max(0, gracePeriodEnd.Sub(now).Hours())
		}
		state := WarningState{
			HoursRemaining: hours,
			GracePeriodEnd: gracePeriodEnd,
			ShowBanner:     true,
		}
		switch {
		case hours <= 0:
			state.Level = WarningCritical
			state.Message = "Grace period has ended. Service will be suspended shortly."
		case hours <= criticalHours:
			state.Level = WarningCritical
			state.Message = fmt.Sprintf("Payment overdue. Service will be suspended in %d hours.", int(math.Ceil(hours)))
		case hours <= 48:
			state.Level = WarningWarning
			state.Message = fmt.Sprintf("Payment overdue. Service will be suspended in %d hours.", int(math.Ceil(hours)))
		default:
			state.Level = WarningWarning
			state.Message = "Payment is due. Please update your payment method."
		}
		return state
	default:
		return WarningState{Level: WarningNormal}
	}
}

// WarningStateFor derives the banner state for an account, which may be nil.
func WarningStateFor(account *BillingAccount, now time.Time, criticalHours float64) WarningState {
	if account == nil {
		return WarningState{Level: WarningNormal}
	}
	return DeriveWarningState(account.BillingStatus, account.GracePeriodEnd, now, criticalHours)
}

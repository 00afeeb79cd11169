// Package testing holds helpers that move billing cycles around in time so
// period-close can be exercised without waiting for month end.
package testing

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/pkg/docstore"
)

// TimeAccelerator helps speed up billing cycles for testing
type TimeAccelerator struct {
	accounts docstore.Collection[accountdomain.BillingAccount]
	clock    clock.Clock
}

func NewTimeAccelerator(accounts docstore.Collection[accountdomain.BillingAccount], clk clock.Clock) *TimeAccelerator {
	return &TimeAccelerator{accounts: accounts, clock: clk}
}

// FastForwardCycle moves the cycle end of one account a minute into the past.
func (ta *TimeAccelerator) FastForwardCycle(ctx context.Context, accountID string) error {
	now := ta.clock.Now().UTC()
	return ta.accounts.Update(ctx, accountID, map[string]any{
		"billing_cycle_end": now.Add(-time.Minute),
		"updated_at":        now,
	})
}

// FastForwardAllOpenCycles ends every unlocked cycle that is still running.
func (ta *TimeAccelerator) FastForwardAllOpenCycles(ctx context.Context) (int, error) {
	now := ta.clock.Now().UTC()
	accounts, err := ta.accounts.List(ctx, []docstore.Predicate{
		docstore.Equal("is_billing_cycle_locked", false),
		docstore.Greater("billing_cycle_end", now),
	}, 0)
	if err != nil {
		return 0, err
	}
	for _, account := range accounts {
		if err := ta.FastForwardCycle(ctx, account.ID); err != nil {
			return 0, err
		}
	}
	return len(accounts), nil
}

// SetCyclePeriod allows custom period for testing
func (ta *TimeAccelerator) SetCyclePeriod(ctx context.Context, accountID string, periodStart, periodEnd time.Time) error {
	return ta.accounts.Update(ctx, accountID, map[string]any{
		"billing_cycle_start": periodStart.UTC(),
		"billing_cycle_end":   periodEnd.UTC(),
		"updated_at":          ta.clock.Now().UTC(),
	})
}

// CycleInfo shows current cycle status for debugging
type CycleInfo struct {
	AccountID    string
	Locked       bool
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TimeUntilEnd time.Duration
	CanClose     bool
}

func (ta *TimeAccelerator) GetCycleInfo(ctx context.Context, accountID string) (*CycleInfo, error) {
	account, err := ta.accounts.Get(ctx, accountID)
	if err != nil || account == nil {
		return nil, err
	}
	now := ta.clock.Now().UTC()
	return &CycleInfo{
		AccountID:    account.ID,
		Locked:       account.IsBillingCycleLocked,
		PeriodStart:  account.BillingCycleStart,
		PeriodEnd:    account.BillingCycleEnd,
		TimeUntilEnd: account.BillingCycleEnd.Sub(now),
		CanClose:     now.After(account.BillingCycleEnd),
	}, nil
}

// ForceUnlock clears a cycle lock without advancing (dangerous, for testing only!)
func (ta *TimeAccelerator) ForceUnlock(ctx context.Context, accountID string) error {
	return ta.accounts.Update(ctx, accountID, map[string]any{
		"is_billing_cycle_locked":  false,
		"billing_cycle_locked_at":  nil,
		"billing_cycle_lock_token": "",
		"updated_at":               ta.clock.Now().UTC(),
	})
}

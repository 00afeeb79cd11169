package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

// LockResult reports the outcome of a lock attempt. AlreadyLocked is set both
// when the cycle was locked before the attempt and when a concurrent attempt
// won; LockedAt is then the winner's timestamp.
type LockResult struct {
	Success       bool       `json:"success"`
	AlreadyLocked bool       `json:"already_locked"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type Service interface {
	Lock(ctx context.Context, accountID string) (LockResult, error)
	Unlock(ctx context.Context, accountID string) error
	// IsLocked fails open: a read error reports false.
	IsLocked(ctx context.Context, accountID string) bool
	AdvanceCycle(ctx context.Context, accountID string) (*accountdomain.BillingAccount, error)
}

var (
	ErrCycleNotLocked    = errors.New("billing_cycle_not_locked")
	ErrConcurrentAdvance = errors.New("billing_cycle_advanced_concurrently")
)

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/billingcycle/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.BillingMetrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	metrics  *obsmetrics.BillingMetrics
	accounts docstore.Collection[accountdomain.BillingAccount]
}

func NewService(p ServiceParam) domain.Service {
	svc := newService(backend.Collection[accountdomain.BillingAccount](p.Store), p.Clock, p.Log)
	svc.metrics = p.Metrics
	return svc
}

func newService(accounts docstore.Collection[accountdomain.BillingAccount], clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		log:      log.Named("billingcycle.service"),
		clock:    clk,
		accounts: accounts,
	}
}

// Lock closes the current cycle for usage writes.
//
// Each attempt writes its own token next to the timestamp and re-reads the
// account; only the attempt whose token survived reports success. Stores with
// a conditional write apply the lock only while the account is unlocked, which
// closes the window between write and re-read.
func (s *Service) Lock(ctx context.Context, accountID string) (domain.LockResult, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return s.lockFailed(accountID, err)
	}
	if account.IsBillingCycleLocked {
		s.metrics.IncCycleLock(obsmetrics.LockOutcomeAlreadyLocked)
		return domain.LockResult{AlreadyLocked: true, LockedAt: account.BillingCycleLockedAt}, nil
	}

	lockedAt := s.clock.Now().UTC().Truncate(time.Millisecond)
	token := ulid.Make().String()
	fields := map[string]any{
		"is_billing_cycle_locked":  true,
		"billing_cycle_locked_at":  lockedAt,
		"billing_cycle_lock_token": token,
		"updated_at":               lockedAt,
	}

	if cu, ok := docstore.Conditional(s.accounts); ok {
		applied, err := cu.UpdateIf(ctx, account.ID, []docstore.Predicate{
			docstore.Equal("is_billing_cycle_locked", false),
		}, fields)
		if err != nil {
			return s.lockFailed(account.ID, err)
		}
		if !applied {
			return s.lostRace(ctx, account.ID)
		}
	} else if err := s.accounts.Update(ctx, account.ID, fields); err != nil {
		return s.lockFailed(account.ID, err)
	}

	current, err := s.getAccount(ctx, account.ID)
	if err != nil {
		return s.lockFailed(account.ID, err)
	}
	if current.BillingCycleLockToken != token {
		s.metrics.IncCycleLock(obsmetrics.LockOutcomeLostRace)
		s.log.Info("billing.cycle.lock_lost_race", zap.String("billing_account_id", account.ID))
		return domain.LockResult{AlreadyLocked: true, LockedAt: current.BillingCycleLockedAt}, nil
	}

	s.metrics.IncCycleLock(obsmetrics.LockOutcomeAcquired)
	s.log.Info("billing.cycle.locked",
		zap.String("billing_account_id", account.ID),
		zap.Time("locked_at", lockedAt),
		zap.Time("billing_cycle_end", current.BillingCycleEnd),
	)
	return domain.LockResult{Success: true, LockedAt: &lockedAt}, nil
}

// Unlock clears the lock. Unlocking an unlocked account rewrites the same
// cleared fields.
func (s *Service) Unlock(ctx context.Context, accountID string) error {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Update(ctx, account.ID, unlockFields(s.clock.Now().UTC())); err != nil {
		return err
	}
	s.log.Info("billing.cycle.unlocked", zap.String("billing_account_id", account.ID))
	return nil
}

func (s *Service) IsLocked(ctx context.Context, accountID string) bool {
	account, err := s.accounts.Get(ctx, strings.TrimSpace(accountID))
	if err != nil {
		s.log.Warn("billing.cycle.is_locked_failed", zap.String("billing_account_id", accountID), zap.Error(err))
		return false
	}
	return account != nil && account.IsBillingCycleLocked
}

// AdvanceCycle moves a locked account to the next calendar month and clears
// the lock in the same write.
func (s *Service) AdvanceCycle(ctx context.Context, accountID string) (*accountdomain.BillingAccount, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsBillingCycleLocked {
		return nil, fmt.Errorf("%w: account %s", domain.ErrCycleNotLocked, account.ID)
	}

	start, end := accountdomain.NextCycleWindow(account.BillingCycleStart)
	fields := unlockFields(s.clock.Now().UTC())
	fields["billing_cycle_start"] = start
	fields["billing_cycle_end"] = end

	if cu, ok := docstore.Conditional(s.accounts); ok {
		applied, err := cu.UpdateIf(ctx, account.ID, []docstore.Predicate{
			docstore.Equal("billing_cycle_lock_token", account.BillingCycleLockToken),
			docstore.Equal("is_billing_cycle_locked", true),
		}, fields)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, fmt.Errorf("%w: account %s", domain.ErrConcurrentAdvance, account.ID)
		}
	} else if err := s.accounts.Update(ctx, account.ID, fields); err != nil {
		return nil, err
	}

	updated, err := s.getAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("billing.cycle.advanced",
		zap.String("billing_account_id", account.ID),
		zap.Time("billing_cycle_start", start),
		zap.Time("billing_cycle_end", end),
	)
	return updated, nil
}

func (s *Service) getAccount(ctx context.Context, accountID string) (*accountdomain.BillingAccount, error) {
	accountID = strings.TrimSpace(accountID)
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &accountdomain.BillingError{Code: accountdomain.CodeBillingNotFound, AccountID: accountID}
	}
	return account, nil
}

func (s *Service) lostRace(ctx context.Context, accountID string) (domain.LockResult, error) {
	s.metrics.IncCycleLock(obsmetrics.LockOutcomeLostRace)
	current, err := s.getAccount(ctx, accountID)
	if err != nil {
		return s.lockFailed(accountID, err)
	}
	s.log.Info("billing.cycle.lock_lost_race", zap.String("billing_account_id", accountID))
	return domain.LockResult{AlreadyLocked: true, LockedAt: current.BillingCycleLockedAt}, nil
}

func (s *Service) lockFailed(accountID string, err error) (domain.LockResult, error) {
	s.metrics.IncCycleLock(obsmetrics.LockOutcomeError)
	s.log.Warn("billing.cycle.lock_failed", zap.String("billing_account_id", accountID), zap.Error(err))
	return domain.LockResult{Error: err.Error()}, err
}

func unlockFields(now time.Time) map[string]any {
	return map[string]any{
		"is_billing_cycle_locked":  false,
		"billing_cycle_locked_at":  nil,
		"billing_cycle_lock_token": "",
		"updated_at":               now,
	}
}

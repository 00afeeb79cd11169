package service

import (
	"context"

	"github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

// AssertActive is required before creating billable resources. A missing
// account is allowed so unbilled users can still onboard.
func (s *Service) AssertActive(ctx context.Context, lookup domain.Lookup) (*domain.BillingAccount, error) {
	account := s.Resolve(ctx, lookup)
	if account == nil {
		return nil, nil
	}
	switch account.BillingStatus {
	case domain.StatusSuspended:
		return nil, s.reject(domain.CodeBillingSuspended, account)
	case domain.StatusDue:
		return nil, s.reject(domain.CodeBillingDue, account)
	}
	return account, nil
}

// AssertNotSuspended tolerates DUE accounts still inside their grace period.
func (s *Service) AssertNotSuspended(ctx context.Context, lookup domain.Lookup) (*domain.BillingAccount, error) {
	account := s.Resolve(ctx, lookup)
	if account == nil {
		return nil, nil
	}
	if account.BillingStatus == domain.StatusSuspended {
		return nil, s.reject(domain.CodeBillingSuspended, account)
	}
	return account, nil
}

func (s *Service) GetWarningState(ctx context.Context, lookup domain.Lookup) domain.WarningState {
	account := s.Resolve(ctx, lookup)
	return domain.WarningStateFor(account, s.clock.Now(), s.policy.Policy().CriticalHours)
}

func (s *Service) reject(code domain.ErrorCode, account *domain.BillingAccount) error {
	s.billingMetrics.IncGuardRejection(string(code))
	return domain.NewBillingError(code, account)
}

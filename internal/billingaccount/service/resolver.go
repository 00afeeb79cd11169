package service

import (
	"context"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"go.uber.org/zap"
)

const resolveFailureStoreError = "store_error"

// Resolve is fail-open: a store failure is logged, counted and reported, and
// the caller sees the same nil it would see for a user with no account.
func (s *Service) Resolve(ctx context.Context, lookup domain.Lookup) *domain.BillingAccount {
	return s.ResolveDetailed(ctx, lookup).Account
}

func (s *Service) ResolveDetailed(ctx context.Context, lookup domain.Lookup) domain.Resolution {
	account, err := s.resolve(ctx, lookup)
	if err != nil {
		s.recordResolveFailure(ctx, lookup, err)
		return domain.Resolution{Outcome: domain.OutcomeUnavailable, Err: err}
	}
	if account == nil {
		return domain.Resolution{Outcome: domain.OutcomeNotFound}
	}
	return domain.Resolution{Account: account, Outcome: domain.OutcomeFound}
}

// resolve tries the organization, then the workspace owner, then the user.
// The first lookup that finds an account wins.
func (s *Service) resolve(ctx context.Context, lookup domain.Lookup) (*domain.BillingAccount, error) {
	if orgID := strings.TrimSpace(lookup.OrganizationID); orgID != "" {
		account, err := s.findByOwner(ctx, domain.AccountTypeOrg, "organization_id", orgID)
		if err != nil || account != nil {
			return account, err
		}
	}

	if workspaceID := strings.TrimSpace(lookup.WorkspaceID); workspaceID != "" {
		owner, err := s.WorkspaceOwner(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			var account *domain.BillingAccount
			if owner.OrganizationID != "" {
				account, err = s.findByOwner(ctx, domain.AccountTypeOrg, "organization_id", owner.OrganizationID)
			} else if owner.UserID != "" {
				account, err = s.findByOwner(ctx, domain.AccountTypePersonal, "user_id", owner.UserID)
			}
			if err != nil || account != nil {
				return account, err
			}
		}
	}

	if userID := strings.TrimSpace(lookup.UserID); userID != "" {
		return s.findByOwner(ctx, domain.AccountTypePersonal, "user_id", userID)
	}
	return nil, nil
}

// WorkspaceOwner returns the billable owner of a workspace, or nil when the
// workspace does not exist. Owners are cached since a workspace never moves
// between owners.
func (s *Service) WorkspaceOwner(ctx context.Context, workspaceID string) (*domain.Owner, error) {
	key := "workspace:" + workspaceID
	if cached, ok := s.owners.Get(key); ok {
		owner := cached.(domain.Owner)
		return &owner, nil
	}

	workspace, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if workspace == nil {
		return nil, nil
	}

	owner := domain.Owner{OrganizationID: workspace.OrganizationID, UserID: workspace.UserID}
	s.owners.Set(key, owner, cache.DefaultExpiration)
	return &owner, nil
}

func (s *Service) recordResolveFailure(ctx context.Context, lookup domain.Lookup, err error) {
	s.billingMetrics.IncResolverFailure(resolveFailureStoreError)
	s.log.Warn("billing.resolve_failed",
		zap.String("organization_id", lookup.OrganizationID),
		zap.String("workspace_id", lookup.WorkspaceID),
		zap.String("user_id", lookup.UserID),
		zap.Error(err),
	)
	s.sentry.CaptureException(ctx, err, map[string]string{
		"component":       "billing_resolver",
		"organization_id": lookup.OrganizationID,
		"workspace_id":    lookup.WorkspaceID,
	})
}

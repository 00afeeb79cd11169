package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/internal/observability/sentry"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ServiceParam struct {
	fx.In

	Store          *backend.Backend
	Log            *zap.Logger
	Clock          clock.Clock
	Policy         config.PolicyProvider
	Metrics        *obsmetrics.Metrics        `optional:"true"`
	BillingMetrics *obsmetrics.BillingMetrics `optional:"true"`
	Sentry         *sentry.Service            `optional:"true"`
}

type Service struct {
	log    *zap.Logger
	clock  clock.Clock
	policy config.PolicyProvider

	accounts   docstore.Collection[domain.BillingAccount]
	workspaces docstore.Collection[orgdomain.Workspace]
	owners     *cache.Cache

	metrics        *obsmetrics.Metrics
	billingMetrics *obsmetrics.BillingMetrics
	sentry         *sentry.Service
}

func NewService(p ServiceParam) domain.Service {
	svc := newService(
		backend.Collection[domain.BillingAccount](p.Store),
		backend.Collection[orgdomain.Workspace](p.Store),
		p.Clock,
		p.Policy,
		p.Log,
	)
	svc.metrics = p.Metrics
	svc.billingMetrics = p.BillingMetrics
	svc.sentry = p.Sentry
	return svc
}

func newService(
	accounts docstore.Collection[domain.BillingAccount],
	workspaces docstore.Collection[orgdomain.Workspace],
	clk clock.Clock,
	policy config.PolicyProvider,
	log *zap.Logger,
) *Service {
	ttl := policy.Policy().ResolverCacheTTL
	if ttl <= 0 {
		ttl = config.DefaultBillingPolicy().ResolverCacheTTL
	}
	return &Service{
		log:        log.Named("billingaccount.service"),
		clock:      clk,
		policy:     policy,
		accounts:   accounts,
		workspaces: workspaces,
		owners:     cache.New(ttl, 2*ttl),
	}
}

func (s *Service) Get(ctx context.Context, accountID string) (*domain.BillingAccount, error) {
	accountID = strings.TrimSpace(accountID)
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &domain.BillingError{Code: domain.CodeBillingNotFound, AccountID: accountID}
	}
	return account, nil
}

func (s *Service) EnsureAccount(ctx context.Context, req domain.EnsureAccountRequest) (*domain.BillingAccount, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)

	var (
		field   string
		ownerID string
	)
	switch req.Type {
	case domain.AccountTypeOrg:
		field, ownerID = "organization_id", req.OrganizationID
	case domain.AccountTypePersonal:
		field, ownerID = "user_id", req.UserID
	default:
		return nil, domain.ErrInvalidAccountType
	}

	now := s.clock.Now().UTC()
	start, end := domain.CycleWindow(now)
	account := &domain.BillingAccount{
		ID:                domain.AccountID(req.Type, ownerID),
		Type:              req.Type,
		UserID:            req.UserID,
		OrganizationID:    req.OrganizationID,
		BillingStatus:     domain.StatusActive,
		BillingCycleStart: start,
		BillingCycleEnd:   end,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if ownerID == "" || !account.HasValidOwner() {
		return nil, domain.ErrInvalidOwner
	}

	existing, err := s.findByOwner(ctx, req.Type, field, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := s.accounts.Create(ctx, account.ID, account); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return s.Get(ctx, account.ID)
		}
		return nil, err
	}

	s.log.Info("billing.account.created",
		zap.String("billing_account_id", account.ID),
		zap.String("type", string(account.Type)),
		zap.Time("billing_cycle_start", start),
		zap.Time("billing_cycle_end", end),
	)
	return account, nil
}

// TransitionStatus moves an account through the status machine. The write is
// conditioned on the status that was read so a concurrent transition is
// detected instead of overwritten.
func (s *Service) TransitionStatus(ctx context.Context, accountID string, to domain.Status) (*domain.BillingAccount, error) {
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	from := account.BillingStatus
	if err := domain.AssertValidTransition(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return account, nil
	}

	now := s.clock.Now().UTC()
	fields := map[string]any{
		"billing_status": string(to),
		"updated_at":     now,
	}
	switch to {
	case domain.StatusDue:
		fields["grace_period_end"] = now.Add(s.policy.Policy().GracePeriod)
	case domain.StatusSuspended:
		fields["suspended_at"] = now
		fields["restored_at"] = nil
		fields["grace_period_end"] = nil
		windows := append(account.SuspensionHistory(), domain.SuspensionWindow{SuspendedAt: now})
		fields["suspension_windows"] = datatypes.JSONSlice[domain.SuspensionWindow](windows)
	case domain.StatusActive:
		fields["grace_period_end"] = nil
		if from == domain.StatusSuspended {
			fields["restored_at"] = now
			fields["suspension_windows"] = datatypes.JSONSlice[domain.SuspensionWindow](closeSuspension(account.SuspensionHistory(), now))
		}
	}

	if cu, ok := docstore.Conditional(s.accounts); ok {
		applied, err := cu.UpdateIf(ctx, account.ID, []docstore.Predicate{
			docstore.Equal("billing_status", string(from)),
		}, fields)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, fmt.Errorf("%w: account %s left %s", domain.ErrConcurrentTransition, account.ID, from)
		}
	} else if err := s.accounts.Update(ctx, account.ID, fields); err != nil {
		return nil, err
	}

	updated, err := s.Get(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if updated.BillingStatus != to {
		return nil, fmt.Errorf("%w: account %s is %s after writing %s", domain.ErrConcurrentTransition, account.ID, updated.BillingStatus, to)
	}

	s.metrics.RecordStatusTransition(ctx, string(from), string(to))
	s.log.Info("billing.account.status_changed",
		zap.String("billing_account_id", account.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

// closeSuspension stamps the open window with the restore time.
func closeSuspension(windows []domain.SuspensionWindow, at time.Time) []domain.SuspensionWindow {
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].RestoredAt == nil {
			windows[i].RestoredAt = &at
			break
		}
	}
	return windows
}

// ExpireGracePeriods suspends DUE accounts whose grace period has ended. It
// continues past individual failures and returns them joined.
func (s *Service) ExpireGracePeriods(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now().UTC()
	due, err := s.accounts.List(ctx, []docstore.Predicate{
		docstore.Equal("billing_status", string(domain.StatusDue)),
		docstore.LessOrEqual("grace_period_end", now),
	}, limit)
	if err != nil {
		return 0, err
	}

	var (
		suspended int
		errs      []error
	)
	for _, account := range due {
		if _, err := s.TransitionStatus(ctx, account.ID, domain.StatusSuspended); err != nil {
			if errors.Is(err, domain.ErrConcurrentTransition) {
				s.log.Info("billing.account.grace_expiry_skipped", zap.String("billing_account_id", account.ID), zap.Error(err))
				continue
			}
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}
		suspended++
	}
	return suspended, errors.Join(errs...)
}

func (s *Service) ListAccounts(ctx context.Context, limit int) ([]*domain.BillingAccount, error) {
	return s.accounts.List(ctx, nil, limit)
}

func (s *Service) ListCycleEndedBefore(ctx context.Context, t time.Time, limit int) ([]*domain.BillingAccount, error) {
	return s.accounts.List(ctx, []docstore.Predicate{
		docstore.Less("billing_cycle_end", t.UTC()),
	}, limit)
}

// ListWorkspaceIDs returns the workspaces billed to account.
func (s *Service) ListWorkspaceIDs(ctx context.Context, account *domain.BillingAccount) ([]string, error) {
	if account == nil {
		return nil, nil
	}
	preds := []docstore.Predicate{docstore.Equal("organization_id", account.OrganizationID)}
	if account.Type != domain.AccountTypeOrg {
		preds = []docstore.Predicate{
			docstore.Equal("user_id", account.UserID),
			docstore.Equal("organization_id", ""),
		}
	}
	workspaces, err := s.workspaces.List(ctx, preds, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}
	return ids, nil
}

func (s *Service) findByOwner(ctx context.Context, accountType domain.AccountType, field, ownerID string) (*domain.BillingAccount, error) {
	accounts, err := s.accounts.List(ctx, []docstore.Predicate{
		docstore.Equal(field, ownerID),
		docstore.Equal("type", string(accountType)),
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0], nil
}

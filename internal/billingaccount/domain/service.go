package domain

import (
	"context"
	"time"
)

type Service interface {
	// Resolve returns nil both when no account exists and when the store
	// fails. Use ResolveDetailed to tell the two apart.
	Resolve(ctx context.Context, lookup Lookup) *BillingAccount
	ResolveDetailed(ctx context.Context, lookup Lookup) Resolution
	WorkspaceOwner(ctx context.Context, workspaceID string) (*Owner, error)

	AssertActive(ctx context.Context, lookup Lookup) (*BillingAccount, error)
	AssertNotSuspended(ctx context.Context, lookup Lookup) (*BillingAccount, error)
	GetWarningState(ctx context.Context, lookup Lookup) WarningState

	Get(ctx context.Context, accountID string) (*BillingAccount, error)
	EnsureAccount(ctx context.Context, req EnsureAccountRequest) (*BillingAccount, error)
	TransitionStatus(ctx context.Context, accountID string, to Status) (*BillingAccount, error)
	ExpireGracePeriods(ctx context.Context, limit int) (int, error)

	ListAccounts(ctx context.Context, limit int) ([]*BillingAccount, error)
	ListCycleEndedBefore(ctx context.Context, t time.Time, limit int) ([]*BillingAccount, error)
	ListWorkspaceIDs(ctx context.Context, account *BillingAccount) ([]string, error)
}

type EnsureAccountRequest struct {
	Type           AccountType `json:"type"`
	UserID         string      `json:"user_id"`
	OrganizationID string      `json:"organization_id"`
}

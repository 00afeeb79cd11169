package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/gormstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc        *Service
	clock      *clock.FakeClock
	accounts   docstore.Collection[domain.BillingAccount]
	workspaces docstore.Collection[orgdomain.Workspace]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.BillingAccount{}, &orgdomain.Workspace{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	accounts := gormstore.New[domain.BillingAccount](db)
	workspaces := gormstore.New[orgdomain.Workspace](db)
	return &fixture{
		svc:        newService(accounts, workspaces, clk, config.StaticPolicy(config.DefaultBillingPolicy()), zap.NewNop()),
		clock:      clk,
		accounts:   accounts,
		workspaces: workspaces,
	}
}

func (f *fixture) workspace(t *testing.T, id, orgID, userID string) {
	t.Helper()
	err := f.workspaces.Create(context.Background(), id, &orgdomain.Workspace{
		ID:             id,
		Name:           id,
		OrganizationID: orgID,
		UserID:         userID,
		CreatedAt:      f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
}

type failingAccounts struct {
	docstore.Collection[domain.BillingAccount]
	err error
}

func (f failingAccounts) List(context.Context, []docstore.Predicate, int) ([]*domain.BillingAccount, error) {
	return nil, f.err
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_1"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.BillingStatus != domain.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", first.BillingStatus)
	}
	if !first.BillingCycleStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected cycle start %s", first.BillingCycleStart)
	}

	second, err := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_1"})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}
}

func TestEnsureAccountValidatesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		req  domain.EnsureAccountRequest
		want error
	}{
		{domain.EnsureAccountRequest{Type: "TEAM", UserID: "u"}, domain.ErrInvalidAccountType},
		{domain.EnsureAccountRequest{Type: domain.AccountTypeOrg}, domain.ErrInvalidOwner},
		{domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "o", UserID: "u"}, domain.ErrInvalidOwner},
		{domain.EnsureAccountRequest{Type: domain.AccountTypePersonal, OrganizationID: "o"}, domain.ErrInvalidOwner},
	}
	for _, tc := range cases {
		if _, err := f.svc.EnsureAccount(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.req, tc.want, err)
		}
	}
}

func TestResolveOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_1"})
	personal, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypePersonal, UserID: "user_1"})
	f.workspace(t, "ws_org", "org_1", "")
	f.workspace(t, "ws_personal", "", "user_1")

	cases := []struct {
		name   string
		lookup domain.Lookup
		want   string
	}{
		{"organization", domain.Lookup{OrganizationID: "org_1", UserID: "user_1"}, org.ID},
		{"org_workspace", domain.Lookup{WorkspaceID: "ws_org", UserID: "user_1"}, org.ID},
		{"personal_workspace", domain.Lookup{WorkspaceID: "ws_personal"}, personal.ID},
		{"user", domain.Lookup{UserID: "user_1"}, personal.ID},
		{"unknown_org_falls_through", domain.Lookup{OrganizationID: "org_x", UserID: "user_1"}, personal.ID},
		{"unknown_workspace_falls_through", domain.Lookup{WorkspaceID: "ws_x", UserID: "user_1"}, personal.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.svc.Resolve(ctx, tc.lookup)
			if got == nil || got.ID != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, got)
			}
		})
	}
}

func TestResolveFailOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.svc.Resolve(ctx, domain.Lookup{UserID: "nobody"}); got != nil {
		t.Fatalf("expected nil account, got %+v", got)
	}
	if res := f.svc.ResolveDetailed(ctx, domain.Lookup{UserID: "nobody"}); res.Outcome != domain.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", res.Outcome)
	}
	if _, err := f.svc.AssertActive(ctx, domain.Lookup{UserID: "nobody"}); err != nil {
		t.Fatalf("expected AssertActive to allow missing account, got %v", err)
	}
	if _, err := f.svc.AssertNotSuspended(ctx, domain.Lookup{UserID: "nobody"}); err != nil {
		t.Fatalf("expected AssertNotSuspended to allow missing account, got %v", err)
	}
}

func TestResolveDetailedSeparatesUnavailable(t *testing.T) {
	f := newFixture(t)
	f.svc.accounts = failingAccounts{Collection: f.accounts, err: errors.New("connection reset")}

	res := f.svc.ResolveDetailed(context.Background(), domain.Lookup{UserID: "user_1"})
	if res.Outcome != domain.OutcomeUnavailable || res.Err == nil {
		t.Fatalf("expected unavailable outcome with error, got %+v", res)
	}
	if got := f.svc.Resolve(context.Background(), domain.Lookup{UserID: "user_1"}); got != nil {
		t.Fatalf("expected fail-open nil, got %+v", got)
	}
	if _, err := f.svc.AssertActive(context.Background(), domain.Lookup{UserID: "user_1"}); err != nil {
		t.Fatalf("expected guard to fail open, got %v", err)
	}
}

func TestWorkspaceOwnerIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.workspace(t, "ws_1", "org_1", "")

	if _, err := f.svc.WorkspaceOwner(ctx, "ws_1"); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if err := f.workspaces.Delete(ctx, "ws_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	owner, err := f.svc.WorkspaceOwner(ctx, "ws_1")
	if err != nil || owner == nil || owner.OrganizationID != "org_1" {
		t.Fatalf("expected cached owner, got %+v err=%v", owner, err)
	}
}

func TestGuardsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_1"})
	lookup := domain.Lookup{OrganizationID: "org_1"}

	if _, err := f.svc.AssertActive(ctx, lookup); err != nil {
		t.Fatalf("active account should pass: %v", err)
	}

	if _, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusDue); err != nil {
		t.Fatalf("to DUE: %v", err)
	}
	if _, err := f.svc.AssertActive(ctx, lookup); !errors.Is(err, domain.ErrBillingDue) {
		t.Fatalf("expected BILLING_DUE, got %v", err)
	}
	if _, err := f.svc.AssertNotSuspended(ctx, lookup); err != nil {
		t.Fatalf("DUE should pass AssertNotSuspended: %v", err)
	}

	if _, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusSuspended); err != nil {
		t.Fatalf("to SUSPENDED: %v", err)
	}
	_, err := f.svc.AssertNotSuspended(ctx, lookup)
	be, ok := domain.AsBillingError(err)
	if !ok || be.Code != domain.CodeBillingSuspended || be.AccountID != account.ID || be.Status != domain.StatusSuspended {
		t.Fatalf("expected BILLING_SUSPENDED carrying account context, got %v", err)
	}
}

func TestTransitionStatusStampsFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypePersonal, UserID: "user_1"})

	if _, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusSuspended); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ACTIVE -> SUSPENDED to be rejected, got %v", err)
	}

	due, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusDue)
	if err != nil {
		t.Fatalf("to DUE: %v", err)
	}
	wantGrace := f.clock.Now().Add(72 * time.Hour)
	if due.GracePeriodEnd == nil || !due.GracePeriodEnd.Equal(wantGrace) {
		t.Fatalf("expected grace period end %s, got %v", wantGrace, due.GracePeriodEnd)
	}

	f.clock.Advance(80 * time.Hour)
	suspended, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusSuspended)
	if err != nil {
		t.Fatalf("to SUSPENDED: %v", err)
	}
	if suspended.GracePeriodEnd != nil || suspended.SuspendedAt == nil {
		t.Fatalf("expected suspension to clear grace and stamp suspended_at, got %+v", suspended)
	}

	f.clock.Advance(time.Hour)
	restored, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusActive)
	if err != nil {
		t.Fatalf("to ACTIVE: %v", err)
	}
	if restored.RestoredAt == nil || !restored.RestoredAt.Equal(f.clock.Now()) {
		t.Fatalf("expected restored_at to be stamped, got %v", restored.RestoredAt)
	}

	same, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusActive)
	if err != nil || same.BillingStatus != domain.StatusActive {
		t.Fatalf("expected self-transition no-op, got %+v err=%v", same, err)
	}
}

func TestRepeatedSuspensionKeepsEveryWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_repeat"})

	suspend := func() *domain.BillingAccount {
		t.Helper()
		if _, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusDue); err != nil {
			t.Fatalf("to DUE: %v", err)
		}
		f.clock.Advance(73 * time.Hour)
		suspended, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusSuspended)
		if err != nil {
			t.Fatalf("to SUSPENDED: %v", err)
		}
		return suspended
	}

	first := suspend()
	firstAt := *first.SuspendedAt
	f.clock.Advance(2 * time.Hour)
	restoredAt := f.clock.Now()
	if _, err := f.svc.TransitionStatus(ctx, account.ID, domain.StatusActive); err != nil {
		t.Fatalf("to ACTIVE: %v", err)
	}

	f.clock.Advance(24 * time.Hour)
	second := suspend()
	if second.RestoredAt != nil {
		t.Fatalf("expected a new suspension to clear restored_at, got %v", second.RestoredAt)
	}

	windows := second.SuspensionHistory()
	if len(windows) != 2 {
		t.Fatalf("expected 2 suspension windows, got %d: %+v", len(windows), windows)
	}
	if !windows[0].SuspendedAt.Equal(firstAt) || windows[0].RestoredAt == nil || !windows[0].RestoredAt.Equal(restoredAt) {
		t.Fatalf("expected the first window to stay closed, got %+v", windows[0])
	}
	if !windows[1].SuspendedAt.Equal(*second.SuspendedAt) || windows[1].RestoredAt != nil {
		t.Fatalf("expected the second window to be open, got %+v", windows[1])
	}
}

func TestTransitionStatusMissingAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.TransitionStatus(context.Background(), "ba_org_missing", domain.StatusDue); !errors.Is(err, domain.ErrBillingNotFound) {
		t.Fatalf("expected BILLING_NOT_FOUND, got %v", err)
	}
}

func TestExpireGracePeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_expired"})
	if _, err := f.svc.TransitionStatus(ctx, expired.ID, domain.StatusDue); err != nil {
		t.Fatalf("to DUE: %v", err)
	}

	f.clock.Advance(48 * time.Hour)
	fresh, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_fresh"})
	if _, err := f.svc.TransitionStatus(ctx, fresh.ID, domain.StatusDue); err != nil {
		t.Fatalf("to DUE: %v", err)
	}

	f.clock.Advance(25 * time.Hour)
	count, err := f.svc.ExpireGracePeriods(ctx, 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 suspension, got %d", count)
	}

	got, _ := f.svc.Get(ctx, expired.ID)
	if got.BillingStatus != domain.StatusSuspended {
		t.Fatalf("expected expired account to be suspended, got %s", got.BillingStatus)
	}
	got, _ = f.svc.Get(ctx, fresh.ID)
	if got.BillingStatus != domain.StatusDue {
		t.Fatalf("expected fresh account to stay DUE, got %s", got.BillingStatus)
	}
}

func TestListWorkspaceIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.workspace(t, "ws_a", "org_1", "")
	f.workspace(t, "ws_b", "org_1", "")
	f.workspace(t, "ws_c", "", "user_1")
	f.workspace(t, "ws_d", "org_2", "user_1")

	org, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypeOrg, OrganizationID: "org_1"})
	personal, _ := f.svc.EnsureAccount(ctx, domain.EnsureAccountRequest{Type: domain.AccountTypePersonal, UserID: "user_1"})

	orgWorkspaces, err := f.svc.ListWorkspaceIDs(ctx, org)
	if err != nil || len(orgWorkspaces) != 2 {
		t.Fatalf("expected 2 org workspaces, got %d err=%v", len(orgWorkspaces), err)
	}
	personalWorkspaces, err := f.svc.ListWorkspaceIDs(ctx, personal)
	if err != nil || len(personalWorkspaces) != 1 || personalWorkspaces[0] != "ws_c" {
		t.Fatalf("expected only ws_c, got %v err=%v", personalWorkspaces, err)
	}
}

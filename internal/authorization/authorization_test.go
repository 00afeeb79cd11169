package authorization

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, store *backend.Backend) *ServiceImpl {
	t.Helper()
	enforcer, err := NewEnforcer(store)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer}).(*ServiceImpl)
}

func TestOwnerHasEveryOwnerCapability(t *testing.T) {
	svc := newTestService(t, nil)
	missing, err := svc.MissingCapabilities(context.Background(), Subject("usr_1"), "org_1", "OWNER", OwnerCapabilities)
	if err != nil {
		t.Fatalf("missing capabilities: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("owner should hold every capability, missing %v", missing)
	}
}

func TestMemberIsReadOnly(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	if err := svc.Authorize(ctx, Subject("usr_2"), "org_1", "MEMBER", ObjectWorkspace, ActionView); err != nil {
		t.Fatalf("member should view workspaces: %v", err)
	}
	if err := svc.Authorize(ctx, Subject("usr_2"), "org_1", "MEMBER", ObjectBilling, ActionManage); err != ErrForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRoleChangeRebindsSubject(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	if err := svc.Authorize(ctx, Subject("usr_3"), "org_1", "OWNER", ObjectMembers, ActionManage); err != nil {
		t.Fatalf("owner should manage members: %v", err)
	}
	if err := svc.Authorize(ctx, Subject("usr_3"), "org_1", "MEMBER", ObjectMembers, ActionManage); err != ErrForbidden {
		t.Fatalf("demoted member must lose the owner role, got %v", err)
	}
}

func TestRemovedOwnerPolicyIsReported(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.enforcer.RemovePolicy("role:owner", ObjectBilling, ActionManage); err != nil {
		t.Fatalf("remove policy: %v", err)
	}
	missing, err := svc.MissingCapabilities(context.Background(), Subject("usr_1"), "org_1", "OWNER", OwnerCapabilities)
	if err != nil {
		t.Fatalf("missing capabilities: %v", err)
	}
	if len(missing) != 1 || missing[0] != (Capability{ObjectBilling, ActionManage}) {
		t.Fatalf("expected billing.manage to be missing, got %v", missing)
	}
}

func TestEnforcerPersistsThroughGormAdapter(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:authz_gorm?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store := backend.NewSQL(db)
	newTestService(t, store)
	// A second enforcer loads the seeded rules instead of duplicating them.
	svc := newTestService(t, store)

	var count int64
	if err := db.Table("casbin_rule").Where("ptype = ?", "p").Count(&count).Error; err != nil {
		t.Fatalf("count rules: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected persisted policies")
	}
	if err := svc.Authorize(context.Background(), Subject("usr_1"), "org_1", "ADMIN", ObjectMembers, ActionManage); err != nil {
		t.Fatalf("admin should manage members: %v", err)
	}
}

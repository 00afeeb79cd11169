package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	accountsvc "github.com/smallbiznis/billingguard/internal/billingaccount/service"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	"github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	billing  accountdomain.Service
	clock    *clock.FakeClock
	recorder *checker.MemoryRecorder
	store    *backend.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.BillingAccount{},
		&orgdomain.Workspace{},
		&domain.UsageEvent{},
		&domain.UsageAggregation{},
	))

	clk := clock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	store := backend.NewSQL(db)
	billing := accountsvc.NewService(accountsvc.ServiceParam{
		Store:  store,
		Log:    zap.NewNop(),
		Clock:  clk,
		Policy: config.StaticPolicy(config.DefaultBillingPolicy()),
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	recorder := checker.NewMemoryRecorder()

	svc := newService(
		backend.Collection[domain.UsageEvent](store),
		backend.Collection[domain.UsageAggregation](store),
		billing,
		checker.New(invdomain.ModeStrict, recorder, clk),
		node,
		clk,
		zap.NewNop(),
	)
	return &fixture{svc: svc, billing: billing, clock: clk, recorder: recorder, store: store}
}

func (f *fixture) orgWorkspace(t *testing.T, workspaceID, orgID string) {
	t.Helper()
	err := backend.Collection[orgdomain.Workspace](f.store).Create(context.Background(), workspaceID, &orgdomain.Workspace{
		ID:             workspaceID,
		Name:           workspaceID,
		OrganizationID: orgID,
		UserID:         "usr_owner",
		CreatedAt:      f.clock.Now(),
	})
	require.NoError(t, err)
}

func (f *fixture) orgAccount(t *testing.T, orgID string) *accountdomain.BillingAccount {
	t.Helper()
	account, err := f.billing.EnsureAccount(context.Background(), accountdomain.EnsureAccountRequest{
		Type:           accountdomain.AccountTypeOrg,
		OrganizationID: orgID,
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) update(t *testing.T, accountID string, fields map[string]any) {
	t.Helper()
	require.NoError(t, backend.Collection[accountdomain.BillingAccount](f.store).Update(context.Background(), accountID, fields))
}

func traffic(workspaceID string, units float64, ts time.Time) domain.RecordUsageRequest {
	return domain.RecordUsageRequest{
		WorkspaceID:  workspaceID,
		ResourceType: domain.ResourceTraffic,
		Units:        units,
		Timestamp:    ts,
	}
}

func TestRecordStoresEventForActiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orgWorkspace(t, "ws_1", "org_1")
	f.orgAccount(t, "org_1")

	ts := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	event, err := f.svc.Record(ctx, traffic("ws_1", 1024, ts))
	require.NoError(t, err)
	assert.Equal(t, "org_1", event.BillingEntityID)
	assert.True(t, event.Timestamp.Equal(ts))
	assert.Nil(t, event.OriginalTimestamp)

	events, err := f.svc.ListEvents(ctx, domain.ListEventsRequest{BillingEntityID: "org_1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestRecordAllowsDueAccount(t *testing.T) {
	f := newFixture(t)
	f.orgWorkspace(t, "ws_1", "org_1")
	account := f.orgAccount(t, "org_1")
	_, err := f.billing.TransitionStatus(context.Background(), account.ID, accountdomain.StatusDue)
	require.NoError(t, err)

	_, err = f.svc.Record(context.Background(), traffic("ws_1", 1, time.Time{}))
	require.NoError(t, err)
}

func TestRecordBlockedWhenSuspended(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orgWorkspace(t, "ws_1", "org_1")
	account := f.orgAccount(t, "org_1")
	_, err := f.billing.TransitionStatus(ctx, account.ID, accountdomain.StatusDue)
	require.NoError(t, err)
	_, err = f.billing.TransitionStatus(ctx, account.ID, accountdomain.StatusSuspended)
	require.NoError(t, err)

	_, err = f.svc.Record(ctx, traffic("ws_1", 1, time.Time{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, accountdomain.ErrUsageWriteBlocked))
	assert.True(t, errors.Is(err, accountdomain.ErrBillingSuspended))

	be, ok := accountdomain.AsBillingError(err)
	require.True(t, ok)
	assert.Equal(t, account.ID, be.AccountID)

	events, err := f.svc.ListEvents(ctx, domain.ListEventsRequest{WorkspaceID: "ws_1"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordBlockedWhenCycleLocked(t *testing.T) {
	f := newFixture(t)
	f.orgWorkspace(t, "ws_1", "org_1")
	account := f.orgAccount(t, "org_1")
	f.update(t, account.ID, map[string]any{"is_billing_cycle_locked": true})

	_, err := f.svc.Record(context.Background(), traffic("ws_1", 1, time.Time{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, accountdomain.ErrUsageWriteBlocked))
	assert.True(t, errors.Is(err, accountdomain.ErrBillingCycleLocked))
}

func TestRecordWithoutAccountUsesWorkspaceOwner(t *testing.T) {
	f := newFixture(t)
	f.orgWorkspace(t, "ws_1", "org_9")

	event, err := f.svc.Record(context.Background(), traffic("ws_1", 5, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, "org_9", event.BillingEntityID)
	assert.True(t, event.Timestamp.Equal(f.clock.Now()))
}

func TestRecordClampsFutureEvent(t *testing.T) {
	f := newFixture(t)
	f.orgWorkspace(t, "ws_1", "org_1")
	f.orgAccount(t, "org_1")

	future := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	event, err := f.svc.Record(context.Background(), traffic("ws_1", 5, future))
	require.NoError(t, err)
	assert.True(t, event.Timestamp.Equal(f.clock.Now()))
	require.NotNil(t, event.OriginalTimestamp)
	assert.True(t, event.OriginalTimestamp.Equal(future))
	assert.Equal(t, domain.AdjustReasonFutureEvent, event.AdjustReason)
}

func TestRecordValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, traffic("", 1, time.Time{}))
	assert.ErrorIs(t, err, domain.ErrInvalidWorkspace)

	_, err = f.svc.Record(ctx, domain.RecordUsageRequest{WorkspaceID: "ws_1", ResourceType: "GPU", Units: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidResourceType)

	_, err = f.svc.Record(ctx, traffic("ws_1", -1, time.Time{}))
	assert.ErrorIs(t, err, domain.ErrInvalidUnits)
}

func TestRebuildAndFinalizeAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orgWorkspace(t, "ws_1", "org_1")
	account := f.orgAccount(t, "org_1")

	for _, day := range []int{3, 9} {
		_, err := f.svc.Record(ctx, traffic("ws_1", 1<<30, time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, err)
	}

	req := domain.RebuildAggregationRequest{
		WorkspaceID:      "ws_1",
		BillingAccountID: account.ID,
		PeriodStart:      account.BillingCycleStart,
		PeriodEnd:        account.BillingCycleEnd,
	}
	agg, err := f.svc.RebuildAggregation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2.0, agg.TrafficTotalGB)
	assert.Equal(t, 2, agg.EventCount)

	_, err = f.svc.Record(ctx, traffic("ws_1", 1<<30, time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	agg, err = f.svc.RebuildAggregation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3.0, agg.TrafficTotalGB)

	finalized, err := f.svc.FinalizeAggregation(ctx, agg.ID)
	require.NoError(t, err)
	assert.True(t, finalized.IsFinalized)
	require.NotNil(t, finalized.FinalizedAt)

	again, err := f.svc.FinalizeAggregation(ctx, agg.ID)
	require.NoError(t, err)
	assert.True(t, again.FinalizedAt.Equal(*finalized.FinalizedAt))

	_, err = f.svc.RebuildAggregation(ctx, req)
	require.Error(t, err)
	v, ok := invdomain.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, invdomain.AggregationFinalized, v.Invariant)
	assert.True(t, f.recorder.Has(invdomain.AggregationFinalized))
}

func TestFinalizeMissingAggregation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FinalizeAggregation(context.Background(), "agg_missing")
	assert.ErrorIs(t, err, domain.ErrAggregationNotFound)
}


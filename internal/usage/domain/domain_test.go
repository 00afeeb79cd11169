package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

func lockedJanuary() *accountdomain.BillingAccount {
	return &accountdomain.BillingAccount{
		ID:                   "ba_org_org_1",
		BillingCycleStart:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BillingCycleEnd:      time.Date(2024, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		IsBillingCycleLocked: true,
	}
}

func TestAdjustLateEventRollsForward(t *testing.T) {
	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	late := time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)

	adj := AdjustEventForLockedCycle(late, lockedJanuary(), now)
	if !adj.WasAdjusted || adj.AdjustReason != AdjustReasonLateEvent {
		t.Fatalf("expected late event adjustment, got %+v", adj)
	}
	if got := adj.Timestamp.Format("2006-01-02T15:04:05.000Z"); got != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("unexpected timestamp %s", got)
	}
}

func TestAdjustFutureEventClampsToNow(t *testing.T) {
	now := time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)
	account := lockedJanuary()
	account.IsBillingCycleLocked = false

	adj := AdjustEventForLockedCycle(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), account, now)
	if !adj.WasAdjusted || adj.AdjustReason != AdjustReasonFutureEvent || !adj.Timestamp.Equal(now) {
		t.Fatalf("expected clamp to now, got %+v", adj)
	}
}

func TestAdjustLeavesInWindowEventsAlone(t *testing.T) {
	now := time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	for name, account := range map[string]*accountdomain.BillingAccount{
		"locked":     lockedJanuary(),
		"no account": nil,
	} {
		adj := AdjustEventForLockedCycle(ts, account, now)
		if adj.WasAdjusted || !adj.Timestamp.Equal(ts) {
			t.Fatalf("%s: expected no adjustment, got %+v", name, adj)
		}
	}

	unlocked := lockedJanuary()
	unlocked.IsBillingCycleLocked = false
	old := time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)
	if adj := AdjustEventForLockedCycle(old, unlocked, now); adj.WasAdjusted {
		t.Fatalf("unlocked cycle must keep early timestamps, got %+v", adj)
	}
}

func TestComputeTotals(t *testing.T) {
	weighted := 3.5
	totals := ComputeTotals([]*UsageEvent{
		{ResourceType: ResourceTraffic, Units: 1 << 30},
		{ResourceType: ResourceTraffic, Units: 1 << 29},
		{ResourceType: ResourceStorage, Units: 2 << 30},
		{ResourceType: ResourceStorage, Units: 4 << 30},
		{ResourceType: ResourceCompute, Units: 10, WeightedUnits: &weighted},
		{ResourceType: ResourceCompute, Units: 2},
		nil,
	})

	checks := map[string][2]decimal.Decimal{
		"traffic":         {totals.TrafficGB, decimal.RequireFromString("1.5")},
		"storage":         {totals.StorageGB, decimal.NewFromInt(6)},
		"storage average": {totals.StorageAverageGB, decimal.NewFromInt(3)},
		"compute":         {totals.ComputeUnits, decimal.RequireFromString("5.5")},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Fatalf("%s: expected %s, got %s", name, c[1], c[0])
		}
	}
	if totals.EventCount != 6 {
		t.Fatalf("expected 6 events, got %d", totals.EventCount)
	}
	if !totals.Of(ResourceCompute).Equal(totals.ComputeUnits) {
		t.Fatalf("Of(COMPUTE) should return compute units")
	}
}

func TestWithinTolerance(t *testing.T) {
	stored := decimal.NewFromInt(100)
	cases := []struct {
		recomputed string
		want       bool
	}{
		{"100", true},
		{"100.5", true},
		{"99", true},
		{"102", false},
		{"98.9", false},
	}
	for _, tc := range cases {
		got := WithinTolerance(stored, decimal.RequireFromString(tc.recomputed), 0.01)
		if got != tc.want {
			t.Fatalf("recomputed %s: expected %v, got %v", tc.recomputed, tc.want, got)
		}
	}
	if WithinTolerance(decimal.Zero, decimal.NewFromInt(1), 0.01) {
		t.Fatalf("zero stored total must not absorb recomputed usage")
	}
}

func TestAggregationIDIsStable(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := AggregationID("ws_1", start); got != "agg_ws_1_20240101" {
		t.Fatalf("unexpected id %s", got)
	}
	s, e := MonthWindow(time.Date(2024, 2, 10, 5, 0, 0, 0, time.UTC))
	if !s.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) || e.Month() != time.February || e.Day() != 29 {
		t.Fatalf("unexpected window %s - %s", s, e)
	}
}

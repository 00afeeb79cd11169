package domain

import (
	"errors"
	"testing"
	"time"
)

func TestAssertValidTransition(t *testing.T) {
	statuses := []Status{StatusActive, StatusDue, StatusSuspended}
	legal := map[[2]Status]bool{
		{StatusActive, StatusDue}:       true,
		{StatusDue, StatusActive}:       true,
		{StatusDue, StatusSuspended}:    true,
		{StatusSuspended, StatusActive}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := from == to || legal[[2]Status{from, to}]
			err := AssertValidTransition(from, to)
			if want && err != nil {
				t.Fatalf("%s -> %s: expected legal, got %v", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
		}
	}
}

func TestAssertValidTransitionRejectsUnknownStatus(t *testing.T) {
	if err := AssertValidTransition(StatusActive, Status("CLOSED")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestDeriveWarningStateBoundaries(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	cases := []struct {
		name   string
		status Status
		grace  *time.Time
		level  WarningLevel
		hours  float64
	}{
		{name: "active", status: StatusActive, level: WarningNormal},
		{name: "suspended", status: StatusSuspended, level: WarningSuspended},
		{name: "due_13h", status: StatusDue, grace: at(13 * time.Hour), level: WarningWarning, hours: 13},
		{name: "due_12h", status: StatusDue, grace: at(12 * time.Hour), level: WarningCritical, hours: 12},
		{name: "due_expired", status: StatusDue, grace: at(-time.Hour), level: WarningCritical, hours: 0},
		{name: "due_48h", status: StatusDue, grace: at(48 * time.Hour), level: WarningWarning, hours: 48},
		{name: "due_72h", status: StatusDue, grace: at(72 * time.Hour), level: WarningWarning, hours: 72},
		{name: "due_without_grace", status: StatusDue, level: WarningCritical, hours: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveWarningState(tc.status, tc.grace, now, DefaultCriticalHours)
			if got.Level != tc.level {
				t.Fatalf("expected level %s, got %s", tc.level, got.Level)
			}
			if got.HoursRemaining != tc.hours {
				t.Fatalf("expected %v hours remaining, got %v", tc.hours, got.HoursRemaining)
			}
			if got.Dismissible {
				t.Fatalf("warning banners must not be dismissible")
			}
			if got.ShowBanner != (tc.level != WarningNormal) {
				t.Fatalf("unexpected banner visibility %v for %s", got.ShowBanner, tc.level)
			}
		})
	}
}

func TestWarningStateForMissingAccount(t *testing.T) {
	if got := WarningStateFor(nil, time.Now(), 0); got.Level != WarningNormal || got.ShowBanner {
		t.Fatalf("expected NORMAL without banner, got %+v", got)
	}
}

func TestCycleWindow(t *testing.T) {
	start, end := CycleWindow(time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC))
	if !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if !end.Equal(time.Date(2024, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}

	nextStart, nextEnd := NextCycleWindow(start)
	if !nextStart.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next start %s", nextStart)
	}
	if nextEnd.Day() != 29 {
		t.Fatalf("expected leap-year february to end on the 29th, got %s", nextEnd)
	}
}

func TestBillingErrorMatching(t *testing.T) {
	account := &BillingAccount{ID: "ba_org_1", BillingStatus: StatusSuspended}
	cause := NewBillingError(CodeBillingSuspended, account)
	blocked := UsageWriteBlocked(cause)

	if !errors.Is(blocked, ErrUsageWriteBlocked) {
		t.Fatalf("expected blocked write to match ErrUsageWriteBlocked")
	}
	if !errors.Is(blocked, ErrBillingSuspended) {
		t.Fatalf("expected blocked write to match its cause")
	}
	if errors.Is(blocked, ErrBillingDue) {
		t.Fatalf("did not expect blocked write to match ErrBillingDue")
	}
	if blocked.AccountID != "ba_org_1" || blocked.Status != StatusSuspended {
		t.Fatalf("expected account context to be carried, got %+v", blocked)
	}
}

func TestHasValidOwner(t *testing.T) {
	cases := []struct {
		account BillingAccount
		want    bool
	}{
		{BillingAccount{Type: AccountTypeOrg, OrganizationID: "o"}, true},
		{BillingAccount{Type: AccountTypeOrg, OrganizationID: "o", UserID: "u"}, false},
		{BillingAccount{Type: AccountTypePersonal, UserID: "u"}, true},
		{BillingAccount{Type: AccountTypePersonal, OrganizationID: "o"}, false},
		{BillingAccount{Type: "TEAM", UserID: "u"}, false},
	}
	for _, tc := range cases {
		if got := tc.account.HasValidOwner(); got != tc.want {
			t.Fatalf("%+v: expected %v, got %v", tc.account, tc.want, got)
		}
	}
}

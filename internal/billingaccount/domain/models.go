// Package domain contains the billing account model, its status machine and
// the errors raised by the billing guards.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type AccountType string

const (
	AccountTypePersonal AccountType = "PERSONAL"
	AccountTypeOrg      AccountType = "ORG"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusDue       Status = "DUE"
	StatusSuspended Status = "SUSPENDED"
)

// BillingAccount is the billable entity for one user or one organization.
type BillingAccount struct {
	ID             string      `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	Type           AccountType `gorm:"type:text;not null" firestore:"type" json:"type"`
	UserID         string      `gorm:"type:text;index" firestore:"user_id" json:"user_id,omitempty"`
	OrganizationID string      `gorm:"type:text;index" firestore:"organization_id" json:"organization_id,omitempty"`
	BillingStatus  Status      `gorm:"type:text;not null;index" firestore:"billing_status" json:"billing_status"`

	BillingCycleStart     time.Time  `gorm:"not null" firestore:"billing_cycle_start" json:"billing_cycle_start"`
	BillingCycleEnd       time.Time  `gorm:"not null;index" firestore:"billing_cycle_end" json:"billing_cycle_end"`
	IsBillingCycleLocked  bool       `gorm:"not null;default:false" firestore:"is_billing_cycle_locked" json:"is_billing_cycle_locked"`
	BillingCycleLockedAt  *time.Time `firestore:"billing_cycle_locked_at" json:"billing_cycle_locked_at,omitempty"`
	BillingCycleLockToken string     `gorm:"type:text" firestore:"billing_cycle_lock_token" json:"-"`

	GracePeriodEnd *time.Time `gorm:"index" firestore:"grace_period_end" json:"grace_period_end,omitempty"`
	SuspendedAt    *time.Time `firestore:"suspended_at" json:"suspended_at,omitempty"`
	RestoredAt     *time.Time `firestore:"restored_at" json:"restored_at,omitempty"`

	SuspensionWindows datatypes.JSONSlice[SuspensionWindow] `firestore:"suspension_windows" json:"suspension_windows,omitempty"`

	CreatedAt time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" firestore:"updated_at" json:"updated_at"`
}

// SuspensionWindow is one period the account spent suspended. RestoredAt is
// nil while the suspension is still open.
type SuspensionWindow struct {
	SuspendedAt time.Time  `firestore:"suspended_at" json:"suspended_at"`
	RestoredAt  *time.Time `firestore:"restored_at" json:"restored_at,omitempty"`
}

// TableName sets the database table name.
func (BillingAccount) TableName() string { return "billing_accounts" }

func (a BillingAccount) DocumentID() string { return a.ID }

// OwnerID returns the organization id for ORG accounts and the user id for
// PERSONAL accounts. Usage events carry it as their billing entity.
func (a BillingAccount) OwnerID() string {
	if a.Type == AccountTypeOrg {
		return a.OrganizationID
	}
	return a.UserID
}

// SuspensionHistory returns every suspension window, oldest first. Accounts
// suspended before windows were recorded yield the single window described by
// SuspendedAt and RestoredAt.
func (a BillingAccount) SuspensionHistory() []SuspensionWindow {
	if len(a.SuspensionWindows) > 0 {
		return append([]SuspensionWindow(nil), a.SuspensionWindows...)
	}
	if a.SuspendedAt == nil {
		return nil
	}
	w := SuspensionWindow{SuspendedAt: a.SuspendedAt.UTC()}
	if a.RestoredAt != nil && a.RestoredAt.After(*a.SuspendedAt) {
		restored := a.RestoredAt.UTC()
		w.RestoredAt = &restored
	}
	return []SuspensionWindow{w}
}

// HasValidOwner reports whether exactly one owner field is set and it agrees
// with Type.
func (a BillingAccount) HasValidOwner() bool {
	switch a.Type {
	case AccountTypeOrg:
		return a.OrganizationID != "" && a.UserID == ""
	case AccountTypePersonal:
		return a.UserID != "" && a.OrganizationID == ""
	default:
		return false
	}
}

// AccountID derives the document id for an owner so concurrent creation of
// the same account converges on one document.
func AccountID(accountType AccountType, ownerID string) string {
	return "ba_" + strings.ToLower(string(accountType)) + "_" + ownerID
}

// Lookup identifies the entity whose billing account is requested. Resolution
// tries OrganizationID, then WorkspaceID, then UserID.
type Lookup struct {
	UserID         string `form:"user_id" json:"user_id"`
	OrganizationID string `form:"organization_id" json:"organization_id"`
	WorkspaceID    string `form:"workspace_id" json:"workspace_id"`
}

func (l Lookup) IsEmpty() bool {
	return l.UserID == "" && l.OrganizationID == "" && l.WorkspaceID == ""
}

// Owner is the billable entity behind a workspace.
type Owner struct {
	OrganizationID string
	UserID         string
}

func (o Owner) EntityID() string {
	if o.OrganizationID != "" {
		return o.OrganizationID
	}
	return o.UserID
}

type ResolutionOutcome string

const (
	OutcomeFound       ResolutionOutcome = "found"
	OutcomeNotFound    ResolutionOutcome = "not_found"
	OutcomeUnavailable ResolutionOutcome = "unavailable"
)

// Resolution separates "no account" from "store unavailable", which Resolve
// collapses into a nil account.
type Resolution struct {
	Account *BillingAccount   `json:"account,omitempty"`
	Outcome ResolutionOutcome `json:"outcome"`
	Err     error             `json:"-"`
}

// CycleWindow returns the calendar month containing t in UTC. The end is the
// last millisecond of the month.
func CycleWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0).Add(-time.Millisecond)
}

// NextCycleWindow returns the window following the one that starts at start.
func NextCycleWindow(start time.Time) (time.Time, time.Time) {
	return CycleWindow(start.UTC().AddDate(0, 1, 0))
}

// Package domain contains the invoice model. An invoice bills exactly one
// usage aggregation snapshot.
package domain

import (
	"time"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "DRAFT"
	InvoiceStatusOpen  InvoiceStatus = "OPEN"
	InvoiceStatusPaid  InvoiceStatus = "PAID"
	InvoiceStatusVoid  InvoiceStatus = "VOID"
)

var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft: {InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusOpen:  {InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusPaid:  {},
	InvoiceStatusVoid:  {},
}

func (s InvoiceStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to InvoiceStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Invoice represents a generated invoice.
type Invoice struct {
	ID                    string        `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	BillingAccountID      string        `gorm:"type:text;not null;index" firestore:"billing_account_id" json:"billing_account_id"`
	WorkspaceID           string        `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	AggregationSnapshotID string        `gorm:"type:text;not null;uniqueIndex" firestore:"aggregation_snapshot_id" json:"aggregation_snapshot_id"`
	Status                InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'" firestore:"status" json:"status"`
	PeriodStart           time.Time     `gorm:"not null" firestore:"period_start" json:"period_start"`
	PeriodEnd             time.Time     `gorm:"not null" firestore:"period_end" json:"period_end"`
	IssuedAt              *time.Time    `firestore:"issued_at" json:"issued_at,omitempty"`
	PaidAt                *time.Time    `firestore:"paid_at" json:"paid_at,omitempty"`
	VoidedAt              *time.Time    `firestore:"voided_at" json:"voided_at,omitempty"`
	CreatedAt             time.Time     `gorm:"not null" firestore:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"not null" firestore:"updated_at" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

func (i Invoice) DocumentID() string { return i.ID }

// InvoiceID is derived from the aggregation so one snapshot yields at most
// one invoice.
func InvoiceID(aggregationID string) string {
	return "inv_" + aggregationID
}

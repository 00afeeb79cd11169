// Package domain defines invariant identifiers, violations and audit reports.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Mode decides what CheckInvariant does with a failed condition.
type Mode string

const (
	// ModeStrict returns the violation to the caller.
	ModeStrict Mode = "strict"
	// ModePermissive records the violation and lets the caller continue.
	ModePermissive Mode = "permissive"
)

// ParseMode maps a configuration value onto a Mode. Unknown values are strict.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModePermissive)) {
		return ModePermissive
	}
	return ModeStrict
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Name identifies an invariant.
type Name string

const (
	InvoiceUsageImmutable      Name = "INVOICE_USAGE_IMMUTABLE"
	UsageDuringSuspension      Name = "USAGE_DURING_SUSPENSION"
	AggregationFinalized       Name = "AGGREGATION_FINALIZED"
	AggregationSourceMismatch  Name = "AGGREGATION_SOURCE_MISMATCH"
	CycleLockInconsistent      Name = "BILLING_CYCLE_LOCK_INCONSISTENT"
	StaleCycleLock             Name = "STALE_CYCLE_LOCK"
	AccountOwnerMismatch       Name = "ACCOUNT_OWNER_MISMATCH"
	OrgMustHaveOwner           Name = "ORG_MUST_HAVE_OWNER"
	LastOwnerRemoval           Name = "LAST_OWNER_REMOVAL"
	WorkspaceMemberOrgMismatch Name = "WORKSPACE_MEMBER_ORG_MISMATCH"
	ProjectTeamBoundary        Name = "PROJECT_TEAM_BOUNDARY"
	OwnerAccessBlocked         Name = "OWNER_ACCESS_BLOCKED"
)

var criticalInvariants = map[Name]struct{}{
	InvoiceUsageImmutable: {},
	UsageDuringSuspension: {},
	AggregationFinalized:  {},
	OrgMustHaveOwner:      {},
	OwnerAccessBlocked:    {},
}

// SeverityOf returns the default severity for an invariant.
func SeverityOf(name Name) Severity {
	if _, ok := criticalInvariants[name]; ok {
		return SeverityCritical
	}
	return SeverityWarning
}

// ErrViolation matches every *Violation through errors.Is.
var ErrViolation = errors.New("invariant_violation")

// Violation is a failed invariant with structured diagnostic context.
type Violation struct {
	Invariant  Name           `json:"invariant"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", v.Invariant, v.Message)
}

func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// AsViolation extracts a violation from err.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// ViolationRecord is the persisted form of a violation.
type ViolationRecord struct {
	ID         string            `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	Invariant  string            `gorm:"type:text;not null;index" firestore:"invariant" json:"invariant"`
	Severity   string            `gorm:"type:text;not null" firestore:"severity" json:"severity"`
	Message    string            `gorm:"type:text;not null" firestore:"message" json:"message"`
	Context    datatypes.JSONMap `gorm:"type:json" firestore:"context" json:"context"`
	Mode       string            `gorm:"type:text;not null" firestore:"mode" json:"mode"`
	DetectedAt time.Time         `gorm:"not null;index" firestore:"detected_at" json:"detected_at"`
}

// TableName sets the database table name.
func (ViolationRecord) TableName() string { return "invariant_violations" }

func (r ViolationRecord) DocumentID() string { return r.ID }

// CheckResult is one named check inside a Report.
type CheckResult struct {
	Name      string     `json:"name"`
	AccountID string     `json:"account_id,omitempty"`
	Passed    bool       `json:"passed"`
	Violation *Violation `json:"violation,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Report is the outcome of a batch audit over billing accounts.
type Report struct {
	AllPassed   bool          `json:"all_passed"`
	Results     []CheckResult `json:"results"`
	GeneratedAt time.Time     `json:"generated_at"`
}

func NewReport(at time.Time) Report {
	return Report{AllPassed: true, Results: []CheckResult{}, GeneratedAt: at}
}

// Add appends r and keeps AllPassed current.
func (rep *Report) Add(r CheckResult) {
	rep.Results = append(rep.Results, r)
	if !r.Passed {
		rep.AllPassed = false
	}
}

// Violations returns the violations carried by failed results.
func (rep Report) Violations() []*Violation {
	var out []*Violation
	for _, r := range rep.Results {
		if r.Violation != nil {
			out = append(out, r.Violation)
		}
	}
	return out
}

package domain

import (
	"context"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

// Service runs the out-of-band billing audits. Checks report what they find
// and never block a write.
type Service interface {
	CheckInvoiceUsage(ctx context.Context, account *accountdomain.BillingAccount) ([]CheckResult, error)
	CheckUsageDuringSuspension(ctx context.Context, account *accountdomain.BillingAccount) (CheckResult, error)
	ReconcileAggregation(ctx context.Context, aggregationID string) (Reconciliation, error)
	CheckCycleLock(ctx context.Context, account *accountdomain.BillingAccount) []CheckResult
	CheckAccountOwner(ctx context.Context, account *accountdomain.BillingAccount) CheckResult

	AuditAccount(ctx context.Context, accountID string) (Report, error)
	AuditAccounts(ctx context.Context, limit int) (Report, error)
}

// MetricComparison is one stored total set against its recomputation.
type MetricComparison struct {
	Metric        string  `json:"metric"`
	Stored        float64 `json:"stored"`
	Recomputed    float64 `json:"recomputed"`
	Difference    float64 `json:"difference"`
	MaxDifference float64 `json:"max_difference"`
	Matches       bool    `json:"matches"`
}

type Reconciliation struct {
	AggregationID string             `json:"aggregation_id"`
	Matches       bool               `json:"matches"`
	Tolerance     float64            `json:"tolerance"`
	Metrics       []MetricComparison `json:"metrics"`
	Violation     *Violation         `json:"violation,omitempty"`
}

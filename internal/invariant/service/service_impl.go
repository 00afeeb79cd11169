package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	"github.com/smallbiznis/billingguard/internal/invariant/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	checkInvoiceUsage    = "invoice_usage_immutable"
	checkSuspensionUsage = "no_usage_during_suspension"
	checkReconciliation  = "aggregation_reconciliation"
	checkCycleLock       = "cycle_lock_consistency"
	checkStaleLock       = "stale_cycle_lock"
	checkAccountOwner    = "account_owner"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  config.PolicyProvider
	Checker *checker.Checker
	Billing accountdomain.Service
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	policy  config.PolicyProvider
	checker *checker.Checker
	billing accountdomain.Service

	events       docstore.Collection[usagedomain.UsageEvent]
	aggregations docstore.Collection[usagedomain.UsageAggregation]
	invoices     docstore.Collection[invoicedomain.Invoice]
}

func NewService(p ServiceParam) domain.Service {
	return newService(
		backend.Collection[usagedomain.UsageEvent](p.Store),
		backend.Collection[usagedomain.UsageAggregation](p.Store),
		backend.Collection[invoicedomain.Invoice](p.Store),
		p.Billing,
		p.Checker,
		p.Policy,
		p.Clock,
		p.Log,
	)
}

func newService(
	events docstore.Collection[usagedomain.UsageEvent],
	aggregations docstore.Collection[usagedomain.UsageAggregation],
	invoices docstore.Collection[invoicedomain.Invoice],
	billing accountdomain.Service,
	chk *checker.Checker,
	policy config.PolicyProvider,
	clk clock.Clock,
	log *zap.Logger,
) *Service {
	return &Service{
		log:          log.Named("invariant.service"),
		clock:        clk,
		policy:       policy,
		checker:      chk,
		billing:      billing,
		events:       events,
		aggregations: aggregations,
		invoices:     invoices,
	}
}

// CheckInvoiceUsage verifies that every invoice of the account references a
// finalized aggregation.
func (s *Service) CheckInvoiceUsage(ctx context.Context, account *accountdomain.BillingAccount) ([]domain.CheckResult, error) {
	invoices, err := s.invoices.List(ctx, []docstore.Predicate{
		docstore.Equal("billing_account_id", account.ID),
	}, 0)
	if err != nil {
		return nil, err
	}

	results := make([]domain.CheckResult, 0, len(invoices))
	for _, inv := range invoices {
		finalized := false
		if inv.AggregationSnapshotID != "" {
			agg, err := s.aggregations.Get(ctx, inv.AggregationSnapshotID)
			if err != nil {
				return nil, err
			}
			finalized = agg != nil && agg.IsFinalized
		}
		v := s.checker.Evaluate(ctx, inv.AggregationSnapshotID != "" && finalized, domain.InvoiceUsageImmutable, func() string {
			if inv.AggregationSnapshotID == "" {
				return fmt.Sprintf("invoice %s (%s) does not reference a usage aggregation", inv.ID, inv.Status)
			}
			return fmt.Sprintf("invoice %s (%s) references non-finalized aggregation %s", inv.ID, inv.Status, inv.AggregationSnapshotID)
		}, map[string]any{
			"billing_account_id":      account.ID,
			"invoice_id":              inv.ID,
			"invoice_status":          string(inv.Status),
			"aggregation_snapshot_id": inv.AggregationSnapshotID,
		})
		results = append(results, result(checkInvoiceUsage, account.ID, v))
	}
	return results, nil
}

// CheckUsageDuringSuspension looks for events attributed to the account's
// entity inside every suspension window. An open window ends now.
func (s *Service) CheckUsageDuringSuspension(ctx context.Context, account *accountdomain.BillingAccount) (domain.CheckResult, error) {
	windows := account.SuspensionHistory()
	if len(windows) == 0 {
		return domain.CheckResult{Name: checkSuspensionUsage, AccountID: account.ID, Passed: true}, nil
	}

	now := s.clock.Now().UTC()
	entityID := account.OwnerID()
	var (
		events   []*usagedomain.UsageEvent
		violated []accountdomain.SuspensionWindow
	)
	for _, w := range windows {
		found, err := s.suspensionWindowEvents(ctx, account, entityID, w, now)
		if err != nil {
			return domain.CheckResult{}, err
		}
		if len(found) > 0 {
			violated = append(violated, w)
		}
		events = append(events, found...)
	}
	events = lo.UniqBy(events, func(e *usagedomain.UsageEvent) string { return e.ID })

	v := s.checker.Evaluate(ctx, len(events) == 0, domain.UsageDuringSuspension, func() string {
		return fmt.Sprintf("%d usage events recorded while account %s was suspended", len(events), account.ID)
	}, map[string]any{
		"billing_account_id": account.ID,
		"billing_entity_id":  entityID,
		"window_count":       len(windows),
		"violated_windows": lo.Map(violated, func(w accountdomain.SuspensionWindow, _ int) string {
			return w.SuspendedAt.UTC().Format(time.RFC3339)
		}),
		"event_count": len(events),
		"event_ids":   lo.Map(lo.Slice(events, 0, 10), func(e *usagedomain.UsageEvent, _ int) string { return e.ID }),
	})
	return result(checkSuspensionUsage, account.ID, v), nil
}

func (s *Service) suspensionWindowEvents(ctx context.Context, account *accountdomain.BillingAccount, entityID string, w accountdomain.SuspensionWindow, now time.Time) ([]*usagedomain.UsageEvent, error) {
	from, to := w.SuspendedAt.UTC(), now
	if w.RestoredAt != nil {
		to = w.RestoredAt.UTC()
	}
	policy := s.policy.Policy()
	window := []docstore.Predicate{
		docstore.GreaterOrEqual("timestamp", from),
		docstore.LessOrEqual("timestamp", to),
	}

	events, err := s.events.List(ctx, append([]docstore.Predicate{
		docstore.Equal("billing_entity_id", entityID),
	}, window...), policy.MaxEventsPerEvaluation)
	if err != nil {
		return nil, err
	}
	if !policy.LegacyMetadataCorrelation || entityID == "" {
		return events, nil
	}

	legacy, err := s.events.List(ctx, append([]docstore.Predicate{
		docstore.Contains("metadata", entityID),
	}, window...), policy.MaxEventsPerEvaluation)
	switch {
	case errors.Is(err, docstore.ErrUnsupportedPredicate):
		s.log.Warn("invariant.legacy_correlation_unsupported", zap.String("billing_account_id", account.ID))
		return events, nil
	case err != nil:
		return nil, err
	}
	return append(events, legacy...), nil
}

// ReconcileAggregation recomputes totals from raw events and compares each
// metric against the stored value within the policy tolerance.
func (s *Service) ReconcileAggregation(ctx context.Context, aggregationID string) (domain.Reconciliation, error) {
	agg, err := s.aggregations.Get(ctx, strings.TrimSpace(aggregationID))
	if err != nil {
		return domain.Reconciliation{}, err
	}
	if agg == nil {
		return domain.Reconciliation{}, usagedomain.ErrAggregationNotFound
	}

	events, err := s.events.List(ctx, []docstore.Predicate{
		docstore.Equal("workspace_id", agg.WorkspaceID),
		docstore.GreaterOrEqual("timestamp", agg.PeriodStart.UTC()),
		docstore.LessOrEqual("timestamp", agg.PeriodEnd.UTC()),
	}, 0)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	totals := usagedomain.ComputeTotals(events)
	tolerance := s.policy.Policy().ReconciliationTolerance

	rec := domain.Reconciliation{
		AggregationID: agg.ID,
		Tolerance:     tolerance,
		Metrics: []domain.MetricComparison{
			compare("traffic_total_gb", agg.TrafficTotalGB, totals.TrafficGB, tolerance),
			compare("storage_total_gb", agg.StorageTotalGB, totals.StorageGB, tolerance),
			compare("compute_total_units", agg.ComputeTotalUnits, totals.ComputeUnits, tolerance),
		},
	}
	mismatched := lo.Filter(rec.Metrics, func(m domain.MetricComparison, _ int) bool { return !m.Matches })
	rec.Matches = len(mismatched) == 0

	rec.Violation = s.checker.Evaluate(ctx, rec.Matches, domain.AggregationSourceMismatch, func() string {
		names := lo.Map(mismatched, func(m domain.MetricComparison, _ int) string { return m.Metric })
		return fmt.Sprintf("aggregation %s differs from source events on %s", agg.ID, strings.Join(names, ", "))
	}, map[string]any{
		"aggregation_id": agg.ID,
		"workspace_id":   agg.WorkspaceID,
		"tolerance":      tolerance,
		"mismatched":     mismatched,
	})
	return rec, nil
}

func compare(metric string, stored float64, recomputed decimal.Decimal, tolerance float64) domain.MetricComparison {
	storedDec := decimal.NewFromFloat(stored)
	return domain.MetricComparison{
		Metric:        metric,
		Stored:        stored,
		Recomputed:    recomputed.InexactFloat64(),
		Difference:    storedDec.Sub(recomputed).Abs().InexactFloat64(),
		MaxDifference: storedDec.Abs().Mul(decimal.NewFromFloat(tolerance)).InexactFloat64(),
		Matches:       usagedomain.WithinTolerance(storedDec, recomputed, tolerance),
	}
}

// CheckCycleLock reports a lock without a timestamp and a lock held longer
// than the stale threshold.
func (s *Service) CheckCycleLock(ctx context.Context, account *accountdomain.BillingAccount) []domain.CheckResult {
	fields := map[string]any{"billing_account_id": account.ID}

	consistent := !account.IsBillingCycleLocked || account.BillingCycleLockedAt != nil
	v := s.checker.Evaluate(ctx, consistent, domain.CycleLockInconsistent, func() string {
		return fmt.Sprintf("account %s is locked without a lock timestamp", account.ID)
	}, fields)
	results := []domain.CheckResult{result(checkCycleLock, account.ID, v)}

	threshold := s.policy.Policy().StaleLockThreshold
	stale := account.IsBillingCycleLocked && account.BillingCycleLockedAt != nil &&
		s.clock.Now().Sub(*account.BillingCycleLockedAt) > threshold
	if stale {
		fields = map[string]any{
			"billing_account_id": account.ID,
			"locked_at":          account.BillingCycleLockedAt.UTC(),
			"threshold":          threshold.String(),
		}
	}
	v = s.checker.Evaluate(ctx, !stale, domain.StaleCycleLock, func() string {
		return fmt.Sprintf("account %s has been locked since %s", account.ID, account.BillingCycleLockedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}, fields)
	return append(results, result(checkStaleLock, account.ID, v))
}

func (s *Service) CheckAccountOwner(ctx context.Context, account *accountdomain.BillingAccount) domain.CheckResult {
	v := s.checker.Evaluate(ctx, account.HasValidOwner(), domain.AccountOwnerMismatch, func() string {
		return fmt.Sprintf("account %s of type %s has user %q and organization %q", account.ID, account.Type, account.UserID, account.OrganizationID)
	}, map[string]any{
		"billing_account_id": account.ID,
		"type":               string(account.Type),
	})
	return result(checkAccountOwner, account.ID, v)
}

func (s *Service) AuditAccount(ctx context.Context, accountID string) (domain.Report, error) {
	account, err := s.billing.Get(ctx, accountID)
	if err != nil {
		return domain.Report{}, err
	}
	report := domain.NewReport(s.clock.Now().UTC())
	s.audit(ctx, account, &report)
	return report, nil
}

// AuditAccounts audits up to limit accounts. A check that fails to run is
// reported as a failed result carrying the error.
func (s *Service) AuditAccounts(ctx context.Context, limit int) (domain.Report, error) {
	accounts, err := s.billing.ListAccounts(ctx, limit)
	if err != nil {
		return domain.Report{}, err
	}
	report := domain.NewReport(s.clock.Now().UTC())
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.audit(ctx, account, &report)
	}

	s.log.Info("invariant.audit_completed",
		zap.Int("accounts", len(accounts)),
		zap.Int("results", len(report.Results)),
		zap.Int("violations", len(report.Violations())),
	)
	return report, nil
}

func (s *Service) audit(ctx context.Context, account *accountdomain.BillingAccount, report *domain.Report) {
	report.Add(s.CheckAccountOwner(ctx, account))
	for _, r := range s.CheckCycleLock(ctx, account) {
		report.Add(r)
	}

	if res, err := s.CheckUsageDuringSuspension(ctx, account); err != nil {
		report.Add(failed(checkSuspensionUsage, account.ID, err))
	} else {
		report.Add(res)
	}

	if results, err := s.CheckInvoiceUsage(ctx, account); err != nil {
		report.Add(failed(checkInvoiceUsage, account.ID, err))
	} else {
		for _, r := range results {
			report.Add(r)
		}
	}

	aggs, err := s.aggregations.List(ctx, []docstore.Predicate{
		docstore.Equal("billing_account_id", account.ID),
	}, 0)
	if err != nil {
		report.Add(failed(checkReconciliation, account.ID, err))
		return
	}
	for _, agg := range aggs {
		rec, err := s.ReconcileAggregation(ctx, agg.ID)
		if err != nil {
			report.Add(failed(checkReconciliation, account.ID, err))
			continue
		}
		report.Add(result(checkReconciliation, account.ID, rec.Violation))
	}
}

func result(name, accountID string, v *domain.Violation) domain.CheckResult {
	return domain.CheckResult{Name: name, AccountID: accountID, Passed: v == nil, Violation: v}
}

func failed(name, accountID string, err error) domain.CheckResult {
	return domain.CheckResult{Name: name, AccountID: accountID, Passed: false, Error: err.Error()}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/internal/scheduler/guard"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"go.uber.org/zap"
)

// GraceExpiryJob suspends DUE accounts whose grace period has ended.
func (s *Scheduler) GraceExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobGraceExpiry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		suspended, err := s.billing.ExpireGracePeriods(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.grace.process.failed", nil, err)
			jobErr = errors.Join(jobErr, err)
		}
		run.AddProcessed(suspended)
		obsmetrics.Scheduler().AddBatchProcessed(JobGraceExpiry, "billing_account", suspended)
		if err != nil || suspended < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

// PeriodCloseJob closes every billing cycle that has ended: lock, freeze the
// usage of each workspace, draft the invoices, then open the next cycle.
// Each step is idempotent, so an account left locked by a crashed run is
// picked up again on the next tick.
func (s *Scheduler) PeriodCloseJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPeriodClose, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var jobErr error
	failed := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		accounts, err := s.billing.ListCycleEndedBefore(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.cycle.list.failed", nil, err)
			return errors.Join(jobErr, err)
		}

		advanced := 0
		for _, account := range accounts {
			if failed[account.ID] {
				continue
			}
			s.logCycleClaimed(ctx, account)
			if err := s.closeCycle(ctx, account, now); err != nil {
				failed[account.ID] = true
				jobErr = errors.Join(jobErr, err)
				s.logJobError(ctx, run, "scheduler.cycle.process.failed", account, err)
				continue
			}
			advanced++
			run.AddProcessed(1)
		}
		obsmetrics.Scheduler().AddBatchProcessed(JobPeriodClose, "billing_account", advanced)
		if advanced == 0 {
			break
		}
	}
	return jobErr
}

func (s *Scheduler) closeCycle(ctx context.Context, account *accountdomain.BillingAccount, now time.Time) error {
	if err := guard.EnsureCycleCanClose(account, now); err != nil {
		return err
	}

	lock, err := s.cycles.Lock(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("lock cycle: %w", err)
	}
	if !lock.Success && !lock.AlreadyLocked {
		return fmt.Errorf("lock cycle: %s", lock.Error)
	}

	workspaceIDs, err := s.billing.ListWorkspaceIDs(ctx, account)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	for _, workspaceID := range workspaceIDs {
		agg, err := s.freezeUsage(ctx, account, workspaceID)
		if err != nil {
			return fmt.Errorf("workspace %s: %w", workspaceID, err)
		}
		invoice, err := s.invoices.CreateDraft(ctx, account, agg)
		if err != nil {
			return fmt.Errorf("workspace %s: draft invoice: %w", workspaceID, err)
		}
		s.logInvoiceDrafted(ctx, account, agg, invoice)
	}

	if _, err := s.cycles.AdvanceCycle(ctx, account.ID); err != nil {
		return fmt.Errorf("advance cycle: %w", err)
	}
	return nil
}

// freezeUsage rebuilds and finalizes the workspace aggregation for the closing
// cycle. An aggregation finalized by an earlier run is reused as is.
func (s *Scheduler) freezeUsage(ctx context.Context, account *accountdomain.BillingAccount, workspaceID string) (*usagedomain.UsageAggregation, error) {
	id := usagedomain.AggregationID(workspaceID, account.BillingCycleStart)
	existing, err := s.usage.GetAggregation(ctx, id)
	if err != nil && !errors.Is(err, usagedomain.ErrAggregationNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsFinalized {
		return existing, nil
	}

	if _, err := s.usage.RebuildAggregation(ctx, usagedomain.RebuildAggregationRequest{
		WorkspaceID:      workspaceID,
		BillingAccountID: account.ID,
		PeriodStart:      account.BillingCycleStart,
		PeriodEnd:        account.BillingCycleEnd,
	}); err != nil {
		return nil, fmt.Errorf("rebuild aggregation: %w", err)
	}
	agg, err := s.usage.FinalizeAggregation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finalize aggregation: %w", err)
	}
	return agg, nil
}

// AlertEvaluationJob evaluates every enabled usage alert.
func (s *Scheduler) AlertEvaluationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAlertEvaluation, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	summary, err := s.alerts.EvaluateAllAlerts(ctx)
	run.AddProcessed(summary.Evaluated)
	obsmetrics.Scheduler().AddBatchProcessed(JobAlertEvaluation, "usage_alert", summary.Evaluated)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.alert.process.failed", nil, err)
		return err
	}
	for i := 0; i < summary.Failed; i++ {
		run.IncError()
	}
	return nil
}

// InvariantAuditJob audits billing accounts. Violations are recorded by the
// checker; the job itself only fails when the audit cannot run.
func (s *Scheduler) InvariantAuditJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvariantAudit, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.invariants.AuditAccounts(ctx, 0)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.invariant.process.failed", nil, err)
		return err
	}
	run.AddProcessed(len(report.Results))
	obsmetrics.Scheduler().AddBatchProcessed(JobInvariantAudit, "check", len(report.Results))
	if !report.AllPassed {
		s.logger(ctx).Warn("scheduler.invariant.violations",
			zap.Int("violations", len(report.Violations())),
		)
	}
	return nil
}

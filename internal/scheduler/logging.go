package scheduler

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	obscontext "github.com/smallbiznis/billingguard/internal/observability/context"
	obslogger "github.com/smallbiznis/billingguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Nested calls (runJob wrapping a job
// method) share the run stored in the context.
type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r != nil && count > 0 {
		r.processedCount += count
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errorCount++
	}
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return obscontext.WithActor(ctx, "system", "scheduler"), run, true
}

// withAccount tags ctx with the account a job is working on.
func withAccount(ctx context.Context, account *accountdomain.BillingAccount) context.Context {
	if account == nil {
		return ctx
	}
	ctx = obscontext.WithBillingAccountID(ctx, account.ID)
	if account.OrganizationID != "" {
		ctx = obscontext.WithOrgID(ctx, account.OrganizationID)
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	if run.errorCount > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

// logJobError counts the failure on the run and logs it with its
// classification. account may be nil for failures outside an account.
func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, msg string, account *accountdomain.BillingAccount, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}
	s.logger(withAccount(ctx, account)).Error(msg, append(base, fields...)...)
}

func (s *Scheduler) logCycleClaimed(ctx context.Context, account *accountdomain.BillingAccount) {
	s.logger(withAccount(ctx, account)).Debug("scheduler.cycle.claimed",
		zap.String("billing_status", string(account.BillingStatus)),
		zap.Time("billing_cycle_start", account.BillingCycleStart),
		zap.Time("billing_cycle_end", account.BillingCycleEnd),
	)
}

func (s *Scheduler) logInvoiceDrafted(ctx context.Context, account *accountdomain.BillingAccount, agg *usagedomain.UsageAggregation, invoice *invoicedomain.Invoice) {
	s.logger(withAccount(ctx, account)).Info("invoice.drafted",
		zap.String("workspace_id", agg.WorkspaceID),
		zap.String("aggregation_id", agg.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("status", string(invoice.Status)),
	)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/billingguard/internal/alert/domain"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	cycledomain "github.com/smallbiznis/billingguard/internal/billingcycle/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/distlock"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobGraceExpiry     = "grace_expiry"
	JobPeriodClose     = "period_close"
	JobAlertEvaluation = "alert_evaluation"
	JobInvariantAudit  = "invariant_audit"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
	Billing    accountdomain.Service
	Cycles     cycledomain.Service
	Usage      usagedomain.Service
	Invoices   invoicedomain.Service
	Alerts     alertdomain.Service
	Invariants invdomain.Service
	Locker     *distlock.Locker `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	billing    accountdomain.Service
	cycles     cycledomain.Service
	usage      usagedomain.Service
	invoices   invoicedomain.Service
	alerts     alertdomain.Service
	invariants invdomain.Service
	locker     *distlock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Billing == nil || p.Cycles == nil ||
		p.Usage == nil || p.Invoices == nil || p.Alerts == nil || p.Invariants == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		cycles:     p.Cycles,
		usage:      p.Usage,
		invoices:   p.Invoices,
		alerts:     p.Alerts,
		invariants: p.Invariants,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	// With Redis configured only one replica runs a job at a time.
	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(parent, name, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("scheduler.job.lock_failed", zap.String("job", name), zap.Error(err))
			return nil
		}
		if !ok {
			obsmetrics.Scheduler().IncBatchDeferred(name, "lock_held")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), name, token); err != nil {
				s.log.Warn("scheduler.job.unlock_failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadlines are soft: the next tick resumes where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

type job struct {
	name    string
	timeout time.Duration
	run     func(context.Context) error
}

// jobs lists the billing jobs in execution order. Grace expiry runs before
// period close so an account suspended this tick is closed as SUSPENDED.
func (s *Scheduler) jobs() []job {
	return []job{
		{JobGraceExpiry, s.cfg.JobTimeout, s.GraceExpiryJob},
		{JobPeriodClose, 4 * s.cfg.JobTimeout, s.PeriodCloseJob},
		{JobAlertEvaluation, 2 * s.cfg.JobTimeout, s.AlertEvaluationJob},
		{JobInvariantAudit, 2 * s.cfg.JobTimeout, s.InvariantAuditJob},
	}
}

func (s *Scheduler) enabledJobs() []string {
	names := make([]string, 0, 4)
	for _, j := range s.jobs() {
		if s.isJobEnabled(j.name) {
			names = append(names, j.name)
		}
	}
	return names
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.BatchSize, j.timeout, j.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

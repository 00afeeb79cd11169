package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/distlock"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := withFreshMetrics(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), cfg: DefaultConfig()}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "billingguard",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "billingguard_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "billingguard",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "billingguard_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobSkipsWhenLeaseIsHeld(t *testing.T) {
	registry := withFreshMetrics(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := distlock.NewLocker(client, "test:")

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), cfg: DefaultConfig(), locker: locker}

	if _, ok, err := locker.TryLock(context.Background(), JobPeriodClose, time.Minute); err != nil || !ok {
		t.Fatalf("pre-lock failed: ok=%v err=%v", ok, err)
	}

	ran := false
	err = s.runJob(context.Background(), JobPeriodClose, 1, time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ran {
		t.Fatalf("job must not run while another runner holds the lease")
	}
	deferred := map[string]string{
		"service": "billingguard",
		"env":     "test",
		"job":     JobPeriodClose,
		"reason":  "lock_held",
	}
	if got := getCounterValue(t, registry, "billingguard_scheduler_batch_deferred_total", deferred); got != 1 {
		t.Fatalf("expected deferred count 1, got %v", got)
	}

	mr.FastForward(2 * time.Minute)
	err = s.runJob(context.Background(), JobPeriodClose, 1, time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected job to run after lease expiry, ran=%v err=%v", ran, err)
	}
	if mr.Exists("test:" + JobPeriodClose) {
		t.Fatalf("lease must be released after the job finishes")
	}
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{cfg: Config{}}
	if !s.isJobEnabled(JobAlertEvaluation) {
		t.Fatalf("empty filter must enable every job")
	}
	s.cfg.EnabledJobs = []string{"PERIOD_CLOSE", "grace_expiry"}
	if !s.isJobEnabled(JobPeriodClose) || !s.isJobEnabled(JobGraceExpiry) {
		t.Fatalf("listed jobs must be enabled")
	}
	if s.isJobEnabled(JobInvariantAudit) {
		t.Fatalf("unlisted job must be disabled")
	}
	got := s.enabledJobs()
	if len(got) != 2 || got[0] != JobGraceExpiry || got[1] != JobPeriodClose {
		t.Fatalf("expected grace expiry then period close, got %v", got)
	}
}

func withFreshMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "billingguard",
		Environment: "test",
	})
	return registry
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

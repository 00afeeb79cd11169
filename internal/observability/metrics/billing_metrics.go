package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	LockOutcomeAcquired      = "acquired"
	LockOutcomeAlreadyLocked = "already_locked"
	LockOutcomeLostRace      = "lost_race"
	LockOutcomeError         = "error"
)

// BillingMetrics captures guard health: cycle locking, resolver failures and
// invariant violations.
type BillingMetrics struct {
	cycleLocks          *prometheus.CounterVec
	resolverFailures    *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	guardRejections     *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// NewBillingMetrics returns the singleton billing metrics registry.
func NewBillingMetrics(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

// NewBillingMetricsForRegistry builds billing metrics on a caller-owned registry.
func NewBillingMetricsForRegistry(registerer prometheus.Registerer) *BillingMetrics {
	return newBillingMetrics(registerer, Config{})
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	cycleLocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingguard_billing_cycle_lock_total",
		Help:        "Billing cycle lock attempts by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	resolverFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingguard_billing_account_resolve_failures_total",
		Help:        "Billing account resolution failures by reason.",
		ConstLabels: labels,
	}, []string{"reason"})
	invariantViolations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingguard_invariant_violations_total",
		Help:        "Invariant violations by invariant and severity.",
		ConstLabels: labels,
	}, []string{"invariant", "severity"})
	guardRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingguard_guard_rejections_total",
		Help:        "Operations rejected by billing guards by error code.",
		ConstLabels: labels,
	}, []string{"code"})

	registerer.MustRegister(cycleLocks, resolverFailures, invariantViolations, guardRejections)

	return &BillingMetrics{
		cycleLocks:          cycleLocks,
		resolverFailures:    resolverFailures,
		invariantViolations: invariantViolations,
		guardRejections:     guardRejections,
	}
}

func (m *BillingMetrics) IncCycleLock(outcome string) {
	if m == nil {
		return
	}
	m.cycleLocks.WithLabelValues(outcome).Inc()
}

func (m *BillingMetrics) IncResolverFailure(reason string) {
	if m == nil {
		return
	}
	m.resolverFailures.WithLabelValues(reason).Inc()
}

func (m *BillingMetrics) IncInvariantViolation(invariant, severity string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(invariant, severity).Inc()
}

func (m *BillingMetrics) IncGuardRejection(code string) {
	if m == nil || code == "" {
		return
	}
	m.guardRejections.WithLabelValues(code).Inc()
}

// CycleLocksForTest exposes the lock counter for one outcome.
func (m *BillingMetrics) CycleLocksForTest(outcome string) prometheus.Counter {
	return m.cycleLocks.WithLabelValues(outcome)
}

package checker

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/invariant/domain"
	"github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/internal/observability/sentry"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Recorder receives every violation the checker detects.
type Recorder interface {
	Record(ctx context.Context, v *domain.Violation)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *domain.Violation) {}

type RecorderParam struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	GenID   *snowflake.Node
	Store   *backend.Backend        `optional:"true"`
	Metrics *metrics.BillingMetrics `optional:"true"`
	Sentry  *sentry.Service         `optional:"true"`
}

// fanout logs, counts, reports and persists each violation. Persistence
// failures are logged and never surface to the caller.
type fanout struct {
	mode    domain.Mode
	log     *zap.Logger
	genID   *snowflake.Node
	store   docstore.Collection[domain.ViolationRecord]
	metrics *metrics.BillingMetrics
	sentry  *sentry.Service
}

func NewRecorder(p RecorderParam) Recorder {
	r := &fanout{
		mode:    domain.ParseMode(p.Config.InvariantMode),
		log:     p.Log.Named("invariant.recorder"),
		genID:   p.GenID,
		metrics: p.Metrics,
		sentry:  p.Sentry,
	}
	if p.Store != nil {
		r.store = backend.Collection[domain.ViolationRecord](p.Store)
	}
	return r
}

func (r *fanout) Record(ctx context.Context, v *domain.Violation) {
	fields := []zap.Field{
		zap.String("invariant", string(v.Invariant)),
		zap.String("severity", string(v.Severity)),
		zap.String("mode", string(r.mode)),
		zap.String("message", v.Message),
		zap.Any("context", v.Context),
	}
	if v.Severity == domain.SeverityCritical {
		r.log.Error("invariant.violation", fields...)
	} else {
		r.log.Warn("invariant.violation", fields...)
	}

	r.metrics.IncInvariantViolation(string(v.Invariant), string(v.Severity))
	r.sentry.CaptureException(ctx, v, map[string]string{
		"invariant": string(v.Invariant),
		"severity":  string(v.Severity),
	})

	if r.store == nil || r.genID == nil {
		return
	}
	id := r.genID.Generate().String()
	record := &domain.ViolationRecord{
		ID:         id,
		Invariant:  string(v.Invariant),
		Severity:   string(v.Severity),
		Message:    v.Message,
		Context:    datatypes.JSONMap(v.Context),
		Mode:       string(r.mode),
		DetectedAt: v.DetectedAt,
	}
	if err := r.store.Create(ctx, id, record); err != nil {
		r.log.Warn("invariant.persist_failed", zap.String("invariant", string(v.Invariant)), zap.Error(err))
	}
}

// MemoryRecorder keeps violations in memory.
type MemoryRecorder struct {
	mu         sync.Mutex
	violations []*domain.Violation
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, v *domain.Violation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
}

func (m *MemoryRecorder) Violations() []*domain.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Has reports whether a violation of name was recorded.
func (m *MemoryRecorder) Has(name domain.Name) bool {
	for _, v := range m.Violations() {
		if v.Invariant == name {
			return true
		}
	}
	return false
}

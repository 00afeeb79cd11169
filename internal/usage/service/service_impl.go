package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	writeOutcomeAccepted = "accepted"
	writeOutcomeAdjusted = "adjusted"
	writeOutcomeBlocked  = "blocked"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Billing accountdomain.Service
	Checker *checker.Checker
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	billing accountdomain.Service
	checker *checker.Checker
	metrics *obsmetrics.Metrics

	events       docstore.Collection[domain.UsageEvent]
	aggregations docstore.Collection[domain.UsageAggregation]
}

func NewService(p ServiceParam) domain.Service {
	svc := newService(
		backend.Collection[domain.UsageEvent](p.Store),
		backend.Collection[domain.UsageAggregation](p.Store),
		p.Billing,
		p.Checker,
		p.GenID,
		p.Clock,
		p.Log,
	)
	svc.metrics = p.Metrics
	return svc
}

func newService(
	events docstore.Collection[domain.UsageEvent],
	aggregations docstore.Collection[domain.UsageAggregation],
	billing accountdomain.Service,
	chk *checker.Checker,
	genID *snowflake.Node,
	clk clock.Clock,
	log *zap.Logger,
) *Service {
	return &Service{
		log:          log.Named("usage.service"),
		clock:        clk,
		genID:        genID,
		billing:      billing,
		checker:      chk,
		events:       events,
		aggregations: aggregations,
	}
}

// AssertCanWriteUsage allows writes for ACTIVE and DUE accounts whose cycle
// is open. Entities without an account are allowed.
func (s *Service) AssertCanWriteUsage(ctx context.Context, lookup accountdomain.Lookup) (domain.WriteDecision, error) {
	account, err := s.billing.AssertNotSuspended(ctx, lookup)
	if err != nil {
		return domain.WriteDecision{}, err
	}
	if account != nil && account.IsBillingCycleLocked {
		return domain.WriteDecision{}, accountdomain.NewBillingError(accountdomain.CodeBillingCycleLocked, account)
	}
	return domain.WriteDecision{Account: account, Allowed: true}, nil
}

// Record guards, normalizes and stores one usage event.
func (s *Service) Record(ctx context.Context, req domain.RecordUsageRequest) (*domain.UsageEvent, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspace
	}
	resource := domain.ResourceType(strings.ToUpper(strings.TrimSpace(string(req.ResourceType))))
	if !resource.Valid() {
		return nil, domain.ErrInvalidResourceType
	}
	if !validUnits(req.Units) || (req.WeightedUnits != nil && !validUnits(*req.WeightedUnits)) {
		return nil, domain.ErrInvalidUnits
	}

	decision, err := s.AssertCanWriteUsage(ctx, accountdomain.Lookup{WorkspaceID: workspaceID})
	if err != nil {
		s.metrics.RecordUsageWrite(ctx, string(resource), writeOutcomeBlocked)
		s.log.Info("usage.write_blocked",
			zap.String("workspace_id", workspaceID),
			zap.String("resource_type", string(resource)),
			zap.Error(err),
		)
		return nil, accountdomain.UsageWriteBlocked(err)
	}

	now := s.clock.Now().UTC()
	ts := req.Timestamp.UTC()
	if req.Timestamp.IsZero() {
		ts = now
	}
	adj := domain.AdjustEventForLockedCycle(ts, decision.Account, now)

	event := &domain.UsageEvent{
		ID:              s.genID.Generate().String(),
		WorkspaceID:     workspaceID,
		BillingEntityID: s.billingEntityID(ctx, workspaceID, decision.Account),
		ResourceType:    resource,
		Units:           req.Units,
		WeightedUnits:   req.WeightedUnits,
		Timestamp:       adj.Timestamp.UTC(),
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}
	if adj.WasAdjusted {
		original := ts
		event.OriginalTimestamp = &original
		event.AdjustReason = adj.AdjustReason
	}

	if err := s.events.Create(ctx, event.ID, event); err != nil {
		return nil, err
	}

	outcome := writeOutcomeAccepted
	if adj.WasAdjusted {
		outcome = writeOutcomeAdjusted
		s.metrics.RecordUsageAdjustment(ctx, adj.AdjustReason)
		s.log.Info("usage.event_adjusted",
			zap.String("usage_event_id", event.ID),
			zap.String("reason", adj.AdjustReason),
			zap.Time("original_timestamp", ts),
			zap.Time("timestamp", event.Timestamp),
		)
	}
	s.metrics.RecordUsageWrite(ctx, string(resource), outcome)
	return event, nil
}

func (s *Service) billingEntityID(ctx context.Context, workspaceID string, account *accountdomain.BillingAccount) string {
	if account != nil {
		return account.OwnerID()
	}
	owner, err := s.billing.WorkspaceOwner(ctx, workspaceID)
	if err != nil {
		s.log.Warn("usage.owner_lookup_failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		return ""
	}
	if owner == nil {
		return ""
	}
	return owner.EntityID()
}

// ListEvents returns events in [From, To] ordered by id.
func (s *Service) ListEvents(ctx context.Context, req domain.ListEventsRequest) ([]*domain.UsageEvent, error) {
	var preds []docstore.Predicate
	if id := strings.TrimSpace(req.WorkspaceID); id != "" {
		preds = append(preds, docstore.Equal("workspace_id", id))
	}
	if id := strings.TrimSpace(req.BillingEntityID); id != "" {
		preds = append(preds, docstore.Equal("billing_entity_id", id))
	}
	if len(preds) == 0 {
		return nil, domain.ErrInvalidWorkspace
	}
	if req.ResourceType != "" {
		if !req.ResourceType.Valid() {
			return nil, domain.ErrInvalidResourceType
		}
		preds = append(preds, docstore.Equal("resource_type", string(req.ResourceType)))
	}
	if !req.From.IsZero() {
		preds = append(preds, docstore.GreaterOrEqual("timestamp", req.From.UTC()))
	}
	if !req.To.IsZero() {
		preds = append(preds, docstore.LessOrEqual("timestamp", req.To.UTC()))
	}
	return s.events.List(ctx, preds, req.Limit)
}

func (s *Service) GetAggregation(ctx context.Context, id string) (*domain.UsageAggregation, error) {
	agg, err := s.aggregations.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, domain.ErrAggregationNotFound
	}
	return agg, nil
}

// RebuildAggregation recomputes a period from its events. A finalized
// aggregation is never touched.
func (s *Service) RebuildAggregation(ctx context.Context, req domain.RebuildAggregationRequest) (*domain.UsageAggregation, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspace
	}
	if req.PeriodStart.IsZero() || !req.PeriodEnd.After(req.PeriodStart) {
		return nil, domain.ErrInvalidPeriod
	}

	id := domain.AggregationID(workspaceID, req.PeriodStart)
	existing, err := s.aggregations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.checker.AssertAggregationMutable(ctx, id, existing.IsFinalized, existing.FinalizedAt); err != nil {
			return nil, err
		}
	}

	events, err := s.ListEvents(ctx, domain.ListEventsRequest{
		WorkspaceID: workspaceID,
		From:        req.PeriodStart,
		To:          req.PeriodEnd,
	})
	if err != nil {
		return nil, err
	}
	totals := domain.ComputeTotals(events)
	now := s.clock.Now().UTC()

	if existing == nil {
		agg := &domain.UsageAggregation{
			ID:               id,
			WorkspaceID:      workspaceID,
			BillingAccountID: strings.TrimSpace(req.BillingAccountID),
			PeriodStart:      req.PeriodStart.UTC(),
			PeriodEnd:        req.PeriodEnd.UTC(),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		totals.Apply(agg)
		if err := s.aggregations.Create(ctx, id, agg); err == nil {
			return agg, nil
		} else if !errors.Is(err, docstore.ErrAlreadyExists) {
			return nil, err
		}
	}

	fields := totals.Fields()
	fields["updated_at"] = now
	if err := s.updateUnfinalized(ctx, id, fields); err != nil {
		return nil, err
	}
	return s.GetAggregation(ctx, id)
}

// FinalizeAggregation freezes an aggregation. Finalizing twice returns the
// stored aggregation unchanged.
func (s *Service) FinalizeAggregation(ctx context.Context, id string) (*domain.UsageAggregation, error) {
	agg, err := s.GetAggregation(ctx, id)
	if err != nil {
		return nil, err
	}
	if agg.IsFinalized {
		return agg, nil
	}
	now := s.clock.Now().UTC()
	err = s.updateUnfinalized(ctx, agg.ID, map[string]any{
		"is_finalized": true,
		"finalized_at": now,
		"updated_at":   now,
	})
	if err != nil && !errors.Is(err, domain.ErrAggregationFinalized) {
		return nil, err
	}
	s.log.Info("usage.aggregation_finalized", zap.String("aggregation_id", agg.ID))
	return s.GetAggregation(ctx, agg.ID)
}

func (s *Service) updateUnfinalized(ctx context.Context, id string, fields map[string]any) error {
	if cu, ok := docstore.Conditional(s.aggregations); ok {
		applied, err := cu.UpdateIf(ctx, id, []docstore.Predicate{docstore.Equal("is_finalized", false)}, fields)
		if err != nil {
			return err
		}
		if !applied {
			return domain.ErrAggregationFinalized
		}
		return nil
	}
	return s.aggregations.Update(ctx, id, fields)
}

func validUnits(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}


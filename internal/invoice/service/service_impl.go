package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	Checker *checker.Checker
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	checker *checker.Checker

	invoices     docstore.Collection[invoicedomain.Invoice]
	aggregations docstore.Collection[usagedomain.UsageAggregation]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return newService(
		backend.Collection[invoicedomain.Invoice](p.Store),
		backend.Collection[usagedomain.UsageAggregation](p.Store),
		p.Checker,
		p.Clock,
		p.Log,
	)
}

func newService(
	invoices docstore.Collection[invoicedomain.Invoice],
	aggregations docstore.Collection[usagedomain.UsageAggregation],
	chk *checker.Checker,
	clk clock.Clock,
	log *zap.Logger,
) *Service {
	return &Service{
		log:          log.Named("invoice.service"),
		clock:        clk,
		checker:      chk,
		invoices:     invoices,
		aggregations: aggregations,
	}
}

// CreateDraft opens a draft invoice for a finalized aggregation. Calling it
// again for the same aggregation returns the existing invoice.
func (s *Service) CreateDraft(ctx context.Context, account *accountdomain.BillingAccount, aggregation *usagedomain.UsageAggregation) (*invoicedomain.Invoice, error) {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return nil, invoicedomain.ErrInvalidAccount
	}
	if aggregation == nil || strings.TrimSpace(aggregation.ID) == "" {
		return nil, invoicedomain.ErrInvalidAggregation
	}

	id := invoicedomain.InvoiceID(aggregation.ID)
	existing, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := s.checker.AssertInvoicePayable(ctx, id, aggregation.ID, aggregation.IsFinalized); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	invoice := &invoicedomain.Invoice{
		ID:                    id,
		BillingAccountID:      account.ID,
		WorkspaceID:           aggregation.WorkspaceID,
		AggregationSnapshotID: aggregation.ID,
		Status:                invoicedomain.InvoiceStatusDraft,
		PeriodStart:           aggregation.PeriodStart.UTC(),
		PeriodEnd:             aggregation.PeriodEnd.UTC(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.invoices.Create(ctx, id, invoice); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return s.Get(ctx, id)
		}
		return nil, err
	}

	s.log.Info("invoice.draft_created",
		zap.String("invoice_id", id),
		zap.String("billing_account_id", account.ID),
		zap.String("aggregation_id", aggregation.ID),
	)
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoices.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ListByAccount(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]*invoicedomain.Invoice, error) {
	accountID := strings.TrimSpace(req.BillingAccountID)
	if accountID == "" {
		return nil, invoicedomain.ErrInvalidAccount
	}
	preds := []docstore.Predicate{docstore.Equal("billing_account_id", accountID)}
	if req.Status != "" {
		preds = append(preds, docstore.Equal("status", string(req.Status)))
	}
	return s.invoices.List(ctx, preds, req.Limit)
}

func (s *Service) Issue(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, invoicedomain.InvoiceStatusOpen, "issued_at")
}

// MarkPaid settles an invoice. The referenced aggregation must exist and be
// finalized.
func (s *Service) MarkPaid(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return invoice, nil
	}

	finalized := false
	if invoice.AggregationSnapshotID != "" {
		agg, err := s.aggregations.Get(ctx, invoice.AggregationSnapshotID)
		if err != nil {
			return nil, err
		}
		finalized = agg != nil && agg.IsFinalized
	}
	if err := s.checker.AssertInvoicePayable(ctx, invoice.ID, invoice.AggregationSnapshotID, finalized); err != nil {
		return nil, err
	}
	return s.transition(ctx, invoice.ID, invoicedomain.InvoiceStatusPaid, "paid_at")
}

func (s *Service) Void(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, invoicedomain.InvoiceStatusVoid, "voided_at")
}

func (s *Service) transition(ctx context.Context, id string, to invoicedomain.InvoiceStatus, stampField string) (*invoicedomain.Invoice, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == to {
		return invoice, nil
	}
	if !invoicedomain.CanTransition(invoice.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", invoicedomain.ErrInvalidTransition, invoice.Status, to)
	}

	now := s.clock.Now().UTC()
	fields := map[string]any{
		"status":     string(to),
		stampField:   now,
		"updated_at": now,
	}
	if cu, ok := docstore.Conditional(s.invoices); ok {
		applied, err := cu.UpdateIf(ctx, invoice.ID, []docstore.Predicate{
			docstore.Equal("status", string(invoice.Status)),
		}, fields)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, invoicedomain.ErrConcurrentTransition
		}
	} else if err := s.invoices.Update(ctx, invoice.ID, fields); err != nil {
		return nil, err
	}

	s.log.Info("invoice.status_changed",
		zap.String("invoice_id", invoice.ID),
		zap.String("from", string(invoice.Status)),
		zap.String("to", string(to)),
		zap.Time("at", now),
	)
	return s.Get(ctx, invoice.ID)
}


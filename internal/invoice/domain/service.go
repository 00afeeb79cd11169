package domain

import (
	"context"
	"errors"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
)

type Service interface {
	CreateDraft(ctx context.Context, account *accountdomain.BillingAccount, aggregation *usagedomain.UsageAggregation) (*Invoice, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	ListByAccount(ctx context.Context, req ListInvoiceRequest) ([]*Invoice, error)
	Issue(ctx context.Context, id string) (*Invoice, error)
	MarkPaid(ctx context.Context, id string) (*Invoice, error)
	Void(ctx context.Context, id string) (*Invoice, error)
}

type ListInvoiceRequest struct {
	BillingAccountID string
	Status           InvoiceStatus
	Limit            int
}

var (
	ErrInvalidAccount       = errors.New("invalid_billing_account")
	ErrInvalidAggregation   = errors.New("invalid_aggregation")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvalidTransition    = errors.New("invalid_invoice_transition")
	ErrConcurrentTransition = errors.New("invoice_changed_concurrently")
)

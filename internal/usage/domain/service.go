package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

type Service interface {
	AssertCanWriteUsage(ctx context.Context, lookup accountdomain.Lookup) (WriteDecision, error)
	Record(ctx context.Context, req RecordUsageRequest) (*UsageEvent, error)
	ListEvents(ctx context.Context, req ListEventsRequest) ([]*UsageEvent, error)

	GetAggregation(ctx context.Context, id string) (*UsageAggregation, error)
	RebuildAggregation(ctx context.Context, req RebuildAggregationRequest) (*UsageAggregation, error)
	FinalizeAggregation(ctx context.Context, id string) (*UsageAggregation, error)
}

// WriteDecision is returned when a usage write is allowed. Account is nil for
// entities that have no billing account yet.
type WriteDecision struct {
	Account *accountdomain.BillingAccount `json:"account,omitempty"`
	Allowed bool                          `json:"allowed"`
}

type RecordUsageRequest struct {
	WorkspaceID   string         `json:"workspace_id"`
	ResourceType  ResourceType   `json:"resource_type"`
	Units         float64        `json:"units"`
	WeightedUnits *float64       `json:"weighted_units"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
}

type ListEventsRequest struct {
	WorkspaceID     string
	BillingEntityID string
	ResourceType    ResourceType
	From            time.Time
	To              time.Time
	Limit           int
}

type RebuildAggregationRequest struct {
	WorkspaceID      string
	BillingAccountID string
	PeriodStart      time.Time
	PeriodEnd        time.Time
}

var (
	ErrInvalidWorkspace     = errors.New("invalid_workspace")
	ErrInvalidResourceType  = errors.New("invalid_resource_type")
	ErrInvalidUnits         = errors.New("invalid_units")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrAggregationNotFound  = errors.New("aggregation_not_found")
	ErrAggregationFinalized = errors.New("aggregation_finalized")
)

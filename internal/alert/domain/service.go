package domain

import (
	"context"
	"errors"

	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateAlertRequest) (*UsageAlert, error)
	List(ctx context.Context, workspaceID string) ([]*UsageAlert, error)
	EvaluateAlert(ctx context.Context, alertID string) (EvaluationResult, error)
	EvaluateAllAlerts(ctx context.Context) (EvaluationSummary, error)
}

type CreateAlertRequest struct {
	WorkspaceID  string                   `json:"workspace_id"`
	ResourceType usagedomain.ResourceType `json:"resource_type"`
	Threshold    float64                  `json:"threshold"`
	AlertType    AlertType                `json:"alert_type"`
	WebhookURL   string                   `json:"webhook_url"`
}

const (
	SkipDisabled         = "disabled"
	SkipCooldown         = "cooldown"
	SkipAccountSuspended = "account_suspended"
)

type EvaluationResult struct {
	AlertID      string  `json:"alert_id"`
	WorkspaceID  string  `json:"workspace_id"`
	CurrentUsage float64 `json:"current_usage"`
	Threshold    float64 `json:"threshold"`
	Triggered    bool    `json:"triggered"`
	Skipped      bool    `json:"skipped"`
	SkipReason   string  `json:"skip_reason,omitempty"`
	Channel      string  `json:"channel,omitempty"`
	DeliveryID   string  `json:"delivery_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type EvaluationSummary struct {
	Evaluated int                `json:"evaluated"`
	Triggered int                `json:"triggered"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Results   []EvaluationResult `json:"results"`
}

var (
	ErrInvalidWorkspace    = errors.New("invalid_workspace")
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrInvalidThreshold    = errors.New("invalid_threshold")
	ErrInvalidAlertType    = errors.New("invalid_alert_type")
	ErrInvalidWebhookURL   = errors.New("invalid_webhook_url")
	ErrAlertNotFound       = errors.New("alert_not_found")
)

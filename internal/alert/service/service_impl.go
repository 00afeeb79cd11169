package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingguard/internal/alert/domain"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/internal/webhook"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	dispatchOutcomeSent   = "sent"
	dispatchOutcomeFailed = "failed"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Policy  config.PolicyProvider
	Billing accountdomain.Service
	Usage   usagedomain.Service
	Webhook webhook.Client
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	policy  config.PolicyProvider
	billing accountdomain.Service
	usage   usagedomain.Service
	metrics *obsmetrics.Metrics

	alerts      docstore.Collection[domain.UsageAlert]
	dispatchers map[domain.AlertType]Dispatcher
}

func NewService(p ServiceParam) domain.Service {
	svc := newService(
		backend.Collection[domain.UsageAlert](p.Store),
		backend.Collection[domain.Notification](p.Store),
		p.Billing,
		p.Usage,
		p.Webhook,
		p.GenID,
		p.Policy,
		p.Clock,
		p.Log,
	)
	svc.metrics = p.Metrics
	return svc
}

func newService(
	alerts docstore.Collection[domain.UsageAlert],
	notifications docstore.Collection[domain.Notification],
	billing accountdomain.Service,
	usage usagedomain.Service,
	client webhook.Client,
	genID *snowflake.Node,
	policy config.PolicyProvider,
	clk clock.Clock,
	log *zap.Logger,
) *Service {
	inApp := &inAppDispatcher{genID: genID, notifications: notifications}
	return &Service{
		log:     log.Named("alert.service"),
		clock:   clk,
		genID:   genID,
		policy:  policy,
		billing: billing,
		usage:   usage,
		alerts:  alerts,
		dispatchers: map[domain.AlertType]Dispatcher{
			domain.AlertTypeInApp:   inApp,
			domain.AlertTypeWebhook: &webhookDispatcher{client: client},
			// No mail provider is wired; email alerts land in-app.
			domain.AlertTypeEmail: inApp,
		},
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAlertRequest) (*domain.UsageAlert, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspace
	}
	resource := usagedomain.ResourceType(strings.ToUpper(strings.TrimSpace(string(req.ResourceType))))
	if !resource.Valid() {
		return nil, domain.ErrInvalidResourceType
	}
	if req.Threshold <= 0 {
		return nil, domain.ErrInvalidThreshold
	}
	alertType := domain.AlertType(strings.ToLower(strings.TrimSpace(string(req.AlertType))))
	if alertType == "" {
		alertType = domain.AlertTypeInApp
	}
	if !alertType.Valid() {
		return nil, domain.ErrInvalidAlertType
	}
	webhookURL := strings.TrimSpace(req.WebhookURL)
	if alertType == domain.AlertTypeWebhook && !strings.HasPrefix(webhookURL, "http") {
		return nil, domain.ErrInvalidWebhookURL
	}

	now := s.clock.Now().UTC()
	alert := &domain.UsageAlert{
		ID:           s.genID.Generate().String(),
		WorkspaceID:  workspaceID,
		ResourceType: resource,
		Threshold:    req.Threshold,
		AlertType:    alertType,
		WebhookURL:   webhookURL,
		IsEnabled:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.alerts.Create(ctx, alert.ID, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]*domain.UsageAlert, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspace
	}
	return s.alerts.List(ctx, []docstore.Predicate{docstore.Equal("workspace_id", workspaceID)}, 0)
}

func (s *Service) EvaluateAlert(ctx context.Context, alertID string) (domain.EvaluationResult, error) {
	alert, err := s.alerts.Get(ctx, strings.TrimSpace(alertID))
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	if alert == nil {
		return domain.EvaluationResult{}, domain.ErrAlertNotFound
	}
	return s.evaluate(ctx, alert), nil
}

// EvaluateAllAlerts evaluates every enabled alert. One alert failing never
// stops the others.
func (s *Service) EvaluateAllAlerts(ctx context.Context) (domain.EvaluationSummary, error) {
	alerts, err := s.alerts.List(ctx, []docstore.Predicate{docstore.Equal("is_enabled", true)}, 0)
	if err != nil {
		return domain.EvaluationSummary{}, err
	}

	summary := domain.EvaluationSummary{Results: make([]domain.EvaluationResult, 0, len(alerts))}
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Results = append(summary.Results, s.evaluate(ctx, alert))
	}
	summary.Evaluated = len(summary.Results)
	summary.Triggered = lo.CountBy(summary.Results, func(r domain.EvaluationResult) bool { return r.Triggered })
	summary.Skipped = lo.CountBy(summary.Results, func(r domain.EvaluationResult) bool { return r.Skipped })
	summary.Failed = lo.CountBy(summary.Results, func(r domain.EvaluationResult) bool { return r.Error != "" && !r.Skipped })

	s.log.Info("alert.evaluation_completed",
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("triggered", summary.Triggered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *Service) evaluate(ctx context.Context, alert *domain.UsageAlert) domain.EvaluationResult {
	res := domain.EvaluationResult{AlertID: alert.ID, WorkspaceID: alert.WorkspaceID, Threshold: alert.Threshold}
	now := s.clock.Now().UTC()

	if !alert.IsEnabled {
		return skipped(res, domain.SkipDisabled)
	}
	if alert.LastTriggeredAt != nil && now.Sub(*alert.LastTriggeredAt) < s.policy.Policy().AlertCooldown {
		return skipped(res, domain.SkipCooldown)
	}
	account := s.billing.Resolve(ctx, accountdomain.Lookup{WorkspaceID: alert.WorkspaceID})
	if account != nil && account.BillingStatus == accountdomain.StatusSuspended {
		res = skipped(res, domain.SkipAccountSuspended)
		res.Error = "billing account is suspended; alert not evaluated"
		return res
	}

	// Every event of the month counts toward the threshold; the listing is
	// never capped.
	from, to := usagedomain.MonthWindow(now)
	events, err := s.usage.ListEvents(ctx, usagedomain.ListEventsRequest{
		WorkspaceID:  alert.WorkspaceID,
		ResourceType: alert.ResourceType,
		From:         from,
		To:           to,
	})
	if err != nil {
		return s.failed(res, err)
	}
	res.CurrentUsage = usagedomain.ComputeTotals(events).Of(alert.ResourceType).InexactFloat64()
	if res.CurrentUsage < alert.Threshold {
		return res
	}

	dispatcher, ok := s.dispatchers[alert.AlertType]
	if !ok {
		return s.failed(res, fmt.Errorf("%w: %s", domain.ErrInvalidAlertType, alert.AlertType))
	}
	res.Channel = string(alert.AlertType)
	title, message := describe(alert, res.CurrentUsage)
	deliveryID, err := dispatcher.Dispatch(ctx, Notice{
		Alert:        alert,
		Title:        title,
		Message:      message,
		CurrentUsage: res.CurrentUsage,
		TriggeredAt:  now,
	})
	res.DeliveryID = deliveryID
	if err != nil {
		s.metrics.RecordAlertDispatch(ctx, res.Channel, dispatchOutcomeFailed)
		return s.failed(res, err)
	}
	s.metrics.RecordAlertDispatch(ctx, res.Channel, dispatchOutcomeSent)

	// Only a successful dispatch starts the cooldown.
	if err := s.alerts.Update(ctx, alert.ID, map[string]any{
		"last_triggered_at": now,
		"updated_at":        now,
	}); err != nil {
		return s.failed(res, err)
	}
	res.Triggered = true
	s.log.Info("alert.triggered",
		zap.String("alert_id", alert.ID),
		zap.String("workspace_id", alert.WorkspaceID),
		zap.String("channel", res.Channel),
		zap.Float64("current_usage", res.CurrentUsage),
		zap.Float64("threshold", alert.Threshold),
	)
	return res
}

func (s *Service) failed(res domain.EvaluationResult, err error) domain.EvaluationResult {
	res.Error = err.Error()
	s.log.Warn("alert.evaluation_failed", zap.String("alert_id", res.AlertID), zap.Error(err))
	return res
}

func skipped(res domain.EvaluationResult, reason string) domain.EvaluationResult {
	res.Skipped = true
	res.SkipReason = reason
	return res
}

func describe(alert *domain.UsageAlert, current float64) (string, string) {
	label, unit := "Compute", "units"
	switch alert.ResourceType {
	case usagedomain.ResourceTraffic:
		label, unit = "Traffic", "GB"
	case usagedomain.ResourceStorage:
		label, unit = "Storage", "GB"
	}
	title := fmt.Sprintf("%s usage alert", label)
	message := fmt.Sprintf("%s usage has reached %.2f %s this month, above your alert threshold of %.2f %s.",
		label, current, unit, alert.Threshold, unit)
	return title, message
}

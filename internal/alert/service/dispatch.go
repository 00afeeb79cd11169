package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingguard/internal/alert/domain"
	"github.com/smallbiznis/billingguard/internal/webhook"
	"github.com/smallbiznis/billingguard/pkg/docstore"
)

const (
	channelInApp   = "in_app"
	channelWebhook = "webhook"
)

// Notice is what a dispatcher delivers for one triggered alert.
type Notice struct {
	Alert        *domain.UsageAlert
	Title        string
	Message      string
	CurrentUsage float64
	TriggeredAt  time.Time
}

// Dispatcher delivers a notice over one channel and returns a delivery id.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notice) (string, error)
}

type inAppDispatcher struct {
	genID         *snowflake.Node
	notifications docstore.Collection[domain.Notification]
}

func (d *inAppDispatcher) Dispatch(ctx context.Context, n Notice) (string, error) {
	notification := &domain.Notification{
		ID:          d.genID.Generate().String(),
		WorkspaceID: n.Alert.WorkspaceID,
		Type:        domain.NotificationTypeUsageAlert,
		Title:       n.Title,
		Message:     n.Message,
		CreatedAt:   n.TriggeredAt,
	}
	if err := d.notifications.Create(ctx, notification.ID, notification); err != nil {
		return "", err
	}
	return notification.ID, nil
}

type webhookDispatcher struct {
	client webhook.Client
}

func (d *webhookDispatcher) Dispatch(ctx context.Context, n Notice) (string, error) {
	return d.client.Send(ctx, n.Alert.WebhookURL, webhook.Payload{
		AlertID:      n.Alert.ID,
		WorkspaceID:  n.Alert.WorkspaceID,
		ResourceType: string(n.Alert.ResourceType),
		Threshold:    n.Alert.Threshold,
		CurrentUsage: n.CurrentUsage,
		TriggeredAt:  n.TriggeredAt,
		Message:      n.Message,
	})
}

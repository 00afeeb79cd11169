// Package domain contains usage alerts and the notifications they produce.
package domain

import (
	"time"

	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
)

type AlertType string

const (
	AlertTypeInApp   AlertType = "in_app"
	AlertTypeWebhook AlertType = "webhook"
	AlertTypeEmail   AlertType = "email"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeInApp, AlertTypeWebhook, AlertTypeEmail:
		return true
	default:
		return false
	}
}

// UsageAlert fires when the current month's usage of a resource reaches
// Threshold. Traffic and storage thresholds are GiB, compute is units.
type UsageAlert struct {
	ID              string                   `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID     string                   `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	ResourceType    usagedomain.ResourceType `gorm:"type:text;not null" firestore:"resource_type" json:"resource_type"`
	Threshold       float64                  `gorm:"not null" firestore:"threshold" json:"threshold"`
	AlertType       AlertType                `gorm:"type:text;not null" firestore:"alert_type" json:"alert_type"`
	WebhookURL      string                   `gorm:"type:text" firestore:"webhook_url" json:"webhook_url,omitempty"`
	IsEnabled       bool                     `gorm:"not null;default:true;index" firestore:"is_enabled" json:"is_enabled"`
	LastTriggeredAt *time.Time               `firestore:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time                `gorm:"not null" firestore:"created_at" json:"created_at"`
	UpdatedAt       time.Time                `gorm:"not null" firestore:"updated_at" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageAlert) TableName() string { return "usage_alerts" }

func (a UsageAlert) DocumentID() string { return a.ID }

const NotificationTypeUsageAlert = "USAGE_ALERT"

// Notification is an in-app message. A nil UserID broadcasts to the whole
// workspace.
type Notification struct {
	ID          string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID string    `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	UserID      *string   `gorm:"type:text" firestore:"user_id" json:"user_id"`
	Type        string    `gorm:"type:text;not null" firestore:"type" json:"type"`
	Title       string    `gorm:"type:text;not null" firestore:"title" json:"title"`
	Message     string    `gorm:"type:text;not null" firestore:"message" json:"message"`
	IsRead      bool      `gorm:"not null;default:false" firestore:"is_read" json:"is_read"`
	CreatedAt   time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

func (n Notification) DocumentID() string { return n.ID }

// Package domain contains usage events, their per-period aggregations and the
// pure rules applied to them.
package domain

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ResourceType string

const (
	ResourceTraffic ResourceType = "TRAFFIC"
	ResourceStorage ResourceType = "STORAGE"
	ResourceCompute ResourceType = "COMPUTE"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceTraffic, ResourceStorage, ResourceCompute:
		return true
	default:
		return false
	}
}

// UsageEvent is write-once. Traffic and storage units are bytes; compute
// units are raw units with an optional weighted value.
type UsageEvent struct {
	ID                string            `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID       string            `gorm:"type:text;not null;index:ix_usage_events_workspace_ts,priority:1" firestore:"workspace_id" json:"workspace_id"`
	BillingEntityID   string            `gorm:"type:text;index:ix_usage_events_entity_ts,priority:1" firestore:"billing_entity_id" json:"billing_entity_id"`
	ResourceType      ResourceType      `gorm:"type:text;not null" firestore:"resource_type" json:"resource_type"`
	Units             float64           `gorm:"not null" firestore:"units" json:"units"`
	WeightedUnits     *float64          `firestore:"weighted_units" json:"weighted_units,omitempty"`
	Timestamp         time.Time         `gorm:"not null;index:ix_usage_events_workspace_ts,priority:2;index:ix_usage_events_entity_ts,priority:2" firestore:"timestamp" json:"timestamp"`
	OriginalTimestamp *time.Time        `firestore:"original_timestamp" json:"original_timestamp,omitempty"`
	AdjustReason      string            `gorm:"type:text" firestore:"adjust_reason" json:"adjust_reason,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"type:json" firestore:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

func (e UsageEvent) DocumentID() string { return e.ID }

// UsageAggregation is the rollup of one workspace over one period. It is
// mutable only until IsFinalized is set.
type UsageAggregation struct {
	ID                string     `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID       string     `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	BillingAccountID  string     `gorm:"type:text;index" firestore:"billing_account_id" json:"billing_account_id,omitempty"`
	PeriodStart       time.Time  `gorm:"not null" firestore:"period_start" json:"period_start"`
	PeriodEnd         time.Time  `gorm:"not null" firestore:"period_end" json:"period_end"`
	TrafficTotalGB    float64    `gorm:"column:traffic_total_gb;not null;default:0" firestore:"traffic_total_gb" json:"traffic_total_gb"`
	StorageTotalGB    float64    `gorm:"column:storage_total_gb;not null;default:0" firestore:"storage_total_gb" json:"storage_total_gb"`
	StorageAverageGB  float64    `gorm:"column:storage_average_gb;not null;default:0" firestore:"storage_average_gb" json:"storage_average_gb"`
	ComputeTotalUnits float64    `gorm:"not null;default:0" firestore:"compute_total_units" json:"compute_total_units"`
	EventCount        int        `gorm:"not null;default:0" firestore:"event_count" json:"event_count"`
	IsFinalized       bool       `gorm:"not null;default:false" firestore:"is_finalized" json:"is_finalized"`
	FinalizedAt       *time.Time `firestore:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" firestore:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" firestore:"updated_at" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageAggregation) TableName() string { return "usage_aggregations" }

func (a UsageAggregation) DocumentID() string { return a.ID }

// AggregationID is deterministic so rebuilding a period updates the same
// document.
func AggregationID(workspaceID string, periodStart time.Time) string {
	return fmt.Sprintf("agg_%s_%s", workspaceID, periodStart.UTC().Format("20060102"))
}

// MonthWindow returns the calendar month containing t in UTC.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0).Add(-time.Millisecond)
}

package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("workspace_id", "ws_1"),
		attribute.String("resource_type", "TRAFFIC"),
		attribute.String("outcome", "allowed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "workspace_id" {
			t.Fatalf("expected workspace_id to be dropped")
		}
	}
}

func TestRecordUsageWrite(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "billingguard"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordUsageWrite(ctx, "COMPUTE", "allowed")
	m.RecordUsageWrite(ctx, "COMPUTE", "allowed")
	m.RecordUsageWrite(ctx, "COMPUTE", "billing_suspended")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "billingguard_usage_writes_total" {
				continue
			}
			found = true
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if !found || total != 3 {
		t.Fatalf("expected 3 usage writes, found=%v total=%d", found, total)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordUsageWrite(context.Background(), "TRAFFIC", "allowed")
	m.RecordAlertDispatch(context.Background(), "webhook", "failed")
}

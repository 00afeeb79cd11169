package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes business-event instruments exported over OTLP.
type Metrics struct {
	usageWrites       metric.Int64Counter
	usageAdjustments  metric.Int64Counter
	alertDispatches   metric.Int64Counter
	statusTransitions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billingguard"
	}
	meter := provider.Meter(name)

	usageWrites, err := meter.Int64Counter("billingguard_usage_writes_total")
	if err != nil {
		return nil, err
	}
	usageAdjustments, err := meter.Int64Counter("billingguard_usage_adjustments_total")
	if err != nil {
		return nil, err
	}
	alertDispatches, err := meter.Int64Counter("billingguard_alert_dispatches_total")
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("billingguard_status_transitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageWrites:       usageWrites,
		usageAdjustments:  usageAdjustments,
		alertDispatches:   alertDispatches,
		statusTransitions: statusTransitions,
	}, nil
}

// RecordUsageWrite counts guarded usage writes by outcome (allowed, blocked reason).
func (m *Metrics) RecordUsageWrite(ctx context.Context, resourceType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource_type", strings.TrimSpace(resourceType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.usageWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageAdjustment counts events whose timestamp was reclassified.
func (m *Metrics) RecordUsageAdjustment(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.usageAdjustments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertDispatch counts usage alert deliveries by channel and outcome.
func (m *Metrics) RecordAlertDispatch(ctx context.Context, channel, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.alertDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatusTransition counts billing status changes.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource_type": {},
	"outcome":       {},
	"reason":        {},
	"channel":       {},
	"from":          {},
	"to":            {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

package observability

import (
	"github.com/smallbiznis/billingguard/internal/observability/logger"
	"github.com/smallbiznis/billingguard/internal/observability/metrics"
	"github.com/smallbiznis/billingguard/internal/observability/sentry"
	"github.com/smallbiznis/billingguard/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing, metrics and error reporting. It expects a
// config.Config in the graph.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.NewBillingMetrics,
		sentryConfig,
		sentry.New,
	),
	// The tracer provider and scheduler collectors must exist before the
	// first request or job, even when nothing depends on them directly.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)

func loggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Debug:       cfg.Debug(),
	}
}

func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.Otel.exporting(),
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ExporterProtocol: cfg.Otel.Protocol,
		SamplingRatio:    cfg.Otel.SamplingRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Otel.exporting(),
		ExporterEndpoint: cfg.Otel.Endpoint,
		ExporterProtocol: cfg.Otel.Protocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func sentryConfig(cfg Config) sentry.Config {
	return sentry.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Version,
		SampleRate:  cfg.Sentry.SampleRate,
		Debug:       cfg.Debug(),
	}
}

package observability

import (
	"testing"

	"github.com/smallbiznis/billingguard/internal/config"
)

func TestLoadConfigDefaultsFromAppConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{
		AppVersion:   "1.2.3",
		Environment:  "production",
		OTLPEndpoint: "otel:4317",
		Sentry:       config.SentryConfig{DSN: " https://key@sentry.example.com/1 ", SampleRate: 0.5},
	})

	if cfg.ServiceName != "billingguard" || cfg.Version != "1.2.3" {
		t.Fatalf("unexpected identity %+v", cfg)
	}
	if cfg.Otel.Endpoint != "otel:4317" || !cfg.Otel.exporting() {
		t.Fatalf("expected exporting to app endpoint, got %+v", cfg.Otel)
	}
	if cfg.Sentry.DSN != "https://key@sentry.example.com/1" {
		t.Fatalf("dsn must be trimmed, got %q", cfg.Sentry.DSN)
	}
	if cfg.Debug() {
		t.Fatalf("production at info level must not be debug")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := LoadConfig(config.Config{Environment: "production", OTLPEndpoint: "otel:4317"})
	if cfg.Otel.exporting() {
		t.Fatalf("OTEL_ENABLED=false must disable export")
	}
	if cfg.Otel.Protocol != "http" {
		t.Fatalf("expected traces protocol override, got %q", cfg.Otel.Protocol)
	}
	if !cfg.Debug() {
		t.Fatalf("debug level must enable debug")
	}
}

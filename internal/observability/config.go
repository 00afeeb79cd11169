package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/billingguard/internal/config"
)

const defaultServiceName = "billingguard"

// Config is the observability view of the process configuration. Service
// identity comes from config.Config; the OTEL_* and LOG_* variables follow
// the OpenTelemetry and zap conventions and are read here.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Log    LogConfig
	Otel   OtelConfig
	Sentry SentryConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func (c OtelConfig) exporting() bool {
	return c.Enabled && c.Endpoint != ""
}

type SentryConfig struct {
	DSN        string
	SampleRate float64
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = defaultServiceName
	}

	protocol := envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := envString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName: service,
		Environment: envString("DEPLOYMENT_ENV", cfg.Environment),
		Version:     envString("SERVICE_VERSION", cfg.AppVersion),
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
		Otel: OtelConfig{
			Enabled:       envBool("OTEL_ENABLED", true),
			Endpoint:      envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
			Protocol:      strings.ToLower(protocol),
			SamplingRatio: envFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Sentry: SentryConfig{
			DSN:        strings.TrimSpace(cfg.Sentry.DSN),
			SampleRate: cfg.Sentry.SampleRate,
		},
	}
}

// Debug is true for LOG_LEVEL=debug and for every non-production environment.
func (c Config) Debug() bool {
	return c.Log.Level == "debug" || config.IsDevEnv(c.Environment)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(envString(key, ""))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(envString(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

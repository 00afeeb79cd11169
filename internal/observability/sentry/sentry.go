// Package sentry reports billing violations and unexpected failures to Sentry.
package sentry

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Debug       bool
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Service is safe to use when nil or disabled; every call becomes a no-op.
type Service struct {
	cfg Config
	log *zap.Logger
}

func New(lc fx.Lifecycle, cfg Config, log *zap.Logger) *Service {
	svc := &Service{cfg: cfg, log: log.Named("sentry")}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Enabled() {
				svc.log.Info("sentry disabled")
				return nil
			}
			err := sentry.Init(sentry.ClientOptions{
				Dsn:              cfg.DSN,
				Environment:      cfg.Environment,
				Release:          cfg.Release,
				Debug:            cfg.Debug,
				EnableTracing:    true,
				TracesSampleRate: cfg.SampleRate,
				TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
					if ctx.Span != nil && ctx.Span.Name == "GET /health" {
						return 0.0
					}
					return cfg.SampleRate
				}),
			})
			if err != nil {
				svc.log.Error("failed to initialize sentry", zap.Error(err))
				return err
			}
			svc.log.Info("sentry initialized",
				zap.String("environment", cfg.Environment),
				zap.Float64("sample_rate", cfg.SampleRate),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.Enabled() {
				sentry.Flush(2 * time.Second)
			}
			return nil
		},
	})

	return svc
}

func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled()
}

// CaptureException reports err with the given tags attached to a fresh scope.
func (s *Service) CaptureException(ctx context.Context, err error, tags map[string]string) {
	if !s.Enabled() || err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			if value == "" {
				continue
			}
			scope.SetTag(key, value)
		}
		hub.CaptureException(err)
	})
}

func (s *Service) AddBreadcrumb(category, message string, data map[string]interface{}) {
	if !s.Enabled() {
		return
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    sentry.LevelInfo,
		Data:     data,
	})
}

// Flush waits for queued events to be sent.
func (s *Service) Flush(timeout time.Duration) bool {
	if !s.Enabled() {
		return true
	}
	return sentry.Flush(timeout)
}

package server

import (
	"context"
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/smallbiznis/billingguard/internal/alert/domain"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	cycledomain "github.com/smallbiznis/billingguard/internal/billingcycle/domain"
	"github.com/smallbiznis/billingguard/internal/config"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	"github.com/smallbiznis/billingguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/billingguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingguard/internal/observability/metrics"
	obssentry "github.com/smallbiznis/billingguard/internal/observability/sentry"
	obstracing "github.com/smallbiznis/billingguard/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	"github.com/smallbiznis/billingguard/internal/ratelimit"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
	Sentry      *obssentry.Service `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if p.Sentry.Enabled() {
		r.Use(sentrygin.New(sentrygin.Options{
			Repanic:         true,
			WaitForDelivery: false,
			Timeout:         2 * time.Second,
		}))
	}
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{ErrorClassifier: classifyErrorForLog}))
	r.Use(obsmetrics.GinMiddleware(p.HTTPMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	billingSvc   accountdomain.Service
	cycleSvc     cycledomain.Service
	usageSvc     usagedomain.Service
	invoiceSvc   invoicedomain.Service
	orgSvc       orgdomain.Service
	invariantSvc invdomain.Service
	alertSvc     alertdomain.Service
	usageLimiter *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	BillingSvc   accountdomain.Service
	CycleSvc     cycledomain.Service
	UsageSvc     usagedomain.Service
	InvoiceSvc   invoicedomain.Service
	OrgSvc       orgdomain.Service
	InvariantSvc invdomain.Service
	AlertSvc     alertdomain.Service
	UsageLimiter *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		billingSvc:   p.BillingSvc,
		cycleSvc:     p.CycleSvc,
		usageSvc:     p.UsageSvc,
		invoiceSvc:   p.InvoiceSvc,
		orgSvc:       p.OrgSvc,
		invariantSvc: p.InvariantSvc,
		alertSvc:     p.AlertSvc,
		usageLimiter: p.UsageLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", RequestContext())

	// -------- Billing accounts --------
	billing := api.Group("/billing")
	{
		billing.GET("/accounts/resolve", s.ResolveBillingAccount)
		billing.POST("/accounts", s.EnsureBillingAccount)
		billing.GET("/warning-state", s.GetWarningState)
		billing.GET("/accounts/:id", s.GetBillingAccount)
		billing.POST("/accounts/:id/status", s.TransitionBillingStatus)
		billing.GET("/accounts/:id/invoices", s.ListAccountInvoices)

		// -------- Billing cycle --------
		billing.GET("/accounts/:id/cycle/lock", s.GetCycleLock)
		billing.POST("/accounts/:id/cycle/lock", s.LockCycle)
		billing.POST("/accounts/:id/cycle/unlock", s.UnlockCycle)
		billing.POST("/accounts/:id/cycle/advance", s.AdvanceCycle)
	}

	// -------- Usage --------
	api.GET("/usage/events", s.ListUsageEvents)
	api.POST("/usage/events", s.UsageIngestRateLimit(), s.RecordUsage)
	api.POST("/usage/can-write", s.CanWriteUsage)
	api.GET("/usage/aggregations/:id", s.GetUsageAggregation)

	// -------- Invoices --------
	api.GET("/invoices/:id", s.GetInvoice)
	api.POST("/invoices/:id/issue", s.IssueInvoice)
	api.POST("/invoices/:id/pay", s.PayInvoice)
	api.POST("/invoices/:id/void", s.VoidInvoice)

	// -------- Organizations --------
	api.GET("/organizations/:id/members", s.ListOrganizationMembers)
	api.PATCH("/organizations/:id/members/:memberId", s.ChangeOrganizationMemberRole)
	api.DELETE("/organizations/:id/members/:memberId", s.RemoveOrganizationMember)

	// -------- Invariants --------
	api.GET("/invariants/accounts", s.AuditBillingAccounts)
	api.GET("/invariants/accounts/:id", s.AuditBillingAccount)
	api.GET("/invariants/organizations/:id", s.AuditOrganization)
	api.GET("/invariants/aggregations/:id", s.ReconcileAggregation)

	// -------- Alerts --------
	api.GET("/alerts", s.ListAlerts)
	api.POST("/alerts", s.CreateAlert)
	api.POST("/alerts/evaluate", s.EvaluateAlerts)
	api.POST("/alerts/:id/evaluate", s.EvaluateAlert)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

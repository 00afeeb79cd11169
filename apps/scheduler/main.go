package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingguard/internal/alert"
	"github.com/smallbiznis/billingguard/internal/billingaccount"
	"github.com/smallbiznis/billingguard/internal/billingcycle"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/distlock"
	"github.com/smallbiznis/billingguard/internal/invariant"
	"github.com/smallbiznis/billingguard/internal/invoice"
	"github.com/smallbiznis/billingguard/internal/observability"
	"github.com/smallbiznis/billingguard/internal/scheduler"
	"github.com/smallbiznis/billingguard/internal/usage"
	"github.com/smallbiznis/billingguard/internal/webhook"
	"github.com/smallbiznis/billingguard/pkg/db"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
)

func main() {
	cfg := config.Load()
	// A dedicated scheduler process always runs its jobs.
	cfg.Scheduler.Enabled = true

	storage := fx.Options(db.Module, backend.Module)
	if cfg.DocStoreBackend == config.DocStoreFirestore {
		storage = backend.Module
	}

	app := fx.New(
		fx.Supply(cfg),
		observability.Module,
		fx.Provide(
			config.NewBillingPolicyHolder,
			func(h *config.BillingPolicyHolder) config.PolicyProvider { return h },
		),
		fx.Provide(RegisterSnowflake),
		storage,
		clock.Module,
		distlock.Module,
		webhook.Module,

		// Domain services required by scheduler
		billingaccount.Module,
		billingcycle.Module,
		usage.Module,
		invoice.Module,
		invariant.Module,
		alert.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingguard/internal/alert"
	"github.com/smallbiznis/billingguard/internal/authorization"
	"github.com/smallbiznis/billingguard/internal/billingaccount"
	"github.com/smallbiznis/billingguard/internal/billingcycle"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/distlock"
	"github.com/smallbiznis/billingguard/internal/invariant"
	"github.com/smallbiznis/billingguard/internal/invoice"
	"github.com/smallbiznis/billingguard/internal/migration"
	"github.com/smallbiznis/billingguard/internal/observability"
	"github.com/smallbiznis/billingguard/internal/organization"
	"github.com/smallbiznis/billingguard/internal/ratelimit"
	"github.com/smallbiznis/billingguard/internal/scheduler"
	"github.com/smallbiznis/billingguard/internal/server"
	"github.com/smallbiznis/billingguard/internal/usage"
	"github.com/smallbiznis/billingguard/internal/webhook"
	"github.com/smallbiznis/billingguard/pkg/db"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
)

// The monolith serves the HTTP API and, when SCHEDULER_ENABLED is set, runs
// the period-close and audit jobs in the same process.
func main() {
	cfg := config.Load()

	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		storage(cfg),
		migration.Module,
		clock.Module,
		distlock.Module,
		ratelimit.Module,
		webhook.Module,
		authorization.Module,

		// Billing domains
		billingaccount.Module,
		billingcycle.Module,
		usage.Module,
		invoice.Module,
		invariant.Module,
		organization.Module,
		alert.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

// storage opens SQL only when the document store runs on it.
func storage(cfg config.Config) fx.Option {
	if cfg.DocStoreBackend == config.DocStoreFirestore {
		return backend.Module
	}
	return fx.Options(db.Module, backend.Module)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

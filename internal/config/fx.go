package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingPolicyHolder),
	fx.Provide(func(h *BillingPolicyHolder) PolicyProvider { return h }),
)

package webhook

import "go.uber.org/fx"

var Module = fx.Module("webhook.client",
	fx.Provide(NewClient),
)

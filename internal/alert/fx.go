package alert

import (
	"github.com/smallbiznis/billingguard/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(service.NewService),
)

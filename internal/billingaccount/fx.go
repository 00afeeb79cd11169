package billingaccount

import (
	"github.com/smallbiznis/billingguard/internal/billingaccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingaccount.service",
	fx.Provide(service.NewService),
)

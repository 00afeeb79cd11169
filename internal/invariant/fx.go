package invariant

import (
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	"github.com/smallbiznis/billingguard/internal/invariant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invariant.service",
	checker.Module,
	fx.Provide(service.NewService),
)

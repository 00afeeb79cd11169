package organization

import (
	"github.com/smallbiznis/billingguard/internal/authorization"
	"github.com/smallbiznis/billingguard/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	authorization.Module,
	fx.Provide(service.NewService),
)

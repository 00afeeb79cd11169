package checker

import "go.uber.org/fx"

var Module = fx.Module("invariant.checker",
	fx.Provide(NewRecorder),
	fx.Provide(NewChecker),
)

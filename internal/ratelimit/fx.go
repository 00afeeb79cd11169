package ratelimit

import "go.uber.org/fx"

// Module provides a *UsageIngestLimiter; it is nil when throttling is off.
var Module = fx.Module("ratelimit.usage_ingest",
	fx.Provide(NewUsageIngestLimiter),
)

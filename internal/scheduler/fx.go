package scheduler

import (
	"context"

	"github.com/smallbiznis/billingguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

// registerLifecycle runs the billing jobs in the background while the app is
// up. Stop waits for the in-flight tick to return so a period close is never
// cut off between locking a cycle and advancing it.
func registerLifecycle(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		sched.log.Info("scheduler.disabled")
		return
	}

	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			sched.log.Info("scheduler.start",
				zap.Duration("interval", sched.cfg.RunInterval),
				zap.Strings("jobs", sched.enabledJobs()),
			)
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

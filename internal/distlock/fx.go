package distlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingguard/internal/config"
	"go.uber.org/fx"
)

const keyPrefix = "billingguard:lock:"

var Module = fx.Module("distlock",
	fx.Provide(NewRedisClient),
	fx.Provide(func(client *redis.Client) *Locker {
		return NewLocker(client, keyPrefix)
	}),
)

// NewRedisClient returns nil when REDIS_ADDR is unset; consumers treat a nil
// client as "single instance, no shared state".
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/config"
)

// Module provides a *redis.Client, or nil when redis is disabled. Consumers
// must handle the nil case.
func Module() fx.Option {
	return fx.Options(
		fx.Provide(newClient),
	)
}

func newClient(lifecycle fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("redis disabled, failed-login counters are kept in process memory")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()

	client, err := NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))

	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing redis connection")
			return client.Close()
		},
	})
	return client, nil
}

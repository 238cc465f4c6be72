package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/config"
)

// Module syncs the postgres schema on start. With the sqlite driver, or with
// database.auto_migrate set, it does nothing; the app module auto-migrates
// instead.
func Module() fx.Option {
	return fx.Invoke(registerHooks)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	logger *zap.Logger,
) error {
	if cfg.Database.Driver != config.DriverPostgres || cfg.Database.AutoMigrate {
		return nil
	}

	migrator, err := NewMigrator(&cfg.Database, logger.Named("migration"))
	if err != nil {
		return err
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return migrator.Sync(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return migrator.Close()
		},
	})
	return nil
}

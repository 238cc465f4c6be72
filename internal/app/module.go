package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/cache"
	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/dashboard"
	"github.com/elskow/ditzler/internal/database"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/migration"
	"github.com/elskow/ditzler/internal/notify"
	"github.com/elskow/ditzler/internal/server"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Infrastructure
		database.Module(),
		migration.Module(),
		cache.Module(),
		metrics.Module(),
		notify.Module(),

		// Domain
		auth.NewModule(),
		dashboard.NewModule(),

		// Server
		fx.Provide(server.NewServer),

		fx.Invoke(autoMigrate),
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewLogger(env)
}

// autoMigrate builds the schema from the models on sqlite, or on postgres
// when database.auto_migrate is set. Goose migrations cover postgres
// otherwise.
func autoMigrate(cfg *config.AppConfig, manager *database.Manager) error {
	if cfg.Database.Driver != config.DriverSQLite && !cfg.Database.AutoMigrate {
		return nil
	}
	models := append(auth.Models(), dashboard.Models()...)
	return manager.AutoMigrate(models...)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Stop(ctx)
		},
	})
}

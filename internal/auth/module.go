package auth

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/notify"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			// Provide repository
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			// Provide failed-attempt tracker
			newAttemptTracker,
			// Provide anomaly checker
			newAnomalyChecker,
			// Provide service
			fx.Annotate(
				func(
					cfg *config.AppConfig,
					log *zap.Logger,
					repo Repository,
					attempts AttemptTracker,
					checker AnomalyChecker,
					mailer notify.Mailer,
					m *metrics.Metrics,
				) *Service {
					return NewService(cfg, log.Named("auth"), repo, attempts, checker, mailer, m)
				},
			),
			// Provide handler
			fx.Annotate(
				func(svc *Service, cfg *config.AppConfig, log *zap.Logger) *Handler {
					return NewHandler(svc, &cfg.Auth, log.Named("auth.http"))
				},
			),
			// Provide middleware
			fx.Annotate(
				func(svc *Service, cfg *config.AppConfig, log *zap.Logger) *AuthMiddleware {
					return NewAuthMiddleware(svc, &cfg.Auth, log.Named("auth.guard"))
				},
			),
			// Provide janitor
			fx.Annotate(
				func(repo Repository, log *zap.Logger, m *metrics.Metrics) *Janitor {
					return NewJanitor(repo, log.Named("auth.janitor"), m)
				},
			),
		),
		fx.Invoke(registerJanitor),
	)
}

// newAttemptTracker uses redis when a client is configured and falls back to
// process memory otherwise.
func newAttemptTracker(cfg *config.AppConfig, client *redis.Client, log *zap.Logger) AttemptTracker {
	window := cfg.Auth.Lockout.Window
	if client == nil {
		log.Warn("using in-memory failed-attempt tracker; counters reset on restart")
		return NewMemoryAttemptTracker(window)
	}
	return NewRedisAttemptTracker(client, cfg.Redis.KeyPrefix, window)
}

func newAnomalyChecker(cfg *config.AppConfig, log *zap.Logger) AnomalyChecker {
	if cfg.Anomaly.Endpoint == "" {
		log.Info("no anomaly checker endpoint configured, anomaly checks disabled")
		return NoopAnomalyChecker{}
	}
	log.Info("anomaly checker enabled",
		zap.String("endpoint", cfg.Anomaly.Endpoint),
		zap.Bool("fail_open", cfg.Anomaly.FailOpen))
	return NewHTTPAnomalyChecker(cfg.Anomaly.Endpoint, cfg.Anomaly.Timeout)
}

func registerJanitor(lifecycle fx.Lifecycle, cfg *config.AppConfig, janitor *Janitor) {
	if !cfg.Janitor.Enabled {
		return
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return janitor.Start(cfg.Janitor.Schedule)
		},
		OnStop: func(ctx context.Context) error {
			janitor.Stop(ctx)
			return nil
		},
	})
}

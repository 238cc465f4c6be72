package dashboard

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
)

func NewModule() fx.Option {
	return fx.Provide(
		func(db *gorm.DB) Repository {
			return NewRepository(db)
		},
		func(repo Repository, users *auth.Service, cfg *config.AppConfig, log *zap.Logger) *Service {
			return NewService(repo, users, &cfg.Dashboard, log.Named("dashboard"))
		},
		func(svc *Service, log *zap.Logger) *Handler {
			return NewHandler(svc, log.Named("dashboard.http"))
		},
	)
}

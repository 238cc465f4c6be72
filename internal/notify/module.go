package notify

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/config"
)

func Module() fx.Option {
	return fx.Provide(NewMailer)
}

// NewMailer picks the mailer named by mail.driver.
func NewMailer(cfg *config.AppConfig, log *zap.Logger) Mailer {
	log = log.Named("mailer")
	if cfg.Mail.Driver == config.MailDriverSMTP {
		return NewSMTPMailer(&cfg.Mail, log)
	}
	return NewLogMailer(log)
}

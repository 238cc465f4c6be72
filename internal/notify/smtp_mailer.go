package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/elskow/ditzler/internal/config"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPMailer struct {
	cfg    *config.MailConfig
	dialer dialer
	log    *zap.Logger
}

func NewSMTPMailer(cfg *config.MailConfig, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		log:    log,
	}
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("send password reset: empty recipient")
	}

	body, err := renderReset(msg)
	if err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.cfg.From)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", resetSubject)
	gm.SetBody("text/html", body)

	// gomail has no context support; give up early if the caller already has.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}

	m.log.Info("password reset email sent", zap.String("to", msg.To))
	return nil
}

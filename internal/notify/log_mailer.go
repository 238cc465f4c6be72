package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes reset links to the log instead of sending them. Intended
// for development.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	m.log.Info("password reset link",
		zap.String("to", msg.To),
		zap.String("link", msg.Link),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

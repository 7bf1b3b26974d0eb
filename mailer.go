package crowdauth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogMailer writes reset codes to a logger instead of sending mail. It is
// meant for local development; codes end up in the log.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(l *zap.Logger) *LogMailer {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogMailer{log: l.With(zap.String("component", "mailer.log"))}
}

func (m *LogMailer) SendPasswordResetCode(_ context.Context, to, code string, expiresAt time.Time) error {
	m.log.Warn("password reset code",
		zap.String("to", to),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

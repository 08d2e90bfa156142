// Package notify delivers password reset tokens out of band.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type ResetSender interface {
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresAt time.Time) error
}

// LogSender stands in for email delivery. It logs that a reset was issued
// without writing the usable token to the log.
type LogSender struct {
	BaseURL string
	Logger  logrus.FieldLogger
}

func NewLogSender(baseURL string, logger logrus.FieldLogger) *LogSender {
	return &LogSender{BaseURL: strings.TrimRight(baseURL, "/"), Logger: logger}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, toEmail, token string, expiresAt time.Time) error {
	_ = ctx
	s.Logger.WithFields(logrus.Fields{
		"email":      toEmail,
		"token":      Mask(token),
		"link":       s.resetLink(),
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Info("password reset token issued")
	return nil
}

func (s *LogSender) resetLink() string {
	if s.BaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/reset-password", s.BaseURL)
}

// Mask keeps the first 6 characters of a secret.
func Mask(secret string) string {
	const keep = 6
	if len(secret) <= keep {
		return strings.Repeat("*", len(secret))
	}
	return secret[:keep] + strings.Repeat("*", 8)
}

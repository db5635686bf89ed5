package email

import (
	"context"
	"newsletter/pkg/logger"

	"go.uber.org/zap"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (LogSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	logger.Info("email sent to log",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.Int("text_bytes", len(textBody)),
		zap.Int("html_bytes", len(htmlBody)))
	return nil
}

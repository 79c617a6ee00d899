package external

import (
	"context"
	"log/slog"
)

// LogSender is the local development transport. It logs every send and
// always succeeds.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("sender", "log")}
}

// Send logs the notification.
func (l *LogSender) Send(ctx context.Context, userID, adID int64) error {
	l.logger.InfoContext(ctx, "notification sent", "user_id", userID, "ad_id", adID)
	return nil
}

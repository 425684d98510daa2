package monitor

import (
	"context"

	"go.uber.org/zap"
)

// AlertSink delivers alert messages, e.g. to a chat.
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// LogSink writes alerts to the log. Used when no chat is configured.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(_ context.Context, message string) error {
	s.Log.Warn("alert", zap.String("message", message))
	return nil
}

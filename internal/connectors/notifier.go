package connectors

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier — доставка "в журнал" для локальной разработки.
// Боевые каналы (email, whatsapp) подключаются своими реализациями
// tools.NotificationSender.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, userID, clientID, channel, message string) error {
	n.logger.Info("notification dispatched",
		zap.String("user_id", userID),
		zap.String("client_id", clientID),
		zap.String("channel", channel),
		zap.Int("message_len", len(message)),
	)
	return nil
}

package alerts

import (
	"context"

	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/telegram"
)

// LogSink writes alerts to the application log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"identity", alert.Identity,
		"type", string(alert.Type),
		"severity", string(alert.Severity),
		"threshold", alert.Threshold,
	}
	if alert.Severity == SeverityInfo {
		s.logger.InfoWithContext(ctx, alert.Message, fields...)
	} else {
		s.logger.WarnWithContext(ctx, alert.Message, fields...)
	}
	return nil
}

// TelegramBot is the subset of the Telegram notifier used by BotSink.
type TelegramBot interface {
	SendAlert(ctx context.Context, alert telegram.Alert) error
	IsEnabled() bool
}

// BotSink forwards alerts to Telegram.
type BotSink struct {
	bot TelegramBot
}

// NewBotSink wraps bot.
func NewBotSink(bot TelegramBot) *BotSink {
	return &BotSink{bot: bot}
}

// Name implements Sink.
func (s *BotSink) Name() string { return "telegram" }

// Send implements Sink.
func (s *BotSink) Send(ctx context.Context, alert Alert) error {
	if s.bot == nil || !s.bot.IsEnabled() {
		return nil
	}
	return s.bot.SendAlert(ctx, telegram.Alert{
		ID:        alert.ID,
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		Identity:  alert.Identity,
		Threshold: alert.Threshold,
		Timestamp: alert.Timestamp,
	})
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*BotSink)(nil)
)

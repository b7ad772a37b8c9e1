package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogProvider writes messages to the log instead of delivering them. It stands
// in for channels without a configured provider.
type LogProvider struct {
	channel string
	logger  *zap.Logger
}

// NewLogProvider builds a log-only provider for channel.
func NewLogProvider(channel string, logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{channel: channel, logger: logger}
}

// Name implements Provider.
func (p *LogProvider) Name() string { return "log-" + p.channel }

// Send implements Provider.
func (p *LogProvider) Send(_ context.Context, msg Message) error {
	p.logger.Info("notification delivered to log",
		zap.String("channel", p.channel),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}

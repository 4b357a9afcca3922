package notify

import (
	"context"
	"log/slog"
)

// LogGateway records notifications in the structured log instead of handing
// them to a mail provider.
type LogGateway struct {
	from   string
	extra  []string
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway. extra recipients are added to every message.
func NewLogGateway(from string, extra []string, logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{from: from, extra: extra, logger: logger}
}

// Send implements Gateway.
func (g *LogGateway) Send(_ context.Context, m Message) (bool, error) {
	recipients := mergeRecipients(m.Recipients, g.extra)
	if g.from == "" || len(recipients) == 0 {
		g.logger.Debug("notification skipped, delivery not configured",
			"senderConfigured", g.from != "",
			"requestedRecipients", m.Recipients)
		return false, nil
	}

	g.logger.Info("notification issued",
		"from", g.from,
		"to", recipients,
		"subject", m.Subject)
	return true, nil
}

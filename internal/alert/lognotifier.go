package alert

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to the structured log. Used when no push
// channel is configured; the audit trail still records every anomaly, so
// nothing is lost, only less loud.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the alert.
func (n *LogNotifier) Send(ctx context.Context, recipientUserID, title, body string, priority Priority, metadata map[string]any) error {
	n.logger.InfoContext(ctx, "alert",
		slog.String("recipient", recipientUserID),
		slog.String("title", title),
		slog.String("body", body),
		slog.String("priority", string(priority)))
	return nil
}

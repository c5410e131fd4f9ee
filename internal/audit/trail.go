package audit

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Trail is the single audit entry point used by every other component.
//
// Record never returns an error: a broken audit pipe must not block the
// primary business operation (e.g. recording someone's check-in). Failures
// are logged and counted instead.
type Trail struct {
	repo     Repository
	logger   *slog.Logger
	failures prometheus.Counter
}

// NewTrail creates a Trail writing to repo.
func NewTrail(repo Repository, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		repo:   repo,
		logger: logger,
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit entries that could not be persisted",
		}),
	}
}

// Register registers the trail's metrics with the given registry.
func (t *Trail) Register(reg prometheus.Registerer) error {
	return reg.Register(t.failures)
}

// Record appends an audit entry. actorUserID is empty for system-initiated
// entries. Persistence failures are swallowed after being logged and counted.
func (t *Trail) Record(ctx context.Context, actorUserID, action, entityType, entityID string, severity Severity, metadata map[string]any) {
	entry := Entry{
		ActorUserID: actorUserID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Severity:    severity,
		Metadata:    metadata,
	}

	if _, err := t.repo.Append(ctx, entry); err != nil {
		t.failures.Inc()
		t.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("error", err.Error()),
			slog.String("action", action),
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID))
	}
}

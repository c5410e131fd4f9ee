package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/clockguard/internal/audit"
)

// DefaultRecipientTimeout bounds each individual delivery attempt.
const DefaultRecipientTimeout = 3 * time.Second

// Fanout dispatches alerts to individual recipients and to all holders of a
// role. Delivery is best effort: a failure for one recipient never prevents
// the others from being notified, and never fails the triggering operation.
type Fanout struct {
	notifier  Notifier
	directory RoleDirectory
	trail     *audit.Trail
	logger    *slog.Logger
	timeout   time.Duration
	failures  prometheus.Counter
}

// NewFanout creates a Fanout. timeout bounds each per-recipient delivery;
// zero selects DefaultRecipientTimeout.
func NewFanout(notifier Notifier, directory RoleDirectory, trail *audit.Trail, logger *slog.Logger, timeout time.Duration) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRecipientTimeout
	}
	return &Fanout{
		notifier:  notifier,
		directory: directory,
		trail:     trail,
		logger:    logger,
		timeout:   timeout,
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alert_delivery_failures_total",
			Help: "Total number of alert deliveries that failed",
		}),
	}
}

// Register registers the fan-out metrics with the given registry.
func (f *Fanout) Register(reg prometheus.Registerer) error {
	return reg.Register(f.failures)
}

// Notify delivers one alert to one recipient. Failures are swallowed after
// being logged, counted, and written to the audit trail at low severity so
// the gap stays discoverable.
func (f *Fanout) Notify(ctx context.Context, recipientUserID, title, body string, priority Priority, metadata map[string]any) {
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.notifier.Send(sendCtx, recipientUserID, title, body, priority, metadata); err != nil {
		f.failures.Inc()
		f.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("recipient", recipientUserID),
			slog.String("priority", string(priority)),
			slog.String("error", err.Error()))
		f.trail.Record(ctx, "", audit.ActionAlertDeliveryFailed, audit.EntityUser,
			recipientUserID, audit.SeverityInfo, map[string]any{
				"title": title,
				"error": err.Error(),
			})
	}
}

// NotifyRole resolves the active holders of role at call time (a live query,
// never a cached list) and notifies each concurrently. Blocks until every
// delivery attempt has completed or timed out, keeping the caller's latency
// bounded by the per-recipient timeout rather than the sum of deliveries.
func (f *Fanout) NotifyRole(ctx context.Context, role, title, body string, priority Priority, metadata map[string]any) {
	recipients, err := f.directory.ListActiveUsersWithRole(ctx, role)
	if err != nil {
		f.failures.Inc()
		f.logger.WarnContext(ctx, "failed to resolve role recipients",
			slog.String("role", role),
			slog.String("error", err.Error()))
		return
	}

	var wg sync.WaitGroup
	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			f.Notify(ctx, recipient, title, body, priority, metadata)
		}(recipient)
	}
	wg.Wait()
}

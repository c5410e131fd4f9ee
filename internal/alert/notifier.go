// Package alert provides severity-driven alert fan-out and the priority
// mapping between anomaly severities and notification channels.
package alert

import (
	"context"

	"github.com/onnwee/clockguard/internal/anomaly"
)

// Priority selects the notification channel class. Channel mechanics are the
// Notifier's concern; this package only decides the priority.
type Priority string

// Notification priorities.
const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Notifier is the external delivery capability. Delivery is fire-and-forget
// from the engine's perspective; retries and backoff are the Notifier's concern.
type Notifier interface {
	Send(ctx context.Context, recipientUserID, title, body string, priority Priority, metadata map[string]any) error
}

// RoleDirectory resolves the active accounts holding a role at call time.
type RoleDirectory interface {
	ListActiveUsersWithRole(ctx context.Context, role string) ([]string, error)
}

// PriorityForSeverity maps a finding severity to a notification priority.
// The oversight role is paged harder than the subject for mid-grade findings:
// the reviewer needs the push, the subject just needs visibility.
func PriorityForSeverity(sev anomaly.Severity, oversight bool) Priority {
	switch sev {
	case anomaly.SeverityLow:
		return PriorityNormal
	case anomaly.SeverityMedium:
		if oversight {
			return PriorityHigh
		}
		return PriorityNormal
	case anomaly.SeverityHigh:
		if oversight {
			return PriorityUrgent
		}
		return PriorityHigh
	case anomaly.SeverityCritical:
		return PriorityUrgent
	}
	return PriorityNormal
}

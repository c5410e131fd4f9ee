package anomaly

import (
	"fmt"
	"time"
)

// Default evaluator tunables.
const (
	DefaultReviewThreshold  = 60
	DefaultQuietHourStart   = 6
	DefaultQuietHourEnd     = 22
	DefaultDuplicateWindow  = 5 * time.Minute
	DefaultChurnDeviceLimit = 3
)

// Config holds the evaluator tunables.
type Config struct {
	// ReviewThreshold is the confidence below which a verification result
	// needs review even when not a hard mismatch.
	ReviewThreshold int
	// QuietHourStart: events before this local hour are unusual.
	QuietHourStart int
	// QuietHourEnd: events at or after this local hour are unusual.
	QuietHourEnd int
	// DuplicateWindow is how far back a same-kind event counts as a duplicate.
	DuplicateWindow time.Duration
	// ChurnDeviceLimit is the number of distinct devices allowed in the
	// churn lookback window before the churn rule fires.
	ChurnDeviceLimit int
}

// DefaultConfig returns the default evaluator configuration.
func DefaultConfig() Config {
	return Config{
		ReviewThreshold:  DefaultReviewThreshold,
		QuietHourStart:   DefaultQuietHourStart,
		QuietHourEnd:     DefaultQuietHourEnd,
		DuplicateWindow:  DefaultDuplicateWindow,
		ChurnDeviceLimit: DefaultChurnDeviceLimit,
	}
}

// EventContext describes the event under evaluation.
type EventContext struct {
	SubjectUserID string
	// Kind is "CHECK_IN" or "CHECK_OUT".
	Kind       string
	OccurredAt time.Time
}

// ScoreResult is the verification scorer's output for the event's photo.
// Nil when no photo was supplied.
type ScoreResult struct {
	Matched    bool
	Confidence int
	Reason     string
}

// RegistryResult is the fingerprint registry's output for the event's device.
// Nil when no fingerprint was supplied.
type RegistryResult struct {
	DeviceID string
	IsNew    bool
	Trusted  bool
	// RecentDistinctDevices is the number of distinct devices (any trust
	// level) seen for the subject within the churn lookback window.
	RecentDistinctDevices int
}

// HistoryEvent is a prior event of the same subject, used by the temporal rules.
type HistoryEvent struct {
	Kind       string
	OccurredAt time.Time
}

// Finding is a candidate anomaly before it is persisted.
type Finding struct {
	Kind     Kind
	Severity Severity
	Reason   string
	Context  map[string]any
}

// Evaluator applies the fixed detection rules to a single event.
// It holds no state beyond its configuration; evaluation is deterministic.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator with the given configuration.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate runs the rules in fixed priority order and returns the first
// finding, or nil when the event is clean. History must be the subject's
// recent events, newest first.
//
// Rule order is deliberate: a verification failure is the most actionable
// signal and must not be masked by a secondary coincidence such as the same
// event also being a duplicate.
func (e *Evaluator) Evaluate(ev EventContext, score *ScoreResult, reg *RegistryResult, history []HistoryEvent) *Finding {
	if f := e.verificationFailure(score); f != nil {
		return f
	}
	if f := e.unusualHours(ev); f != nil {
		return f
	}
	if f := e.duplicateEvent(ev, history); f != nil {
		return f
	}
	if f := e.missingCheckout(ev, history); f != nil {
		return f
	}
	if f := e.deviceChurn(reg); f != nil {
		return f
	}
	return nil
}

// Rule 1: a photo was supplied and the match failed or scored below the
// review threshold.
func (e *Evaluator) verificationFailure(score *ScoreResult) *Finding {
	if score == nil {
		return nil
	}
	if score.Matched && score.Confidence >= e.cfg.ReviewThreshold {
		return nil
	}

	reason := fmt.Sprintf("face verification failed (confidence %d)", score.Confidence)
	if score.Reason != "" {
		reason = fmt.Sprintf("face verification failed: %s (confidence %d)", score.Reason, score.Confidence)
	}
	return &Finding{
		Kind:     KindVerificationFailure,
		Severity: SeverityHigh,
		Reason:   reason,
		Context: map[string]any{
			"matched":    score.Matched,
			"confidence": score.Confidence,
		},
	}
}

// Rule 2: event local time-of-day outside the quiet-hours window.
func (e *Evaluator) unusualHours(ev EventContext) *Finding {
	hour := ev.OccurredAt.Hour()
	if hour >= e.cfg.QuietHourStart && hour < e.cfg.QuietHourEnd {
		return nil
	}
	return &Finding{
		Kind:     KindUnusualHours,
		Severity: SeverityMedium,
		Reason:   fmt.Sprintf("event at %s is outside normal working hours", ev.OccurredAt.Format("15:04")),
		Context: map[string]any{
			"hour": hour,
		},
	}
}

// Rule 3: an event of the same kind within the preceding duplicate window.
func (e *Evaluator) duplicateEvent(ev EventContext, history []HistoryEvent) *Finding {
	cutoff := ev.OccurredAt.Add(-e.cfg.DuplicateWindow)
	for _, h := range history {
		if h.Kind != ev.Kind {
			continue
		}
		if h.OccurredAt.Before(cutoff) || h.OccurredAt.After(ev.OccurredAt) {
			continue
		}
		return &Finding{
			Kind:     KindDuplicateEvent,
			Severity: SeverityMedium,
			Reason:   fmt.Sprintf("duplicate %s within %s of the previous one", ev.Kind, e.cfg.DuplicateWindow),
			Context: map[string]any{
				"previous_at": h.OccurredAt,
			},
		}
	}
	return nil
}

// Rule 4: a check-in whose immediately preceding event was also a check-in.
func (e *Evaluator) missingCheckout(ev EventContext, history []HistoryEvent) *Finding {
	if ev.Kind != "CHECK_IN" || len(history) == 0 {
		return nil
	}
	if history[0].Kind != "CHECK_IN" {
		return nil
	}
	return &Finding{
		Kind:     KindMissingCheckout,
		Severity: SeverityLow,
		Reason:   "previous check-in was never checked out",
		Context: map[string]any{
			"previous_at": history[0].OccurredAt,
		},
	}
}

// Rule 5: more distinct devices in the lookback window than allowed.
func (e *Evaluator) deviceChurn(reg *RegistryResult) *Finding {
	if reg == nil || reg.RecentDistinctDevices <= e.cfg.ChurnDeviceLimit {
		return nil
	}
	return &Finding{
		Kind:     KindDeviceChurn,
		Severity: SeverityMedium,
		Reason:   fmt.Sprintf("%d distinct devices used recently (limit %d)", reg.RecentDistinctDevices, e.cfg.ChurnDeviceLimit),
		Context: map[string]any{
			"distinct_devices": reg.RecentDistinctDevices,
		},
	}
}

package anomaly

import (
	"testing"
	"time"
)

// base is a weekday mid-morning timestamp that triggers no temporal rule.
var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestEvaluateRules(t *testing.T) {
	eval := NewEvaluator(DefaultConfig())

	tests := []struct {
		name     string
		ev       EventContext
		score    *ScoreResult
		reg      *RegistryResult
		history  []HistoryEvent
		wantKind Kind
		wantSev  Severity
		wantNone bool
	}{
		{
			name:     "clean event with no evidence",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			wantNone: true,
		},
		{
			name:     "clean event with strong match",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			score:    &ScoreResult{Matched: true, Confidence: 90},
			wantNone: true,
		},
		{
			name:     "hard verification failure",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			score:    &ScoreResult{Matched: false, Confidence: 40},
			wantKind: KindVerificationFailure,
			wantSev:  SeverityHigh,
		},
		{
			name:     "matched but below review threshold",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			score:    &ScoreResult{Matched: true, Confidence: 55},
			wantKind: KindVerificationFailure,
			wantSev:  SeverityHigh,
		},
		{
			name:     "early morning check-in",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC)},
			score:    &ScoreResult{Matched: true, Confidence: 95},
			wantKind: KindUnusualHours,
			wantSev:  SeverityMedium,
		},
		{
			name:     "late evening check-out",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_OUT", OccurredAt: time.Date(2025, 3, 10, 23, 5, 0, 0, time.UTC)},
			wantKind: KindUnusualHours,
			wantSev:  SeverityMedium,
		},
		{
			name: "duplicate check-in within window",
			ev:   EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			history: []HistoryEvent{
				{Kind: "CHECK_IN", OccurredAt: base.Add(-2 * time.Minute)},
			},
			wantKind: KindDuplicateEvent,
			wantSev:  SeverityMedium,
		},
		{
			name: "same kind outside window is missing checkout, not duplicate",
			ev:   EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			history: []HistoryEvent{
				{Kind: "CHECK_IN", OccurredAt: base.Add(-20 * time.Minute)},
			},
			wantKind: KindMissingCheckout,
			wantSev:  SeverityLow,
		},
		{
			name: "check-out never fires missing checkout",
			ev:   EventContext{SubjectUserID: "u1", Kind: "CHECK_OUT", OccurredAt: base},
			history: []HistoryEvent{
				{Kind: "CHECK_IN", OccurredAt: base.Add(-8 * time.Hour)},
			},
			wantNone: true,
		},
		{
			name:     "device churn over limit",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			reg:      &RegistryResult{DeviceID: "d1", RecentDistinctDevices: 4},
			wantKind: KindDeviceChurn,
			wantSev:  SeverityMedium,
		},
		{
			name:     "device count at limit does not fire",
			ev:       EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base},
			reg:      &RegistryResult{DeviceID: "d1", RecentDistinctDevices: 3},
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eval.Evaluate(tt.ev, tt.score, tt.reg, tt.history)

			if tt.wantNone {
				if got != nil {
					t.Fatalf("Evaluate() = %+v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatal("Evaluate() = nil, want a finding")
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Severity != tt.wantSev {
				t.Errorf("Severity = %s, want %s", got.Severity, tt.wantSev)
			}
			if got.Reason == "" {
				t.Error("Reason should not be empty")
			}
		})
	}
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	eval := NewEvaluator(DefaultConfig())

	// An event that is both a hard verification failure and a duplicate:
	// rule 1 must win, never rule 3.
	ev := EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: base}
	score := &ScoreResult{Matched: false, Confidence: 40}
	history := []HistoryEvent{
		{Kind: "CHECK_IN", OccurredAt: base.Add(-2 * time.Minute)},
	}

	got := eval.Evaluate(ev, score, nil, history)
	if got == nil {
		t.Fatal("Evaluate() = nil, want a finding")
	}
	if got.Kind != KindVerificationFailure {
		t.Errorf("Kind = %s, want %s (verification failure must mask duplicate)", got.Kind, KindVerificationFailure)
	}
	if got.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want %s", got.Severity, SeverityHigh)
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	eval := NewEvaluator(DefaultConfig())

	ev := EventContext{SubjectUserID: "u1", Kind: "CHECK_IN", OccurredAt: time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC)}
	score := &ScoreResult{Matched: true, Confidence: 95}
	history := []HistoryEvent{
		{Kind: "CHECK_OUT", OccurredAt: base.Add(-10 * time.Hour)},
	}

	first := eval.Evaluate(ev, score, nil, history)
	for i := 0; i < 10; i++ {
		got := eval.Evaluate(ev, score, nil, history)
		if got == nil || first == nil {
			t.Fatal("expected a finding on every evaluation")
		}
		if got.Kind != first.Kind || got.Severity != first.Severity || got.Reason != first.Reason {
			t.Fatalf("evaluation %d differed: %+v vs %+v", i, got, first)
		}
	}
}

func TestUnusualHoursRespectsEventTimezone(t *testing.T) {
	eval := NewEvaluator(DefaultConfig())

	// 02:15 local time in a +07:00 zone; the same instant is daytime UTC.
	loc := time.FixedZone("UTC+7", 7*60*60)
	ev := EventContext{
		SubjectUserID: "u1",
		Kind:          "CHECK_IN",
		OccurredAt:    time.Date(2025, 3, 10, 2, 15, 0, 0, loc),
	}

	got := eval.Evaluate(ev, nil, nil, nil)
	if got == nil || got.Kind != KindUnusualHours {
		t.Fatalf("Evaluate() = %+v, want UNUSUAL_HOURS based on local wall clock", got)
	}
}

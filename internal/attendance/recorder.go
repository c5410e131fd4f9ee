package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/clockguard/internal/alert"
	"github.com/onnwee/clockguard/internal/anomaly"
	"github.com/onnwee/clockguard/internal/audit"
	"github.com/onnwee/clockguard/internal/auth"
	"github.com/onnwee/clockguard/internal/device"
	"github.com/onnwee/clockguard/internal/tracing"
	"github.com/onnwee/clockguard/internal/verify"
)

// Recorder tunables.
const (
	// DefaultChurnWindow is the lookback for the device-churn heuristic.
	DefaultChurnWindow = 7 * 24 * time.Hour
	// historyLimit bounds how many prior events the temporal rules see.
	historyLimit = 10
)

// EvidenceStore persists the submitted photo blob and returns an opaque key.
type EvidenceStore interface {
	Store(ctx context.Context, subjectUserID string, photo []byte) (string, error)
}

// RecorderConfig holds the recorder tunables.
type RecorderConfig struct {
	// ChurnWindow is the lookback for counting distinct devices.
	ChurnWindow time.Duration
	// ReviewThreshold is the confidence below which a HIGH finding rejects
	// the event outright instead of parking it for review.
	ReviewThreshold int
}

// Recorder orchestrates verification, device registration, anomaly
// evaluation, persistence, auditing, and alerting for one attendance event.
// Its bias is record-and-flag: no downstream failure short of the primary
// event write prevents a legitimate event from being durably stored.
type Recorder struct {
	repo      Repository
	verifier  *verify.Adapter
	devices   *device.Registry
	evaluator *anomaly.Evaluator
	trail     *audit.Trail
	fanout    *alert.Fanout
	evidence  EvidenceStore
	metrics   *Metrics
	logger    *slog.Logger
	cfg       RecorderConfig

	subjects *subjectLocks
}

// NewRecorder creates a Recorder. evidence and metrics may be nil.
func NewRecorder(repo Repository, verifier *verify.Adapter, devices *device.Registry,
	evaluator *anomaly.Evaluator, trail *audit.Trail, fanout *alert.Fanout,
	evidence EvidenceStore, metrics *Metrics, logger *slog.Logger, cfg RecorderConfig) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChurnWindow <= 0 {
		cfg.ChurnWindow = DefaultChurnWindow
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = anomaly.DefaultReviewThreshold
	}
	return &Recorder{
		repo:      repo,
		verifier:  verifier,
		devices:   devices,
		evaluator: evaluator,
		trail:     trail,
		fanout:    fanout,
		evidence:  evidence,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		subjects:  newSubjectLocks(),
	}
}

// SubmitInput is one attendance submission. Everything except SubjectUserID
// and Kind is optional evidence.
type SubmitInput struct {
	SubjectUserID string
	Kind          Kind
	// OccurredAt defaults to now. Its location is the submitter's local
	// time; the unusual-hours rule evaluates the hour in that location.
	OccurredAt time.Time
	Evidence   Evidence
}

// Record processes one check-in or check-out end to end and returns the
// persisted event. Input errors are returned before anything is persisted.
// A failed primary write is surfaced as a retryable error; every other
// downstream failure degrades the event's flags rather than rejecting it.
func (r *Recorder) Record(ctx context.Context, input SubmitInput) (*Event, error) {
	started := time.Now()

	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, input.Kind)
	}
	if m := input.Evidence.CaptureMethod; m != "" && m != CaptureCamera && m != CaptureUpload {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCaptureMethod, m)
	}
	if input.Evidence.Photo != nil {
		if err := r.verifier.ValidatePhoto(input.Evidence.Photo); err != nil {
			return nil, err
		}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	ctx, endSpan := tracing.StartSpan(ctx, "record_attendance")
	var spanErr error
	defer func() { endSpan(spanErr) }()
	tracing.SetAttributes(ctx,
		attribute.String("attendance.subject", input.SubjectUserID),
		attribute.String("attendance.kind", string(input.Kind)))

	// Serialize per subject so the temporal rules evaluate against a
	// consistent read of this subject's history.
	r.subjects.lock(input.SubjectUserID)
	defer r.subjects.unlock(input.SubjectUserID)

	score, reg := r.gatherSignals(ctx, input)

	history, err := r.repo.ListBySubject(ctx, input.SubjectUserID, historyLimit)
	if err != nil {
		spanErr = fmt.Errorf("failed to load subject history: %w", err)
		return nil, spanErr
	}
	priorEvents := make([]anomaly.HistoryEvent, 0, len(history))
	for _, h := range history {
		priorEvents = append(priorEvents, anomaly.HistoryEvent{
			Kind:       string(h.Kind),
			OccurredAt: h.OccurredAt,
		})
	}

	finding := r.evaluator.Evaluate(anomaly.EventContext{
		SubjectUserID: input.SubjectUserID,
		Kind:          string(input.Kind),
		OccurredAt:    occurredAt,
	}, score, reg, priorEvents)

	ev := r.buildEvent(input, occurredAt, score, reg, finding)

	if r.evidence != nil && input.Evidence.Photo != nil {
		key, err := r.evidence.Store(ctx, input.SubjectUserID, input.Evidence.Photo)
		if err != nil {
			// The photo is supporting material; losing it does not
			// invalidate the event itself.
			r.logger.ErrorContext(ctx, "failed to store evidence photo",
				slog.String("subject", input.SubjectUserID),
				slog.String("error", err.Error()))
		} else {
			ev.PhotoKey = key
		}
	}

	var an *anomaly.Anomaly
	if finding != nil {
		tracing.AddEvent(ctx, "anomaly_detected",
			attribute.String("anomaly.kind", string(finding.Kind)),
			attribute.String("anomaly.severity", string(finding.Severity)))
		an = &anomaly.Anomaly{
			Kind:              finding.Kind,
			Severity:          finding.Severity,
			SubjectEntityType: audit.EntityAttendanceEvent,
			SubjectUserID:     input.SubjectUserID,
			Description:       finding.Reason,
			Context:           finding.Context,
		}
	}

	if err := r.persist(ctx, ev, an); err != nil {
		spanErr = err
		return nil, err
	}
	if an != nil && ev.AnomalyID == "" {
		// The anomaly row was lost in the fallback write. The finding
		// still stands, so reviewers are alerted from it; only the
		// row reference is gone.
		an.ID = ""
	}

	r.recordAudit(ctx, ev, an)
	if an != nil {
		r.notify(ctx, ev, an)
	}

	// A clean, hard-verified event from a known device is the elevated flow
	// that grants trust without an explicit owner action.
	if an == nil && score != nil && score.Matched && reg != nil {
		if err := r.devices.AutoTrust(ctx, input.SubjectUserID, reg.DeviceID); err != nil {
			r.logger.WarnContext(ctx, "failed to auto-trust device",
				slog.String("device_id", reg.DeviceID),
				slog.String("error", err.Error()))
		}
	}

	if r.metrics != nil {
		r.metrics.IncEventsRecorded(ev.Status)
		if an != nil {
			r.metrics.IncAnomaliesDetected(string(an.Kind))
		}
		r.metrics.ObserveRecordLatency(time.Since(started).Seconds())
	}

	return ev, nil
}

// gatherSignals runs the verification and device lookups concurrently; they
// have no data dependency on each other and the evaluator waits for both.
func (r *Recorder) gatherSignals(ctx context.Context, input SubmitInput) (*anomaly.ScoreResult, *anomaly.RegistryResult) {
	var (
		wg    sync.WaitGroup
		score *anomaly.ScoreResult
		reg   *anomaly.RegistryResult
	)

	if input.Evidence.Photo != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := r.verifier.Verify(ctx, input.SubjectUserID, input.Evidence.Photo)
			if err != nil {
				// Validation already passed; treat anything else as a
				// service failure and fail closed.
				score = &anomaly.ScoreResult{Matched: false, Confidence: 0, Reason: "verification service error"}
				return
			}
			score = &anomaly.ScoreResult{
				Matched:    result.Matched,
				Confidence: result.Confidence,
				Reason:     result.Reason,
			}
		}()
	}

	if input.Evidence.Fingerprint != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registration, err := r.devices.Register(ctx, input.SubjectUserID, *input.Evidence.Fingerprint)
			if err != nil {
				// A broken registry must not block the check-in; the
				// event simply carries no device signal.
				r.logger.ErrorContext(ctx, "device registration failed",
					slog.String("subject", input.SubjectUserID),
					slog.String("error", err.Error()))
				return
			}
			distinct, err := r.devices.CountRecentDistinctDevices(ctx, input.SubjectUserID, r.cfg.ChurnWindow)
			if err != nil {
				r.logger.WarnContext(ctx, "device churn count failed",
					slog.String("subject", input.SubjectUserID),
					slog.String("error", err.Error()))
			}
			reg = &anomaly.RegistryResult{
				DeviceID:              registration.DeviceID,
				IsNew:                 registration.IsNewDevice,
				Trusted:               registration.TrustLevel == device.TrustTrusted,
				RecentDistinctDevices: distinct,
			}
		}()
	}

	wg.Wait()
	return score, reg
}

func (r *Recorder) buildEvent(input SubmitInput, occurredAt time.Time,
	score *anomaly.ScoreResult, reg *anomaly.RegistryResult, finding *anomaly.Finding) *Event {
	ev := &Event{
		ID:            uuid.New().String(),
		SubjectUserID: input.SubjectUserID,
		Kind:          input.Kind,
		OccurredAt:    occurredAt,
		Status:        r.deriveStatus(finding, score),
		CaptureMethod: input.Evidence.CaptureMethod,
		SourceIP:      input.Evidence.SourceIP,
		Geolocation:   input.Evidence.Geolocation,
		CreatedAt:     time.Now().UTC(),
	}
	if score != nil {
		ev.FaceVerified = score.Matched
		ev.VerificationScore = score.Confidence
	}
	if reg != nil {
		ev.DeviceFingerprintID = reg.DeviceID
	}
	return ev
}

// deriveStatus classifies the event from the finding. REJECTED is reserved
// for a hard verification failure, a HIGH finding with confidence below the
// review threshold; any other finding only parks the event for review. The
// status is set once here and never revisited.
func (r *Recorder) deriveStatus(finding *anomaly.Finding, score *anomaly.ScoreResult) Status {
	if finding == nil {
		return StatusAccepted
	}
	if finding.Severity == anomaly.SeverityHigh && score != nil && score.Confidence < r.cfg.ReviewThreshold {
		return StatusRejected
	}
	return StatusPendingReview
}

// persist writes the event and its optional anomaly. An anomaly write
// failure is downgraded to an event-only write: the anomaly row is optional,
// the event is not.
func (r *Recorder) persist(ctx context.Context, ev *Event, an *anomaly.Anomaly) error {
	err := r.repo.Create(ctx, ev, an)
	if err == nil {
		return nil
	}
	if an == nil {
		return fmt.Errorf("failed to persist attendance event: %w", err)
	}

	r.logger.ErrorContext(ctx, "failed to persist event with anomaly, retrying event alone",
		slog.String("subject", ev.SubjectUserID),
		slog.String("error", err.Error()))
	ev.AnomalyID = ""
	if err := r.repo.Create(ctx, ev, nil); err != nil {
		return fmt.Errorf("failed to persist attendance event: %w", err)
	}
	return nil
}

func (r *Recorder) recordAudit(ctx context.Context, ev *Event, an *anomaly.Anomaly) {
	action := audit.ActionAttendanceCheckIn
	if ev.Kind == KindCheckOut {
		action = audit.ActionAttendanceCheckOut
	}
	severity := audit.SeverityInfo
	metadata := map[string]any{
		"status": string(ev.Status),
	}
	if an != nil {
		severity = audit.SeverityWarning
		metadata["anomaly_kind"] = string(an.Kind)
		if an.ID != "" {
			metadata["anomaly_id"] = an.ID
		}
	}
	r.trail.Record(ctx, ev.SubjectUserID, action, audit.EntityAttendanceEvent, ev.ID, severity, metadata)

	if an != nil {
		entityType, entityID := audit.EntityAnomaly, an.ID
		if an.ID == "" {
			// Without a row the detection is anchored to the event so
			// it stays discoverable.
			entityType, entityID = audit.EntityAttendanceEvent, ev.ID
		}
		r.trail.Record(ctx, "", audit.ActionAnomalyDetected, entityType, entityID,
			audit.SeverityWarning, map[string]any{
				"kind":     string(an.Kind),
				"severity": string(an.Severity),
				"event_id": ev.ID,
			})
	}
}

func (r *Recorder) notify(ctx context.Context, ev *Event, an *anomaly.Anomaly) {
	if r.fanout == nil {
		return
	}
	title := fmt.Sprintf("Attendance anomaly: %s", an.Kind)
	metadata := map[string]any{
		"event_id": ev.ID,
		"subject":  ev.SubjectUserID,
	}
	if an.ID != "" {
		metadata["anomaly_id"] = an.ID
	}
	r.fanout.Notify(ctx, ev.SubjectUserID, title, an.Description,
		alert.PriorityForSeverity(an.Severity, false), metadata)
	r.fanout.NotifyRole(ctx, auth.RoleOversight, title,
		fmt.Sprintf("%s for user %s: %s", an.Kind, ev.SubjectUserID, an.Description),
		alert.PriorityForSeverity(an.Severity, true), metadata)
}

// GetEvent retrieves one event by ID.
func (r *Recorder) GetEvent(ctx context.Context, id string) (*Event, error) {
	return r.repo.GetByID(ctx, id)
}

// ListEvents retrieves a subject's events, newest first.
func (r *Recorder) ListEvents(ctx context.Context, subjectUserID string, limit int) ([]*Event, error) {
	return r.repo.ListBySubject(ctx, subjectUserID, limit)
}

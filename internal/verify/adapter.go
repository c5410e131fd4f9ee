// Package verify adapts an external face verification scorer into the
// fail-closed result shape the attendance recorder consumes.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/clockguard/internal/audit"
)

// Default verification tunables.
const (
	DefaultMatchThreshold = 75
	DefaultPhotoMinBytes  = 10 * 1024
	DefaultPhotoMaxBytes  = 10 * 1024 * 1024
)

// Verification errors.
var (
	ErrPhotoTooSmall = errors.New("photo below minimum size")
	ErrPhotoTooLarge = errors.New("photo exceeds maximum size")
)

// Scorer is the external face comparison capability. Compare returns a
// similarity confidence in [0, 100].
type Scorer interface {
	Compare(ctx context.Context, reference, candidate []byte) (int, error)
}

// ReferenceStore resolves a user's enrolled reference photo. Returns
// ErrNoReference when the user has none enrolled.
type ReferenceStore interface {
	ReferencePhoto(ctx context.Context, userID string) ([]byte, error)
}

// ErrNoReference is returned by a ReferenceStore when no photo is enrolled.
var ErrNoReference = errors.New("no reference photo enrolled")

// Result is the adapter's verdict on one submitted photo.
type Result struct {
	Matched    bool   `json:"matched"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// Config holds the adapter tunables.
type Config struct {
	// MatchThreshold is the confidence at or above which a comparison
	// counts as a match.
	MatchThreshold int
	// PhotoMinBytes and PhotoMaxBytes bound the accepted photo size.
	PhotoMinBytes int
	PhotoMaxBytes int
}

// DefaultAdapterConfig returns the default adapter configuration.
func DefaultAdapterConfig() Config {
	return Config{
		MatchThreshold: DefaultMatchThreshold,
		PhotoMinBytes:  DefaultPhotoMinBytes,
		PhotoMaxBytes:  DefaultPhotoMaxBytes,
	}
}

// Adapter wraps a Scorer with size validation, fail-closed error handling,
// and audit logging. Scorer unavailability is never an acceptance path: any
// failure downstream of validation yields a non-matched result.
type Adapter struct {
	scorer Scorer
	refs   ReferenceStore
	trail  *audit.Trail
	logger *slog.Logger
	cfg    Config
}

// NewAdapter creates an Adapter.
func NewAdapter(scorer Scorer, refs ReferenceStore, trail *audit.Trail, logger *slog.Logger, cfg Config) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.PhotoMinBytes <= 0 {
		cfg.PhotoMinBytes = DefaultPhotoMinBytes
	}
	if cfg.PhotoMaxBytes <= 0 {
		cfg.PhotoMaxBytes = DefaultPhotoMaxBytes
	}
	return &Adapter{scorer: scorer, refs: refs, trail: trail, logger: logger, cfg: cfg}
}

// ValidatePhoto checks the submitted photo against the size envelope.
// A photo outside the envelope is a caller error, not a verification failure.
func (a *Adapter) ValidatePhoto(photo []byte) error {
	if len(photo) < a.cfg.PhotoMinBytes {
		return fmt.Errorf("%w: %d bytes, minimum %d", ErrPhotoTooSmall, len(photo), a.cfg.PhotoMinBytes)
	}
	if len(photo) > a.cfg.PhotoMaxBytes {
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrPhotoTooLarge, len(photo), a.cfg.PhotoMaxBytes)
	}
	return nil
}

// Verify scores the submitted photo against the user's reference photo.
// The returned error is only non-nil for caller errors (invalid photo);
// scorer and reference failures degrade to a non-matched Result instead,
// so an outage can never let an unverified event through as verified.
func (a *Adapter) Verify(ctx context.Context, userID string, photo []byte) (*Result, error) {
	if err := a.ValidatePhoto(photo); err != nil {
		return nil, err
	}

	reference, err := a.refs.ReferencePhoto(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoReference) {
			result := &Result{Matched: false, Confidence: 0, Reason: "no reference photo"}
			a.audit(ctx, userID, result, nil)
			return result, nil
		}
		a.logger.ErrorContext(ctx, "reference photo lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		result := &Result{Matched: false, Confidence: 0, Reason: "verification service error"}
		a.audit(ctx, userID, result, err)
		return result, nil
	}

	confidence, err := a.scorer.Compare(ctx, reference, photo)
	if err != nil {
		a.logger.ErrorContext(ctx, "face comparison failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		result := &Result{Matched: false, Confidence: 0, Reason: "verification service error"}
		a.audit(ctx, userID, result, err)
		return result, nil
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	result := &Result{Matched: confidence >= a.cfg.MatchThreshold, Confidence: confidence}
	if !result.Matched {
		result.Reason = "below match threshold"
	}
	a.audit(ctx, userID, result, nil)
	return result, nil
}

func (a *Adapter) audit(ctx context.Context, userID string, result *Result, cause error) {
	action := audit.ActionFaceVerificationAttempt
	severity := audit.SeverityInfo
	metadata := map[string]any{
		"matched":    result.Matched,
		"confidence": result.Confidence,
	}
	if result.Reason != "" {
		metadata["reason"] = result.Reason
	}
	if cause != nil {
		action = audit.ActionFaceVerificationError
		severity = audit.SeverityError
		metadata["error"] = cause.Error()
	}
	a.trail.Record(ctx, userID, action, audit.EntityUser, userID, severity, metadata)
}

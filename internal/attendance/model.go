// Package attendance records check-in and check-out events, derives their
// trust status from verification and anomaly signals, and keeps them
// immutable once written.
package attendance

import (
	"errors"
	"time"

	"github.com/onnwee/clockguard/internal/device"
)

// Kind is the direction of an attendance event.
type Kind string

// Event kinds.
const (
	KindCheckIn  Kind = "CHECK_IN"
	KindCheckOut Kind = "CHECK_OUT"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	return k == KindCheckIn || k == KindCheckOut
}

// Status is the trust classification assigned at creation time. It reflects
// what was known when the event was recorded and never changes afterwards.
type Status string

// Event statuses.
const (
	StatusAccepted      Status = "ACCEPTED"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusRejected      Status = "REJECTED"
)

// CaptureMethod describes how the evidence photo was obtained.
type CaptureMethod string

// Capture methods.
const (
	CaptureCamera CaptureMethod = "camera"
	CaptureUpload CaptureMethod = "upload"
)

// Recorder errors.
var (
	ErrInvalidKind          = errors.New("unknown attendance event kind")
	ErrNotFound             = errors.New("attendance event not found")
	ErrInvalidCaptureMethod = errors.New("unknown capture method")
)

// Geolocation is an optional capture location.
type Geolocation struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// Evidence is the optional supporting material submitted with an event.
// Every field may be absent; a missing photo or fingerprint simply skips
// the corresponding check.
type Evidence struct {
	Photo         []byte
	CaptureMethod CaptureMethod
	Fingerprint   *device.Payload
	SourceIP      string
	Geolocation   *Geolocation
}

// Event is one recorded attendance action. Created exactly once, never
// mutated or deleted by this system.
type Event struct {
	ID            string       `json:"id"`
	SubjectUserID string       `json:"subject_user_id"`
	Kind          Kind         `json:"kind"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Status        Status       `json:"status"`

	// Evidence references.
	PhotoKey            string        `json:"photo_key,omitempty"`
	CaptureMethod       CaptureMethod `json:"capture_method,omitempty"`
	DeviceFingerprintID string        `json:"device_fingerprint_id,omitempty"`
	SourceIP            string        `json:"source_ip,omitempty"`
	Geolocation         *Geolocation  `json:"geolocation,omitempty"`

	// Verification outcome. Zero values when no photo was supplied.
	FaceVerified      bool `json:"face_verified"`
	VerificationScore int  `json:"verification_score"`

	// AnomalyID links the finding persisted alongside this event, if any.
	AnomalyID string `json:"anomaly_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

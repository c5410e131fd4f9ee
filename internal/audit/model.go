// Package audit provides the append-only audit trail for every
// security-relevant decision the engine makes.
package audit

import (
	"time"
)

// Severity classifies how notable an audit entry is.
type Severity string

// Audit severities.
const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Actions form the fixed vocabulary of auditable operations.
const (
	ActionAttendanceCheckIn       = "ATTENDANCE_CHECK_IN"
	ActionAttendanceCheckOut      = "ATTENDANCE_CHECK_OUT"
	ActionAnomalyDetected         = "ANOMALY_DETECTED"
	ActionAnomalyResolved         = "ANOMALY_RESOLVED"
	ActionNewDeviceRegistered     = "NEW_DEVICE_REGISTERED"
	ActionDeviceTrusted           = "DEVICE_TRUSTED"
	ActionDeviceRevoked           = "DEVICE_REVOKED"
	ActionDeviceDeleted           = "DEVICE_DELETED"
	ActionFaceVerificationAttempt = "FACE_VERIFICATION_ATTEMPT"
	ActionFaceVerificationError   = "FACE_VERIFICATION_ERROR"
	ActionAlertDeliveryFailed     = "ALERT_DELIVERY_FAILED"
)

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionAttendanceCheckIn:       true,
	ActionAttendanceCheckOut:      true,
	ActionAnomalyDetected:         true,
	ActionAnomalyResolved:         true,
	ActionNewDeviceRegistered:     true,
	ActionDeviceTrusted:           true,
	ActionDeviceRevoked:           true,
	ActionDeviceDeleted:           true,
	ActionFaceVerificationAttempt: true,
	ActionFaceVerificationError:   true,
	ActionAlertDeliveryFailed:     true,
}

// Entity types referenced by audit entries.
const (
	EntityAttendanceEvent   = "attendance_event"
	EntityAnomaly           = "anomaly"
	EntityDeviceFingerprint = "device_fingerprint"
	EntityUser              = "user"
)

// ValidEntityTypes defines the allowed entity types for audit logging.
var ValidEntityTypes = map[string]bool{
	EntityAttendanceEvent:   true,
	EntityAnomaly:           true,
	EntityDeviceFingerprint: true,
	EntityUser:              true,
}

// Entry is a single audit record. Entries are never updated or deleted.
type Entry struct {
	ID string `json:"id"`
	// ActorUserID is empty for system-initiated entries.
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Severity    Severity       `json:"severity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

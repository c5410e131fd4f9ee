// Package anomaly provides the rule-based anomaly detector and the review
// workflow for flagged attendance irregularities.
package anomaly

import (
	"errors"
	"time"
)

// Kind identifies which detection rule produced an anomaly.
type Kind string

// Anomaly kinds, one per detection rule.
const (
	KindVerificationFailure Kind = "VERIFICATION_FAILURE"
	KindUnusualHours        Kind = "UNUSUAL_HOURS"
	KindDuplicateEvent      Kind = "DUPLICATE_EVENT"
	KindMissingCheckout     Kind = "MISSING_CHECKOUT"
	KindDeviceChurn         Kind = "DEVICE_CHURN"
)

// Severity grades how actionable an anomaly is.
type Severity string

// Anomaly severities.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the lifecycle state of an anomaly.
type Status string

// Anomaly lifecycle states. PENDING is the only non-terminal state.
const (
	StatusPending       Status = "PENDING"
	StatusResolved      Status = "RESOLVED"
	StatusFalsePositive Status = "FALSE_POSITIVE"
	StatusIgnored       Status = "IGNORED"
)

// TerminalStatus reports whether s is a valid resolution outcome.
func TerminalStatus(s Status) bool {
	switch s {
	case StatusResolved, StatusFalsePositive, StatusIgnored:
		return true
	}
	return false
}

// Workflow errors.
var (
	ErrNotFound        = errors.New("anomaly not found")
	ErrAlreadyResolved = errors.New("anomaly has already been resolved")
	ErrInvalidOutcome  = errors.New("outcome must be RESOLVED, FALSE_POSITIVE, or IGNORED")
	ErrNotOversight    = errors.New("reviewer must hold the oversight role")
)

// Anomaly is a flagged irregularity attached to an attendance event,
// awaiting human review. At most one anomaly is created per event.
type Anomaly struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`

	// Subject entity, usually the attendance event that triggered the finding.
	SubjectEntityType string `json:"subject_entity_type"`
	SubjectEntityID   string `json:"subject_entity_id"`
	// SubjectUserID is the employee the flagged event belongs to, kept
	// denormalized for alert routing and per-user queries.
	SubjectUserID string `json:"subject_user_id"`

	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`

	Status         Status     `json:"status"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Package device provides device fingerprint registration, de-duplication,
// and trust-level tracking.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// TrustLevel is the explicit trust state of a device. Trust is granted
// explicitly (by owner action or a verified attendance event), never by
// mere repetition.
type TrustLevel string

// Trust levels.
const (
	TrustUntrusted TrustLevel = "UNTRUSTED"
	TrustTrusted   TrustLevel = "TRUSTED"
)

// Registry errors.
var (
	ErrNotFound     = errors.New("device fingerprint not found")
	ErrNotOwner     = errors.New("device belongs to a different user")
	ErrEmptyPayload = errors.New("fingerprint payload is empty")
)

// Payload is the raw fingerprint material collected from the client.
type Payload struct {
	Platform         string `json:"platform"`
	Browser          string `json:"browser"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	CanvasHash       string `json:"canvas_hash"`
	WebGLHash        string `json:"webgl_hash"`
	UserAgent        string `json:"user_agent"`
}

// Normalize returns the payload in canonical form: trimmed, with the
// free-text fields lowercased so cosmetic variation does not mint new devices.
func (p Payload) Normalize() Payload {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return Payload{
		Platform:         lower(p.Platform),
		Browser:          lower(p.Browser),
		ScreenResolution: lower(p.ScreenResolution),
		Timezone:         strings.TrimSpace(p.Timezone),
		Language:         lower(p.Language),
		CanvasHash:       strings.TrimSpace(p.CanvasHash),
		WebGLHash:        strings.TrimSpace(p.WebGLHash),
		UserAgent:        strings.TrimSpace(p.UserAgent),
	}
}

// Empty reports whether the payload carries no identifying material at all.
func (p Payload) Empty() bool {
	return p == Payload{}
}

// Hash returns the deterministic content hash of the normalized payload.
func (p Payload) Hash() string {
	n := p.Normalize()
	h := sha256.New()
	for _, field := range []string{
		n.Platform, n.Browser, n.ScreenResolution, n.Timezone,
		n.Language, n.CanvasHash, n.WebGLHash, n.UserAgent,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0}) // field separator so adjacent fields cannot collide
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a registered device. At most one live record exists per
// (owner, hash) pair; repeated sightings advance LastSeenAt in place.
type Fingerprint struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Hash        string     `json:"hash"`
	Payload     Payload    `json:"payload"`
	TrustLevel  TrustLevel `json:"trust_level"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
}

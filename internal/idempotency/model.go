// Package idempotency provides models and services for idempotency key management.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Key represents a stored idempotency key with its cached response.
//
// A key is scoped to one attendance submission: a retried request carrying the
// same key and the same payload gets the original response back instead of
// recording a second event. A reused key with a different payload is a client
// bug and is rejected by the handler using RequestHash.
type Key struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	RequestHash        string    `json:"request_hash"`
	EventID            string    `json:"event_id,omitempty"`
	ResponseStatusCode int       `json:"response_status_code"`
	ResponseBody       string    `json:"response_body"`
	CreatedAt          time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// HashRequest computes a SHA256 hash over the request payload. Used to detect
// a key being reused with a different body.
func HashRequest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// Repository defines methods for idempotency key persistence.
type Repository interface {
	// Get retrieves an idempotency key by its key value.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(key string) (*Key, error)

	// Store saves a new idempotency key.
	// Returns ErrKeyExists if the key already exists.
	Store(record *Key) error

	// DeleteOlderThan removes idempotency keys older than the specified duration.
	// This is used for cleanup jobs to prevent unbounded storage growth.
	DeleteOlderThan(duration time.Duration) (int64, error)
}

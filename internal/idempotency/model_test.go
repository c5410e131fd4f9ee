package idempotency

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid key", key: "checkin-2026-03-10-u1", wantErr: nil},
		{name: "valid uuid-style key", key: "b7fdc3e0-43c1-4a36-9f0a-1a2b3c4d5e6f", wantErr: nil},
		{name: "empty key", key: "", wantErr: ErrInvalidKey},
		{name: "max length key", key: strings.Repeat("a", MaxKeyLength), wantErr: nil},
		{name: "too long", key: strings.Repeat("a", MaxKeyLength+1), wantErr: ErrKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); err != tt.wantErr {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestHashRequest(t *testing.T) {
	a := HashRequest([]byte(`{"kind":"CHECK_IN"}`))
	b := HashRequest([]byte(`{"kind":"CHECK_IN"}`))
	c := HashRequest([]byte(`{"kind":"CHECK_OUT"}`))

	if a != b {
		t.Error("expected identical payloads to hash identically")
	}
	if a == c {
		t.Error("expected different payloads to hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

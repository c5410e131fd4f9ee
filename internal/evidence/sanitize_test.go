package evidence

import (
	"encoding/base64"
	"os"
	"testing"
)

// getTestJPEG returns a JPEG for sanitizer tests, preferring a testdata file
// and falling back to an embedded 1x1 pixel image.
func getTestJPEG(t *testing.T) []byte {
	t.Helper()

	if data, err := os.ReadFile("testdata/sample.jpg"); err == nil {
		return data
	}

	base64JPEG := "/9j/4AAQSkZJRgABAQEASABIAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8UHRofHh0a" +
		"HBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/2wBDAQkJCQwLDBgNDRgyIRwhMjIyMjIy" +
		"MjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjL/wAARCAABAAEDASIA" +
		"AhEBAxEB/8QAFQABAQAAAAAAAAAAAAAAAAAAAAv/xAAUEAEAAAAAAAAAAAAAAAAAAAAA/8QAFQEB" +
		"AQAAAAAAAAAAAAAAAAAAAAX/xAAUEQEAAAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCwAB//2Q=="

	decoded, err := base64.StdEncoding.DecodeString(base64JPEG)
	if err != nil {
		t.Fatalf("failed to decode test image: %v", err)
	}
	return decoded
}

func TestSanitizer_Sanitize(t *testing.T) {
	photo := getTestJPEG(t)

	s := NewSanitizer(DefaultSanitizerConfig())
	out, err := s.Sanitize(photo)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}

	if len(out) == 0 {
		t.Fatal("sanitized image is empty")
	}
	// JPEG magic bytes.
	if out[0] != 0xFF || out[1] != 0xD8 {
		t.Errorf("sanitized output is not a JPEG, got leading bytes %x %x", out[0], out[1])
	}
}

func TestSanitizer_InvalidInput(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig())

	if _, err := s.Sanitize([]byte("not an image")); err == nil {
		t.Error("expected error for non-image input")
	}
}

func TestNewSanitizer_QualityBounds(t *testing.T) {
	tests := []struct {
		name    string
		quality int
		want    int
	}{
		{"valid", 70, 70},
		{"zero falls back to default", 0, 85},
		{"negative falls back to default", -5, 85},
		{"over 100 falls back to default", 150, 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSanitizer(SanitizerConfig{Quality: tt.quality})
			if s.cfg.Quality != tt.want {
				t.Errorf("expected quality %d, got %d", tt.want, s.cfg.Quality)
			}
		})
	}
}

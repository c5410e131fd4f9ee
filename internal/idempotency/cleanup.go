package idempotency

import (
	"log/slog"
	"time"

	"github.com/onnwee/clockguard/internal/jobs"
)

// DefaultExpiry is the default duration after which idempotency keys expire.
// Retries of an attendance submission arrive within seconds; a day of
// retention is generous.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes idempotency keys older than the specified duration.
// Returns the number of keys deleted and any error encountered.
func CleanupOldKeys(repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(expiry)
	if err != nil {
		slog.Error("failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}

	if deleted > 0 {
		slog.Info("cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}

	return deleted, nil
}

// RunPeriodicCleanup runs the cleanup job periodically at the specified interval.
// This function blocks and should typically be run in a goroutine.
// It will continue running until the provided stop channel is closed.
// metrics may be nil.
//
// Example usage:
//
//	stopChan := make(chan struct{})
//	go idempotency.RunPeriodicCleanup(repo, 1*time.Hour, idempotency.DefaultExpiry, jobMetrics, stopChan)
//	// ... later when shutting down
//	close(stopChan)
func RunPeriodicCleanup(repo Repository, interval, expiry time.Duration, metrics *jobs.Metrics, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		start := time.Now()
		_, err := CleanupOldKeys(repo, expiry)
		if metrics != nil {
			metrics.ObserveJob(jobs.JobTypeIdempotencyCleanup, time.Since(start), err)
		}
	}

	// Run cleanup immediately on start
	run()

	for {
		select {
		case <-ticker.C:
			run()
		case <-stopChan:
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}

package health

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestRedisChecker_Creation tests that the Redis checker is created correctly.
func TestRedisChecker_Creation(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	checker := NewRedisChecker(client)
	if checker == nil {
		t.Fatal("expected checker to be non-nil")
	}

	if checker.client != client {
		t.Error("expected checker client to match provided client")
	}
}

// TestRedisChecker_HealthCheck_ContextCancellation tests that a cancelled
// context does not hang the check.
func TestRedisChecker_HealthCheck_ContextCancellation(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	checker := NewRedisChecker(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	if err := checker.HealthCheck(ctx); err == nil {
		// Error is expected due to cancelled context or connection failure
		t.Log("HealthCheck completed (might be cached or immediate)")
	}
}

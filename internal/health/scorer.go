package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ScorerChecker implements health checking for the face verification scorer.
type ScorerChecker struct {
	url    string
	client *http.Client
}

// NewScorerChecker creates a new scorer health checker.
// The url should be the base URL of the scorer service.
func NewScorerChecker(url string) *ScorerChecker {
	return &ScorerChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck makes an HTTP request to the scorer. The scorer has no standard
// health endpoint, so reachability with a 2xx response counts as healthy.
func (s *ScorerChecker) HealthCheck(ctx context.Context) error {
	if s.url == "" {
		return fmt.Errorf("scorer url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scorer unhealthy: unexpected status code %d", resp.StatusCode)
	}

	return nil
}

package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPScorer calls an external face comparison service over HTTP. The
// service receives both images and answers with a similarity confidence;
// any transport or protocol failure surfaces as an error, which the
// Adapter turns into a fail-closed result.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates an HTTPScorer against the given endpoint.
func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type compareRequest struct {
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
}

type compareResponse struct {
	Confidence int `json:"confidence"`
}

// Compare submits both images and returns the service's confidence.
func (s *HTTPScorer) Compare(ctx context.Context, reference, candidate []byte) (int, error) {
	body, err := json.Marshal(compareRequest{
		Reference: base64.StdEncoding.EncodeToString(reference),
		Candidate: base64.StdEncoding.EncodeToString(candidate),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal compare request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build compare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("compare request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var result compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode compare response: %w", err)
	}
	return result.Confidence, nil
}

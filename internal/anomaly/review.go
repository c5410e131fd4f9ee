package anomaly

import (
	"context"
	"fmt"

	"github.com/onnwee/clockguard/internal/audit"
	"github.com/onnwee/clockguard/internal/auth"
)

// ReviewService performs the anomaly review workflow: transitioning an open
// anomaly to a terminal outcome. Resolution never touches the linked
// attendance event; the event's status is a historical fact of what was
// known at creation time.
type ReviewService struct {
	repo  Repository
	trail *audit.Trail
}

// NewReviewService creates a ReviewService.
func NewReviewService(repo Repository, trail *audit.Trail) *ReviewService {
	return &ReviewService{repo: repo, trail: trail}
}

// Resolve transitions a PENDING anomaly to the given outcome, stamping the
// resolution fields and auditing the decision. The reviewer's oversight role
// is asserted here as a precondition; the identity layer is expected to have
// already enforced it.
func (s *ReviewService) Resolve(ctx context.Context, anomalyID, reviewerUserID, reviewerRole string, outcome Status, note string) (*Anomaly, error) {
	if reviewerRole != auth.RoleOversight {
		return nil, ErrNotOversight
	}
	if !TerminalStatus(outcome) {
		return nil, ErrInvalidOutcome
	}

	resolved, err := s.repo.Resolve(ctx, anomalyID, outcome, reviewerUserID, note)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve anomaly %s: %w", anomalyID, err)
	}

	s.trail.Record(ctx, reviewerUserID, audit.ActionAnomalyResolved,
		audit.EntityAnomaly, resolved.ID, audit.SeverityInfo, map[string]any{
			"outcome": string(outcome),
			"kind":    string(resolved.Kind),
		})

	return resolved, nil
}

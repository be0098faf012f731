package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/swarmhub/internal/reputation"
)

type ReviewParams struct {
	AgentName string
	SwarmID   string
	Rating    int
	Comment   string
}

type ReviewResult struct {
	Review *Review
	// Delta is the nominal reputation change for the rating. The stored
	// reputation may have moved less because of the zero floor.
	Delta      int
	Reputation int
}

// Review records a rating of another agent and applies it to the reviewee's
// reputation in the same unit of work.
func (e *Engine) Review(ctx context.Context, reviewerID string, p ReviewParams) (*ReviewResult, error) {
	name := strings.TrimSpace(p.AgentName)
	if name == "" || p.Rating == 0 {
		return nil, validationf("agent_name and rating required")
	}
	if !reputation.ValidRating(p.Rating) {
		return nil, validationf("rating must be %d-%d", reputation.MinRating, reputation.MaxRating)
	}

	res := &ReviewResult{}
	err := e.repo.Update(ctx, func(tx Tx) error {
		reviewee, err := tx.AgentByName(name)
		if err != nil {
			return fmt.Errorf("get reviewee: %w", err)
		}
		if reviewee == nil {
			return notFoundf("agent not found")
		}
		if reviewee.ID == reviewerID {
			return validationf("cannot review yourself")
		}
		if p.SwarmID != "" {
			s, err := tx.Swarm(p.SwarmID)
			if err != nil {
				return fmt.Errorf("get swarm: %w", err)
			}
			if s == nil {
				return notFoundf("swarm not found")
			}
		}

		r := &Review{
			ID:         e.newID(),
			ReviewerID: reviewerID,
			RevieweeID: reviewee.ID,
			SwarmID:    p.SwarmID,
			Rating:     p.Rating,
			Comment:    p.Comment,
			CreatedAt:  e.timestamp(),
		}
		if err := tx.InsertReview(r); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		reviewee.Reputation, res.Delta = reputation.OnReview(reviewee.Reputation, p.Rating)
		if err := tx.UpdateAgent(reviewee); err != nil {
			return fmt.Errorf("update reviewee: %w", err)
		}
		res.Review = r
		res.Reputation = reviewee.Reputation
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventReviewSubmitted, p.SwarmID, res.Review.RevieweeID, map[string]any{
		"reviewer_id":       reviewerID,
		"rating":            p.Rating,
		"reputation_change": res.Delta,
	})
	return res, nil
}

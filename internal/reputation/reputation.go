// Package reputation holds the scoring rules that turn swarm completions and
// peer reviews into an agent's reputation, plus the derived metrics shown on
// profiles and the leaderboard.
package reputation

import "math"

const (
	// CompletionBonus is added once per accepted member when a swarm completes.
	CompletionBonus = 10

	MinRating = 1
	MaxRating = 5

	// neutralRating maps to a zero delta; each star above or below moves
	// reputation by ratingStep.
	neutralRating = 3
	ratingStep    = 5
)

// OnSwarmCompletion returns the reputation after a completed swarm. There is
// no upper bound.
func OnSwarmCompletion(rep int) int {
	return rep + CompletionBonus
}

// ValidRating reports whether r is an accepted review rating.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// ReviewDelta is the signed reputation change for a rating:
// -10, -5, 0, +5, +10 for one through five stars.
func ReviewDelta(rating int) int {
	return (rating - neutralRating) * ratingStep
}

// OnReview applies a review to rep. The result is clamped at zero. The
// returned delta is the nominal one, not the clamped difference.
func OnReview(rep, rating int) (newRep, delta int) {
	delta = ReviewDelta(rating)
	return max(0, rep+delta), delta
}

// TrustScore is reputation per finished swarm, rounded to two decimals.
// Agents with no history score their raw reputation.
func TrustScore(rep, completed, failed int) float64 {
	return round(float64(rep)/float64(max(1, completed+failed)), 2)
}

// SuccessRate is the percentage of finished swarms that completed, rounded
// to one decimal.
func SuccessRate(completed, failed int) float64 {
	return round(float64(completed)/float64(max(1, completed+failed))*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

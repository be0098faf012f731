package store

import (
	"database/sql"
	"fmt"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

func (t *tx) InsertReview(r *swarm.Review) error {
	_, err := t.exec(`
		INSERT INTO reviews (id, reviewer_id, reviewee_id, swarm_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReviewerID, r.RevieweeID, nullString(r.SwarmID), r.Rating, r.Comment, unix(r.CreatedAt))
	if isUniqueViolation(err) {
		return swarm.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ReviewsFor returns the reviews an agent received, newest first.
func (t *tx) ReviewsFor(revieweeID string, limit int) ([]swarm.Review, error) {
	rows, err := t.query(`
		SELECT id, reviewer_id, reviewee_id, swarm_id, rating, comment, created_at
		FROM reviews WHERE reviewee_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, revieweeID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []swarm.Review
	for rows.Next() {
		var r swarm.Review
		var swarmID sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.ReviewerID, &r.RevieweeID, &swarmID, &r.Rating, &r.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.SwarmID = swarmID.String
		r.CreatedAt = fromUnix(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

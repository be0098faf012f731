package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

const swarmColumns = `id, name, description, creator_id, status, required_skills, max_members, payment_total, deliverable, deadline, created_at, completed_at`

func scanSwarm(sc scanner, extra ...any) (*swarm.Swarm, error) {
	s := &swarm.Swarm{}
	var status, skills string
	var deadline, completedAt sql.NullInt64
	var createdAt int64
	dest := []any{&s.ID, &s.Name, &s.Description, &s.CreatorID, &status, &skills, &s.MaxMembers,
		&s.PaymentTotal, &s.Deliverable, &deadline, &createdAt, &completedAt}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var err error
	if s.Status, err = swarm.ParseStatus(status); err != nil {
		return nil, err
	}
	if s.RequiredSkills, err = decodeTags(skills); err != nil {
		return nil, err
	}
	s.Deadline = fromNullUnix(deadline)
	s.CreatedAt = fromUnix(createdAt)
	s.CompletedAt = fromNullUnix(completedAt)
	return s, nil
}

func (t *tx) Swarm(id string) (*swarm.Swarm, error) {
	row := t.queryRow(`SELECT `+swarmColumns+` FROM swarms WHERE id = ?`, id)
	s, err := scanSwarm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm: %w", err)
	}
	return s, nil
}

func (t *tx) InsertSwarm(s *swarm.Swarm) error {
	skills, err := encodeTags(s.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = t.exec(`
		INSERT INTO swarms (`+swarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, s.CreatorID, string(s.Status), skills, s.MaxMembers,
		s.PaymentTotal, s.Deliverable, nullUnix(s.Deadline), unix(s.CreatedAt), nullUnix(s.CompletedAt))
	if isUniqueViolation(err) {
		return swarm.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert swarm: %w", err)
	}
	return nil
}

func (t *tx) UpdateSwarm(s *swarm.Swarm) error {
	skills, err := encodeTags(s.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = t.exec(`
		UPDATE swarms SET
			name = ?,
			description = ?,
			status = ?,
			required_skills = ?,
			max_members = ?,
			payment_total = ?,
			deliverable = ?,
			deadline = ?,
			completed_at = ?
		WHERE id = ?`,
		s.Name, s.Description, string(s.Status), skills, s.MaxMembers, s.PaymentTotal,
		s.Deliverable, nullUnix(s.Deadline), nullUnix(s.CompletedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update swarm: %w", err)
	}
	return nil
}

func (t *tx) ListSwarms(f swarm.SwarmFilter) ([]swarm.SwarmSummary, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, `s.status = ?`)
		args = append(args, string(f.Status))
	}
	if f.Skill != "" {
		conds = append(conds, tagMatch("s.required_skills"))
		args = append(args, containsPattern(f.Skill))
	}

	cols := make([]string, 0, 12)
	for _, c := range strings.Split(swarmColumns, ", ") {
		cols = append(cols, "s."+c)
	}
	q := `SELECT ` + strings.Join(cols, ", ") + `,
			COALESCE(a.name, ''),
			(SELECT COUNT(*) FROM swarm_members m WHERE m.swarm_id = s.id AND m.status = 'accepted')
		FROM swarms s
		LEFT JOIN agents a ON a.id = s.creator_id`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY s.created_at DESC, s.id LIMIT ?`
	args = append(args, sqlLimit(f.Limit))

	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list swarms: %w", err)
	}
	defer rows.Close()

	var out []swarm.SwarmSummary
	for rows.Next() {
		var sum swarm.SwarmSummary
		s, err := scanSwarm(rows, &sum.CreatorName, &sum.MemberCount)
		if err != nil {
			return nil, fmt.Errorf("scan swarm: %w", err)
		}
		sum.Swarm = *s
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (t *tx) OverdueSwarms(now time.Time) ([]swarm.Swarm, error) {
	rows, err := t.query(`
		SELECT `+swarmColumns+` FROM swarms
		WHERE deadline IS NOT NULL AND deadline < ? AND status IN ('recruiting', 'active')
		ORDER BY deadline, id`, unix(now))
	if err != nil {
		return nil, fmt.Errorf("list overdue swarms: %w", err)
	}
	defer rows.Close()

	var out []swarm.Swarm
	for rows.Next() {
		s, err := scanSwarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swarm: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

const memberColumns = `swarm_id, agent_id, role, share_percent, status, joined_at`

func scanMembership(sc scanner) (*swarm.Membership, error) {
	m := &swarm.Membership{}
	var role, status string
	var joinedAt int64
	if err := sc.Scan(&m.SwarmID, &m.AgentID, &role, &m.SharePercent, &status, &joinedAt); err != nil {
		return nil, err
	}
	var err error
	if m.Role, err = swarm.ParseRole(role); err != nil {
		return nil, err
	}
	if m.Status, err = swarm.ParseMemberStatus(status); err != nil {
		return nil, err
	}
	m.JoinedAt = fromUnix(joinedAt)
	return m, nil
}

func (t *tx) Membership(swarmID, agentID string) (*swarm.Membership, error) {
	row := t.queryRow(`SELECT `+memberColumns+` FROM swarm_members WHERE swarm_id = ? AND agent_id = ?`, swarmID, agentID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (t *tx) listMemberships(where string, args ...any) ([]swarm.Membership, error) {
	rows, err := t.query(`SELECT `+memberColumns+` FROM swarm_members WHERE `+where+` ORDER BY joined_at, agent_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []swarm.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (t *tx) Memberships(swarmID string) ([]swarm.Membership, error) {
	return t.listMemberships(`swarm_id = ?`, swarmID)
}

func (t *tx) MembershipsByAgent(agentID string, status swarm.MemberStatus) ([]swarm.Membership, error) {
	if status == "" {
		return t.listMemberships(`agent_id = ?`, agentID)
	}
	return t.listMemberships(`agent_id = ? AND status = ?`, agentID, string(status))
}

func (t *tx) InsertMembership(m *swarm.Membership) error {
	_, err := t.exec(`INSERT INTO swarm_members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.SwarmID, m.AgentID, string(m.Role), m.SharePercent, string(m.Status), unix(m.JoinedAt))
	if isUniqueViolation(err) {
		return swarm.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (t *tx) ResetMembership(m *swarm.Membership) error {
	_, err := t.exec(`
		INSERT INTO swarm_members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(swarm_id, agent_id) DO UPDATE SET
			role = excluded.role,
			share_percent = excluded.share_percent,
			status = excluded.status,
			joined_at = excluded.joined_at`,
		m.SwarmID, m.AgentID, string(m.Role), m.SharePercent, string(m.Status), unix(m.JoinedAt))
	if err != nil {
		return fmt.Errorf("reset membership: %w", err)
	}
	return nil
}

func (t *tx) UpdateMembership(m *swarm.Membership) error {
	_, err := t.exec(`
		UPDATE swarm_members SET role = ?, share_percent = ?, status = ?, joined_at = ?
		WHERE swarm_id = ? AND agent_id = ?`,
		string(m.Role), m.SharePercent, string(m.Status), unix(m.JoinedAt), m.SwarmID, m.AgentID)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return nil
}

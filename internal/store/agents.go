package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

const agentColumns = `id, name, description, skills, reputation, completed_swarms, failed_swarms, available, rate, key_hash, created_at, last_active`

func scanAgent(sc scanner) (*swarm.Agent, error) {
	a := &swarm.Agent{}
	var skills string
	var keyHash sql.NullString
	var createdAt, lastActive int64
	err := sc.Scan(&a.ID, &a.Name, &a.Description, &skills, &a.Reputation, &a.CompletedSwarms,
		&a.FailedSwarms, &a.Available, &a.Rate, &keyHash, &createdAt, &lastActive)
	if err != nil {
		return nil, err
	}
	if a.Skills, err = decodeTags(skills); err != nil {
		return nil, err
	}
	a.KeyHash = keyHash.String
	a.CreatedAt = fromUnix(createdAt)
	a.LastActive = fromUnix(lastActive)
	return a, nil
}

func (t *tx) getAgent(where string, arg any) (*swarm.Agent, error) {
	row := t.queryRow(`SELECT `+agentColumns+` FROM agents WHERE `+where, arg)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (t *tx) Agent(id string) (*swarm.Agent, error) {
	return t.getAgent(`id = ?`, id)
}

func (t *tx) AgentByName(name string) (*swarm.Agent, error) {
	return t.getAgent(`name_key = ?`, swarm.NameKey(name))
}

func (t *tx) AgentByKeyHash(hash string) (*swarm.Agent, error) {
	if hash == "" {
		return nil, nil
	}
	return t.getAgent(`key_hash = ?`, hash)
}

func (t *tx) InsertAgent(a *swarm.Agent) error {
	skills, err := encodeTags(a.Skills)
	if err != nil {
		return err
	}
	_, err = t.exec(`
		INSERT INTO agents (`+agentColumns+`, name_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, skills, a.Reputation, a.CompletedSwarms, a.FailedSwarms,
		a.Available, a.Rate, nullString(a.KeyHash), unix(a.CreatedAt), unix(a.LastActive), swarm.NameKey(a.Name))
	if isUniqueViolation(err) {
		return swarm.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgent writes every mutable field. The name is fixed at registration.
func (t *tx) UpdateAgent(a *swarm.Agent) error {
	skills, err := encodeTags(a.Skills)
	if err != nil {
		return err
	}
	_, err = t.exec(`
		UPDATE agents SET
			description = ?,
			skills = ?,
			reputation = ?,
			completed_swarms = ?,
			failed_swarms = ?,
			available = ?,
			rate = ?,
			key_hash = ?,
			last_active = ?
		WHERE id = ?`,
		a.Description, skills, a.Reputation, a.CompletedSwarms, a.FailedSwarms,
		a.Available, a.Rate, nullString(a.KeyHash), unix(a.LastActive), a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

func (t *tx) ListAgents(f swarm.AgentFilter) ([]swarm.Agent, error) {
	var conds []string
	var args []any
	if f.AvailableOnly {
		conds = append(conds, `available`)
	}
	if f.MinReputation > 0 {
		conds = append(conds, `reputation >= ?`)
		args = append(args, f.MinReputation)
	}
	if f.Skill != "" {
		conds = append(conds, tagMatch("agents.skills"))
		args = append(args, containsPattern(f.Skill))
	}

	q := `SELECT ` + agentColumns + ` FROM agents`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY reputation DESC, name COLLATE BINARY LIMIT ?`
	args = append(args, sqlLimit(f.Limit))

	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []swarm.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

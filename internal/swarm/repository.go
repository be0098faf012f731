package swarm

import (
	"context"
	"time"
)

// Repository is the entity store the engine runs against. Every command
// executes inside exactly one Update (or View) call; an implementation must
// make the whole callback atomic and isolated from other Update calls, and
// must discard all writes when the callback returns an error.
type Repository interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the read/write surface available inside a unit of work. Getters
// return (nil, nil) when the row does not exist.
type Tx interface {
	Agent(id string) (*Agent, error)
	// AgentByName matches case-insensitively.
	AgentByName(name string) (*Agent, error)
	AgentByKeyHash(hash string) (*Agent, error)
	// InsertAgent returns ErrDuplicate when the name is taken.
	InsertAgent(a *Agent) error
	UpdateAgent(a *Agent) error
	ListAgents(f AgentFilter) ([]Agent, error)

	Swarm(id string) (*Swarm, error)
	InsertSwarm(s *Swarm) error
	UpdateSwarm(s *Swarm) error
	ListSwarms(f SwarmFilter) ([]SwarmSummary, error)
	// OverdueSwarms lists non-terminal swarms whose deadline is before now.
	OverdueSwarms(now time.Time) ([]Swarm, error)

	Membership(swarmID, agentID string) (*Membership, error)
	Memberships(swarmID string) ([]Membership, error)
	MembershipsByAgent(agentID string, status MemberStatus) ([]Membership, error)
	// InsertMembership returns ErrDuplicate when the pair already exists.
	InsertMembership(m *Membership) error
	// ResetMembership creates the row or replaces every field of an
	// existing one. It is the invite path's deliberate overwrite.
	ResetMembership(m *Membership) error
	UpdateMembership(m *Membership) error

	InsertReview(r *Review) error
	ReviewsFor(revieweeID string, limit int) ([]Review, error)
}

// AgentFilter selects agents for search and the leaderboard. Results are
// ordered by reputation, highest first.
type AgentFilter struct {
	Skill         string
	AvailableOnly bool
	MinReputation int
	Limit         int
}

// SwarmFilter selects swarms for listing, newest first.
type SwarmFilter struct {
	Status Status
	Skill  string
	Limit  int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit applies the listing default and ceiling.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return min(n, MaxListLimit)
}

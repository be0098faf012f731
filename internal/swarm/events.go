package swarm

import "time"

// Event types emitted after a command commits.
const (
	EventSwarmCreated    = "swarm_created"
	EventSwarmApplied    = "swarm_applied"
	EventSwarmInvited    = "swarm_invited"
	EventSwarmAccepted   = "swarm_accepted"
	EventSwarmStarted    = "swarm_started"
	EventSwarmCompleted  = "swarm_completed"
	EventSwarmFailed     = "swarm_failed"
	EventReviewSubmitted = "review_submitted"
	EventAgentRegistered = "agent_registered"
)

type Event struct {
	Type      string         `json:"type"`
	SwarmID   string         `json:"swarm_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher receives committed outcomes. Publish must not block for long;
// delivery is best effort.
type Publisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

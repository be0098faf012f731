package natsbus

import (
	"fmt"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

// Topic patterns for swarm events.

func TopicEventsSwarm(swarmID string) string {
	return fmt.Sprintf("events.swarm.%s", swarmID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsAnySwarm = "events.swarm.*"
	TopicEventsAnyAgent = "events.agent.*"
)

// TopicForEvent routes an event to its swarm topic, or to the agent topic
// for events that concern no swarm.
func TopicForEvent(ev swarm.Event) string {
	if ev.SwarmID != "" {
		return TopicEventsSwarm(ev.SwarmID)
	}
	return TopicEventsAgent(ev.AgentID)
}

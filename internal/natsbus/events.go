package natsbus

import (
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/nats-io/nats.go"
)

// EventPublisher puts engine and registry events on the bus.
type EventPublisher struct {
	client *Client
}

func NewEventPublisher(c *Client) *EventPublisher {
	return &EventPublisher{client: c}
}

func (p *EventPublisher) Publish(ev swarm.Event) {
	topic := TopicForEvent(ev)
	if err := p.client.PublishJSON(topic, ev); err != nil {
		slog.Warn("publish event failed", "topic", topic, "type", ev.Type, "error", err)
	}
}

// SubscribeEvents decodes every event on topic and hands it to fn.
// Undecodable messages are logged and dropped.
func (c *Client) SubscribeEvents(topic string, fn func(swarm.Event)) (*nats.Subscription, error) {
	return c.Subscribe(topic, func(msg *nats.Msg) {
		var ev swarm.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("drop malformed event", "subject", msg.Subject, "error", err)
			return
		}
		fn(ev)
	})
}

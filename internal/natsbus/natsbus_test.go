package natsbus

import (
	"testing"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := New(config.NATSConfig{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return bus, client
}

func TestBusStartStop(t *testing.T) {
	bus, _ := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPublishJSON(t *testing.T) {
	_, client := newTestBus(t)

	received := make(chan string, 1)
	_, err := client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON("test.json", payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestEventPublisherRoundTrip(t *testing.T) {
	_, client := newTestBus(t)

	received := make(chan swarm.Event, 2)
	if _, err := client.SubscribeEvents(TopicEventsAll, func(ev swarm.Event) {
		received <- ev
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	pub := NewEventPublisher(client)
	pub.Publish(swarm.Event{Type: swarm.EventSwarmStarted, SwarmID: "s1", AgentID: "a1"})
	pub.Publish(swarm.Event{Type: swarm.EventAgentRegistered, AgentID: "a2"})
	client.Flush()

	var got []swarm.Event
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout, got %d events", len(got))
		}
	}
	if got[0].Type != swarm.EventSwarmStarted || got[0].SwarmID != "s1" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Type != swarm.EventAgentRegistered || got[1].AgentID != "a2" {
		t.Errorf("unexpected second event: %+v", got[1])
	}
}

func TestTopicNames(t *testing.T) {
	tests := []struct {
		ev   swarm.Event
		want string
	}{
		{swarm.Event{SwarmID: "s1", AgentID: "a1"}, "events.swarm.s1"},
		{swarm.Event{AgentID: "a1"}, "events.agent.a1"},
	}
	for _, tt := range tests {
		if got := TopicForEvent(tt.ev); got != tt.want {
			t.Errorf("TopicForEvent(%+v) = %s, want %s", tt.ev, got, tt.want)
		}
	}
	if got := TopicEventsSwarm("g1"); got != "events.swarm.g1" {
		t.Errorf("expected events.swarm.g1, got %s", got)
	}
}

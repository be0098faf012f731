package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/natsbus"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/spf13/pflag"
)

const defaultNATSURL = "nats://127.0.0.1:4222"

func runWatch(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	url := fs.String("nats", defaultNATSURL, "NATS server URL")
	swarmID := fs.String("swarm", "", "only show events for this swarm")
	fs.Usage = usageFor(os.Stderr, fs, "watch [--nats URL] [--swarm ID]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nc, err := natsbus.NewClientFromURL(*url)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lines := make(chan string, 64)
	sub, err := nc.SubscribeEvents(watchTopic(*swarmID), func(ev swarm.Event) {
		select {
		case lines <- formatEventLine(ev):
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	fmt.Fprintf(os.Stderr, "watching %s on %s\n", watchTopic(*swarmID), *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(out, line)
		}
	}
}

func watchTopic(swarmID string) string {
	if swarmID == "" {
		return natsbus.TopicEventsAll
	}
	return natsbus.TopicEventsSwarm(swarmID)
}

// formatEventLine renders one event per line: time, type, ids, then data.
func formatEventLine(ev swarm.Event) string {
	var sb strings.Builder
	sb.WriteString(ev.Timestamp.UTC().Format(time.RFC3339))
	sb.WriteString("  ")
	fmt.Fprintf(&sb, "%-17s", ev.Type)
	if ev.SwarmID != "" {
		sb.WriteString("  swarm=" + ev.SwarmID)
	}
	if ev.AgentID != "" {
		sb.WriteString("  agent=" + ev.AgentID)
	}
	if len(ev.Data) > 0 {
		if data, err := json.Marshal(ev.Data); err == nil {
			sb.WriteString("  ")
			sb.Write(data)
		}
	}
	return sb.String()
}

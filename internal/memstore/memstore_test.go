package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx swarm.Tx) error {
		if err := tx.InsertAgent(&swarm.Agent{ID: "a1", Name: "Alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.View(ctx, func(tx swarm.Tx) error {
		a, err := tx.Agent("a1")
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if a != nil {
			t.Error("expected rolled back insert to be gone")
		}
		return nil
	})
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	err := s.View(context.Background(), func(tx swarm.Tx) error {
		return tx.InsertAgent(&swarm.Agent{ID: "a1", Name: "Alice"})
	})
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

func TestAgentNamesAreCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx swarm.Tx) error {
		if err := tx.InsertAgent(&swarm.Agent{ID: "a1", Name: "Alice"}); err != nil {
			return err
		}
		return tx.InsertAgent(&swarm.Agent{ID: "a2", Name: "ALICE"})
	})
	if !errors.Is(err, swarm.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	_ = s.Update(ctx, func(tx swarm.Tx) error {
		return tx.InsertAgent(&swarm.Agent{ID: "a1", Name: "Alice", KeyHash: "h1"})
	})
	err = s.Update(ctx, func(tx swarm.Tx) error {
		if err := tx.InsertAgent(&swarm.Agent{ID: "o1", Name: "Ölaf"}); err != nil {
			return err
		}
		return tx.InsertAgent(&swarm.Agent{ID: "o2", Name: "ölaf"})
	})
	if !errors.Is(err, swarm.ErrDuplicate) {
		t.Fatalf("expected duplicate for non-ASCII case fold, got %v", err)
	}

	_ = s.View(ctx, func(tx swarm.Tx) error {
		a, _ := tx.AgentByName("aLiCe")
		if a == nil || a.ID != "a1" {
			t.Errorf("expected a1 by name, got %+v", a)
		}
		a, _ = tx.AgentByKeyHash("h1")
		if a == nil || a.ID != "a1" {
			t.Errorf("expected a1 by key hash, got %+v", a)
		}
		return nil
	})
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	deadline := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.Update(ctx, func(tx swarm.Tx) error {
		return tx.InsertSwarm(&swarm.Swarm{
			ID:             "s1",
			Status:         swarm.StatusRecruiting,
			RequiredSkills: []string{"go"},
			Deadline:       &deadline,
		})
	})
	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, _ := tx.Swarm("s1")
		got.RequiredSkills[0] = "rust"
		*got.Deadline = time.Time{}
		return nil
	})
	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, _ := tx.Swarm("s1")
		if got.RequiredSkills[0] != "go" || !got.Deadline.Equal(deadline) {
			t.Errorf("stored swarm was mutated: %+v", got)
		}
		return nil
	})
}

func TestOverdueSwarms(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	_ = s.Update(ctx, func(tx swarm.Tx) error {
		for _, sw := range []swarm.Swarm{
			{ID: "overdue", Status: swarm.StatusActive, Deadline: &past},
			{ID: "later", Status: swarm.StatusRecruiting, Deadline: &future},
			{ID: "done", Status: swarm.StatusCompleted, Deadline: &past},
			{ID: "open", Status: swarm.StatusRecruiting},
		} {
			if err := tx.InsertSwarm(&sw); err != nil {
				return err
			}
		}
		return nil
	})
	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, err := tx.OverdueSwarms(now)
		if err != nil {
			t.Fatalf("overdue: %v", err)
		}
		if len(got) != 1 || got[0].ID != "overdue" {
			t.Errorf("expected only overdue, got %+v", got)
		}
		return nil
	})
}

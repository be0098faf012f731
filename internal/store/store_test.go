package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAgent(t *testing.T, s *Store, id, name string) *swarm.Agent {
	t.Helper()
	a := &swarm.Agent{
		ID:         id,
		Name:       name,
		Skills:     []string{"go", "sql"},
		Available:  true,
		KeyHash:    "hash-" + id,
		CreatedAt:  t0,
		LastActive: t0,
	}
	if err := s.Update(context.Background(), func(tx swarm.Tx) error { return tx.InsertAgent(a) }); err != nil {
		t.Fatalf("insert agent %s: %v", name, err)
	}
	return a
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "a1", "Alice")

	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, err := tx.Agent("a1")
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if diff := cmp.Diff(a, got); diff != "" {
			t.Errorf("agent mismatch (-want +got):\n%s", diff)
		}

		byName, _ := tx.AgentByName("ALICE")
		if byName == nil || byName.ID != "a1" {
			t.Errorf("expected case-insensitive name lookup, got %+v", byName)
		}
		byKey, _ := tx.AgentByKeyHash("hash-a1")
		if byKey == nil || byKey.ID != "a1" {
			t.Errorf("expected key hash lookup, got %+v", byKey)
		}

		missing, err := tx.Agent("nonexistent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if missing != nil {
			t.Error("expected nil for nonexistent agent")
		}
		return nil
	})

	a.Reputation = 17
	a.CompletedSwarms = 2
	a.Available = false
	a.Name = "Renamed"
	if err := s.Update(ctx, func(tx swarm.Tx) error { return tx.UpdateAgent(a) }); err != nil {
		t.Fatalf("update agent: %v", err)
	}
	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, _ := tx.Agent("a1")
		if got.Reputation != 17 || got.CompletedSwarms != 2 || got.Available {
			t.Errorf("update not applied: %+v", got)
		}
		if got.Name != "Alice" {
			t.Errorf("expected name to stay Alice, got %s", got.Name)
		}
		return nil
	})
}

func TestInsertAgentDuplicateName(t *testing.T) {
	tests := []struct {
		existing, dup string
	}{
		{"Alice", "alice"},
		{"Ölaf", "ölaf"},
		{"ÉMILE", "émile"},
	}
	for _, tt := range tests {
		t.Run(tt.dup, func(t *testing.T) {
			s := newTestStore(t)
			seedAgent(t, s, "a1", tt.existing)

			err := s.Update(context.Background(), func(tx swarm.Tx) error {
				return tx.InsertAgent(&swarm.Agent{ID: "a2", Name: tt.dup, CreatedAt: t0, LastActive: t0})
			})
			if !errors.Is(err, swarm.ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			_ = s.View(context.Background(), func(tx swarm.Tx) error {
				a, err := tx.AgentByName(tt.dup)
				if err != nil {
					t.Fatalf("get by name: %v", err)
				}
				if a == nil || a.ID != "a1" || a.Name != tt.existing {
					t.Errorf("expected %s by name, got %+v", tt.existing, a)
				}
				return nil
			})
		})
	}
}

func TestUpdateRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx swarm.Tx) error {
		a := &swarm.Agent{ID: "a1", Name: "Alice", CreatedAt: t0, LastActive: t0}
		if err := tx.InsertAgent(a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.View(ctx, func(tx swarm.Tx) error {
		if a, _ := tx.Agent("a1"); a != nil {
			t.Error("expected insert to be rolled back")
		}
		return nil
	})
}

func TestListAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, a := range []*swarm.Agent{
		{ID: "a1", Name: "Alice", Skills: []string{"golang"}, Reputation: 5, Available: true},
		{ID: "a2", Name: "Bob", Skills: []string{"python"}, Reputation: 20, Available: true},
		{ID: "a3", Name: "Carol", Skills: []string{"go_kit"}, Reputation: 10, Available: false},
	} {
		a.CreatedAt, a.LastActive = t0, t0
		if err := s.Update(ctx, func(tx swarm.Tx) error { return tx.InsertAgent(a) }); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	ids := func(f swarm.AgentFilter) []string {
		var out []string
		_ = s.View(ctx, func(tx swarm.Tx) error {
			agents, err := tx.ListAgents(f)
			if err != nil {
				t.Fatalf("list agents: %v", err)
			}
			for _, a := range agents {
				out = append(out, a.ID)
			}
			return nil
		})
		return out
	}

	tests := []struct {
		name string
		f    swarm.AgentFilter
		want []string
	}{
		{"all by reputation", swarm.AgentFilter{}, []string{"a2", "a3", "a1"}},
		{"skill substring", swarm.AgentFilter{Skill: "GO"}, []string{"a3", "a1"}},
		{"underscore is literal", swarm.AgentFilter{Skill: "o_k"}, []string{"a3"}},
		{"available only", swarm.AgentFilter{AvailableOnly: true}, []string{"a2", "a1"}},
		{"min reputation", swarm.AgentFilter{MinReputation: 10}, []string{"a2", "a3"}},
		{"limit", swarm.AgentFilter{Limit: 1}, []string{"a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ids(tt.f)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSwarmAndMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, s, "a1", "Alice")
	seedAgent(t, s, "a2", "Bob")
	deadline := t0.Add(48 * time.Hour)

	sw := &swarm.Swarm{
		ID:             "s1",
		Name:           "Launch",
		CreatorID:      "a1",
		Status:         swarm.StatusRecruiting,
		RequiredSkills: []string{"go"},
		MaxMembers:     5,
		PaymentTotal:   5000,
		Deadline:       &deadline,
		CreatedAt:      t0,
	}
	err := s.Update(ctx, func(tx swarm.Tx) error {
		if err := tx.InsertSwarm(sw); err != nil {
			return err
		}
		if err := tx.InsertMembership(&swarm.Membership{SwarmID: "s1", AgentID: "a1", Role: swarm.RoleCreator, Status: swarm.MemberAccepted, JoinedAt: t0}); err != nil {
			return err
		}
		return tx.InsertMembership(&swarm.Membership{SwarmID: "s1", AgentID: "a2", Role: swarm.RoleMember, Status: swarm.MemberPending, JoinedAt: t0.Add(time.Minute)})
	})
	if err != nil {
		t.Fatalf("seed swarm: %v", err)
	}

	err = s.Update(ctx, func(tx swarm.Tx) error {
		return tx.InsertMembership(&swarm.Membership{SwarmID: "s1", AgentID: "a2", Role: swarm.RoleMember, Status: swarm.MemberPending, JoinedAt: t0})
	})
	if !errors.Is(err, swarm.ErrDuplicate) {
		t.Fatalf("expected duplicate membership, got %v", err)
	}

	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, err := tx.Swarm("s1")
		if err != nil {
			t.Fatalf("get swarm: %v", err)
		}
		if diff := cmp.Diff(sw, got); diff != "" {
			t.Errorf("swarm mismatch (-want +got):\n%s", diff)
		}

		list, err := tx.ListSwarms(swarm.SwarmFilter{Status: swarm.StatusRecruiting})
		if err != nil {
			t.Fatalf("list swarms: %v", err)
		}
		if len(list) != 1 || list[0].CreatorName != "Alice" || list[0].MemberCount != 1 {
			t.Errorf("unexpected summaries: %+v", list)
		}

		pending, _ := tx.MembershipsByAgent("a2", swarm.MemberPending)
		if len(pending) != 1 || pending[0].SwarmID != "s1" {
			t.Errorf("expected one pending membership, got %+v", pending)
		}
		return nil
	})

	err = s.Update(ctx, func(tx swarm.Tx) error {
		return tx.ResetMembership(&swarm.Membership{SwarmID: "s1", AgentID: "a2", Role: swarm.RoleMember, SharePercent: 40, Status: swarm.MemberPending, JoinedAt: t0.Add(time.Hour)})
	})
	if err != nil {
		t.Fatalf("reset membership: %v", err)
	}
	_ = s.View(ctx, func(tx swarm.Tx) error {
		m, _ := tx.Membership("s1", "a2")
		if m == nil || m.SharePercent != 40 {
			t.Errorf("expected share 40 after reset, got %+v", m)
		}
		members, _ := tx.Memberships("s1")
		if len(members) != 2 || members[0].AgentID != "a1" {
			t.Errorf("unexpected member order: %+v", members)
		}
		overdue, _ := tx.OverdueSwarms(t0.Add(72 * time.Hour))
		if len(overdue) != 1 {
			t.Errorf("expected one overdue swarm, got %d", len(overdue))
		}
		overdue, _ = tx.OverdueSwarms(t0)
		if len(overdue) != 0 {
			t.Errorf("expected no overdue swarms yet, got %d", len(overdue))
		}
		return nil
	})
}

func TestReviews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, s, "a1", "Alice")
	seedAgent(t, s, "a2", "Bob")

	err := s.Update(ctx, func(tx swarm.Tx) error {
		for i, rating := range []int{2, 4, 5} {
			if err := tx.InsertReview(&swarm.Review{
				ID:         string(rune('x' + i)),
				ReviewerID: "a1",
				RevieweeID: "a2",
				Rating:     rating,
				CreatedAt:  t0.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert reviews: %v", err)
	}

	_ = s.View(ctx, func(tx swarm.Tx) error {
		got, err := tx.ReviewsFor("a2", 2)
		if err != nil {
			t.Fatalf("reviews: %v", err)
		}
		var ratings []int
		for _, r := range got {
			ratings = append(ratings, r.Rating)
		}
		if diff := cmp.Diff([]int{5, 4}, ratings); diff != "" {
			t.Errorf("ratings mismatch (-want +got):\n%s", diff)
		}
		return nil
	})

	err = s.Update(ctx, func(tx swarm.Tx) error {
		return tx.InsertReview(&swarm.Review{ID: "bad", ReviewerID: "a1", RevieweeID: "a2", Rating: 9, CreatedAt: t0})
	})
	if err == nil {
		t.Error("expected rating check constraint to fail")
	}
}

func TestEngineOnSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedAgent(t, s, "a1", "Alice")
	bob := seedAgent(t, s, "a2", "Bob")
	e := swarm.New(s)

	sw, err := e.CreateSwarm(ctx, alice.ID, swarm.CreateSwarmParams{Name: "Launch", MaxMembers: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Apply(ctx, sw.ID, bob.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := e.Accept(ctx, sw.ID, alice.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.Start(ctx, sw.ID, alice.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Complete(ctx, sw.ID, alice.ID, "v1 shipped"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, swarm.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected one completion, got %d", succeeded)
	}

	detail, err := e.Swarm(ctx, sw.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Swarm.Status != swarm.StatusCompleted {
		t.Errorf("expected completed, got %s", detail.Swarm.Status)
	}
	for _, m := range detail.Members {
		if m.Reputation != 10 || m.Status != swarm.MemberCompleted {
			t.Errorf("%s: unexpected member view %+v", m.Name, m)
		}
	}
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	seedAgent(t, s, "a1", "Alice")

	out := filepath.Join(t.TempDir(), "snapshot.db")
	if err := s.Backup(context.Background(), out); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}

	snap, err := New(config.StoreConfig{Path: out})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	_ = snap.View(context.Background(), func(tx swarm.Tx) error {
		if a, _ := tx.AgentByName("alice"); a == nil {
			t.Error("expected Alice in snapshot")
		}
		return nil
	})

	if err := s.Backup(context.Background(), out); err == nil {
		t.Error("expected error when target exists")
	}
}

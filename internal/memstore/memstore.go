// Package memstore is an in-memory swarm.Repository. Each Update works on a
// private copy of the data and swaps it in only when the callback succeeds,
// so failed commands leave no trace. It backs tests and `serve --memory`.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

var errReadOnly = errors.New("memstore: write inside View")

type memberKey struct {
	swarmID string
	agentID string
}

type data struct {
	agents  map[string]swarm.Agent
	names   map[string]string // lower(name) -> id
	swarms  map[string]swarm.Swarm
	members map[memberKey]swarm.Membership
	reviews []swarm.Review
}

func newData() *data {
	return &data{
		agents:  make(map[string]swarm.Agent),
		names:   make(map[string]string),
		swarms:  make(map[string]swarm.Swarm),
		members: make(map[memberKey]swarm.Membership),
	}
}

func (d *data) clone() *data {
	c := &data{
		agents:  make(map[string]swarm.Agent, len(d.agents)),
		names:   make(map[string]string, len(d.names)),
		swarms:  make(map[string]swarm.Swarm, len(d.swarms)),
		members: make(map[memberKey]swarm.Membership, len(d.members)),
		reviews: slices.Clone(d.reviews),
	}
	for k, v := range d.agents {
		c.agents[k] = v
	}
	for k, v := range d.names {
		c.names[k] = v
	}
	for k, v := range d.swarms {
		c.swarms[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *data
}

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) Update(ctx context.Context, fn func(tx swarm.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{d: s.data.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.data = t.d
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx swarm.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{d: s.data, readOnly: true})
}

type tx struct {
	d        *data
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func copyAgent(a swarm.Agent) *swarm.Agent {
	a.Skills = slices.Clone(a.Skills)
	return &a
}

func copySwarm(s swarm.Swarm) *swarm.Swarm {
	s.RequiredSkills = slices.Clone(s.RequiredSkills)
	if s.Deadline != nil {
		d := *s.Deadline
		s.Deadline = &d
	}
	if s.CompletedAt != nil {
		c := *s.CompletedAt
		s.CompletedAt = &c
	}
	return &s
}

func (t *tx) Agent(id string) (*swarm.Agent, error) {
	a, ok := t.d.agents[id]
	if !ok {
		return nil, nil
	}
	return copyAgent(a), nil
}

func (t *tx) AgentByName(name string) (*swarm.Agent, error) {
	id, ok := t.d.names[swarm.NameKey(name)]
	if !ok {
		return nil, nil
	}
	return t.Agent(id)
}

func (t *tx) AgentByKeyHash(hash string) (*swarm.Agent, error) {
	if hash == "" {
		return nil, nil
	}
	for _, a := range t.d.agents {
		if a.KeyHash == hash {
			return copyAgent(a), nil
		}
	}
	return nil, nil
}

func (t *tx) InsertAgent(a *swarm.Agent) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := swarm.NameKey(a.Name)
	if _, ok := t.d.names[key]; ok {
		return swarm.ErrDuplicate
	}
	if _, ok := t.d.agents[a.ID]; ok {
		return swarm.ErrDuplicate
	}
	t.d.agents[a.ID] = *copyAgent(*a)
	t.d.names[key] = a.ID
	return nil
}

func (t *tx) UpdateAgent(a *swarm.Agent) error {
	if err := t.writable(); err != nil {
		return err
	}
	old, ok := t.d.agents[a.ID]
	if !ok {
		return nil
	}
	// Names are fixed at registration.
	updated := *copyAgent(*a)
	updated.Name = old.Name
	t.d.agents[a.ID] = updated
	return nil
}

func (t *tx) ListAgents(f swarm.AgentFilter) ([]swarm.Agent, error) {
	skill := strings.ToLower(f.Skill)
	var out []swarm.Agent
	for _, a := range t.d.agents {
		if f.AvailableOnly && !a.Available {
			continue
		}
		if a.Reputation < f.MinReputation {
			continue
		}
		if skill != "" && !containsSubstring(a.Skills, skill) {
			continue
		}
		out = append(out, *copyAgent(a))
	}
	slices.SortFunc(out, func(a, b swarm.Agent) int {
		return cmp.Or(cmp.Compare(b.Reputation, a.Reputation), cmp.Compare(a.Name, b.Name))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsSubstring(tags []string, needle string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func (t *tx) Swarm(id string) (*swarm.Swarm, error) {
	s, ok := t.d.swarms[id]
	if !ok {
		return nil, nil
	}
	return copySwarm(s), nil
}

func (t *tx) InsertSwarm(s *swarm.Swarm) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.swarms[s.ID]; ok {
		return swarm.ErrDuplicate
	}
	t.d.swarms[s.ID] = *copySwarm(*s)
	return nil
}

func (t *tx) UpdateSwarm(s *swarm.Swarm) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.swarms[s.ID]; !ok {
		return nil
	}
	t.d.swarms[s.ID] = *copySwarm(*s)
	return nil
}

func (t *tx) ListSwarms(f swarm.SwarmFilter) ([]swarm.SwarmSummary, error) {
	skill := strings.ToLower(f.Skill)
	var out []swarm.SwarmSummary
	for _, s := range t.d.swarms {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if skill != "" && !containsSubstring(s.RequiredSkills, skill) {
			continue
		}
		sum := swarm.SwarmSummary{Swarm: *copySwarm(s)}
		if creator, ok := t.d.agents[s.CreatorID]; ok {
			sum.CreatorName = creator.Name
		}
		for k, m := range t.d.members {
			if k.swarmID == s.ID && m.Status == swarm.MemberAccepted {
				sum.MemberCount++
			}
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b swarm.SwarmSummary) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tx) OverdueSwarms(now time.Time) ([]swarm.Swarm, error) {
	var out []swarm.Swarm
	for _, s := range t.d.swarms {
		if s.Status.Terminal() || s.Deadline == nil || !s.Deadline.Before(now) {
			continue
		}
		out = append(out, *copySwarm(s))
	}
	slices.SortFunc(out, func(a, b swarm.Swarm) int {
		return cmp.Or(a.Deadline.Compare(*b.Deadline), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) Membership(swarmID, agentID string) (*swarm.Membership, error) {
	m, ok := t.d.members[memberKey{swarmID, agentID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func sortMemberships(ms []swarm.Membership) {
	slices.SortFunc(ms, func(a, b swarm.Membership) int {
		return cmp.Or(a.JoinedAt.Compare(b.JoinedAt), cmp.Compare(a.AgentID, b.AgentID))
	})
}

func (t *tx) Memberships(swarmID string) ([]swarm.Membership, error) {
	var out []swarm.Membership
	for k, m := range t.d.members {
		if k.swarmID == swarmID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (t *tx) MembershipsByAgent(agentID string, status swarm.MemberStatus) ([]swarm.Membership, error) {
	var out []swarm.Membership
	for k, m := range t.d.members {
		if k.agentID == agentID && (status == "" || m.Status == status) {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (t *tx) InsertMembership(m *swarm.Membership) error {
	if err := t.writable(); err != nil {
		return err
	}
	k := memberKey{m.SwarmID, m.AgentID}
	if _, ok := t.d.members[k]; ok {
		return swarm.ErrDuplicate
	}
	t.d.members[k] = *m
	return nil
}

func (t *tx) ResetMembership(m *swarm.Membership) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.members[memberKey{m.SwarmID, m.AgentID}] = *m
	return nil
}

func (t *tx) UpdateMembership(m *swarm.Membership) error {
	if err := t.writable(); err != nil {
		return err
	}
	k := memberKey{m.SwarmID, m.AgentID}
	if _, ok := t.d.members[k]; !ok {
		return nil
	}
	t.d.members[k] = *m
	return nil
}

func (t *tx) InsertReview(r *swarm.Review) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.reviews = append(t.d.reviews, *r)
	return nil
}

func (t *tx) ReviewsFor(revieweeID string, limit int) ([]swarm.Review, error) {
	var out []swarm.Review
	// Walk backwards so equal timestamps come out newest-inserted first.
	for i := len(t.d.reviews) - 1; i >= 0; i-- {
		if r := t.d.reviews[i]; r.RevieweeID == revieweeID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b swarm.Review) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

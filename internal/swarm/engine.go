// Package swarm implements the swarm lifecycle: creating swarms, forming
// membership through applications and invites, starting, completing with a
// reward fan-out, and expiring overdue swarms. Every command reads fresh
// state from a Repository, decides, and writes back inside one unit of work.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmhub/internal/reputation"
)

const (
	DefaultMaxMembers = 5
	DefaultShareCap   = 100
)

type Engine struct {
	repo     Repository
	now      func() time.Time
	newID    func() string
	events   Publisher
	shareCap int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithShareCap bounds the sum of accepted share percentages per swarm.
// Zero disables the check.
func WithShareCap(limit int) Option {
	return func(e *Engine) { e.shareCap = limit }
}

func New(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		events:   nopPublisher{},
		shareCap: DefaultShareCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// timestamp is the clock reading stored on rows. Second precision keeps
// values identical across store implementations.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Second)
}

type CreateSwarmParams struct {
	Name           string
	Description    string
	RequiredSkills []string
	MaxMembers     int
	PaymentTotal   int64
	Deadline       *time.Time
}

// CreateSwarm opens a recruiting swarm with the creator as its first,
// already accepted member.
func (e *Engine) CreateSwarm(ctx context.Context, creatorID string, p CreateSwarmParams) (*Swarm, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, validationf("swarm name required")
	}
	if p.MaxMembers < 0 {
		return nil, validationf("max_members must not be negative")
	}
	if p.PaymentTotal < 0 {
		return nil, validationf("payment_total must not be negative")
	}
	maxMembers := p.MaxMembers
	if maxMembers == 0 {
		maxMembers = DefaultMaxMembers
	}

	now := e.timestamp()
	var deadline *time.Time
	if p.Deadline != nil {
		d := p.Deadline.UTC().Truncate(time.Second)
		if !d.After(now) {
			return nil, validationf("deadline must be in the future")
		}
		deadline = &d
	}

	s := &Swarm{
		ID:             e.newID(),
		Name:           name,
		Description:    p.Description,
		CreatorID:      creatorID,
		Status:         StatusRecruiting,
		RequiredSkills: NormalizeSkills(p.RequiredSkills),
		MaxMembers:     maxMembers,
		PaymentTotal:   p.PaymentTotal,
		Deadline:       deadline,
		CreatedAt:      now,
	}

	err := e.repo.Update(ctx, func(tx Tx) error {
		creator, err := tx.Agent(creatorID)
		if err != nil {
			return fmt.Errorf("get creator: %w", err)
		}
		if creator == nil {
			return notFoundf("agent not found")
		}
		if err := tx.InsertSwarm(s); err != nil {
			return fmt.Errorf("insert swarm: %w", err)
		}
		if err := tx.InsertMembership(&Membership{
			SwarmID:  s.ID,
			AgentID:  creatorID,
			Role:     RoleCreator,
			Status:   MemberAccepted,
			JoinedAt: now,
		}); err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmCreated, s.ID, creatorID, map[string]any{
		"name":            s.Name,
		"required_skills": s.RequiredSkills,
		"payment_total":   s.PaymentTotal,
	})
	return s, nil
}

// Apply records a pending application. A missing swarm and a swarm that is
// no longer recruiting are reported the same way.
func (e *Engine) Apply(ctx context.Context, swarmID, agentID string) (*Membership, error) {
	m := &Membership{
		SwarmID:  swarmID,
		AgentID:  agentID,
		Role:     RoleMember,
		Status:   MemberPending,
		JoinedAt: e.timestamp(),
	}

	err := e.repo.Update(ctx, func(tx Tx) error {
		s, err := tx.Swarm(swarmID)
		if err != nil {
			return fmt.Errorf("get swarm: %w", err)
		}
		if s == nil || s.Status != StatusRecruiting {
			return notFoundf("swarm not found or not recruiting")
		}

		existing, err := tx.Membership(swarmID, agentID)
		if err != nil {
			return fmt.Errorf("get membership: %w", err)
		}
		if existing != nil {
			return conflictf("already a member or applied")
		}

		if err := tx.InsertMembership(m); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return conflictf("already a member or applied")
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmApplied, swarmID, agentID, nil)
	return m, nil
}

// Invite resets the invitee's membership to a pending member slot with the
// offered share, replacing whatever standing the invitee had before.
func (e *Engine) Invite(ctx context.Context, swarmID, callerID, inviteeName string, sharePercent int) (*Membership, error) {
	inviteeName = strings.TrimSpace(inviteeName)
	if inviteeName == "" {
		return nil, validationf("agent_name required")
	}
	if e.shareCap > 0 && (sharePercent < 0 || sharePercent > e.shareCap) {
		return nil, validationf("share_percent must be between 0 and %d", e.shareCap)
	}

	var m *Membership
	err := e.repo.Update(ctx, func(tx Tx) error {
		s, err := e.ownedSwarm(tx, swarmID, callerID)
		if err != nil {
			return err
		}

		invitee, err := tx.AgentByName(inviteeName)
		if err != nil {
			return fmt.Errorf("get invitee: %w", err)
		}
		if invitee == nil {
			return notFoundf("agent not found")
		}
		if invitee.ID == s.CreatorID {
			return validationf("the swarm creator cannot be invited")
		}

		prior, err := tx.Membership(swarmID, invitee.ID)
		if err != nil {
			return fmt.Errorf("get membership: %w", err)
		}
		if prior != nil && prior.Status.Terminal() {
			return conflictf("agent already %s this swarm", prior.Status)
		}

		m = &Membership{
			SwarmID:      swarmID,
			AgentID:      invitee.ID,
			Role:         RoleMember,
			SharePercent: sharePercent,
			Status:       MemberPending,
			JoinedAt:     e.timestamp(),
		}
		if err := tx.ResetMembership(m); err != nil {
			return fmt.Errorf("reset membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmInvited, swarmID, m.AgentID, map[string]any{
		"agent_name":    inviteeName,
		"share_percent": sharePercent,
	})
	return m, nil
}

// Accept has two shapes. With agentName set, the creator admits that agent
// whatever its current pending/accepted standing. Without it, the caller
// accepts its own pending invite.
func (e *Engine) Accept(ctx context.Context, swarmID, callerID, agentName string) (*Membership, error) {
	agentName = strings.TrimSpace(agentName)

	var m *Membership
	err := e.repo.Update(ctx, func(tx Tx) error {
		var err error
		if agentName != "" {
			m, err = e.acceptApplicant(tx, swarmID, callerID, agentName)
		} else {
			m, err = e.acceptInvite(tx, swarmID, callerID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmAccepted, swarmID, m.AgentID, map[string]any{
		"by_creator": agentName != "",
	})
	return m, nil
}

func (e *Engine) acceptApplicant(tx Tx, swarmID, callerID, agentName string) (*Membership, error) {
	if _, err := e.ownedSwarm(tx, swarmID, callerID); err != nil {
		return nil, err
	}

	applicant, err := tx.AgentByName(agentName)
	if err != nil {
		return nil, fmt.Errorf("get applicant: %w", err)
	}
	if applicant == nil {
		return nil, notFoundf("agent not found")
	}

	m, err := tx.Membership(swarmID, applicant.ID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		return nil, notFoundf("no application or invite found")
	}
	return m, e.acceptMembership(tx, m)
}

func (e *Engine) acceptInvite(tx Tx, swarmID, callerID string) (*Membership, error) {
	m, err := tx.Membership(swarmID, callerID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil || m.Status != MemberPending {
		return nil, notFoundf("no pending invite found")
	}
	return m, e.acceptMembership(tx, m)
}

func (e *Engine) acceptMembership(tx Tx, m *Membership) error {
	if !m.Status.CanTransition(MemberAccepted) {
		return conflictf("membership is already %s", m.Status)
	}
	if err := e.checkShareCap(tx, m); err != nil {
		return err
	}
	m.Status = MemberAccepted
	if err := tx.UpdateMembership(m); err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return nil
}

// checkShareCap rejects accepting m when the accepted shares of the swarm,
// m included, would exceed the configured cap.
func (e *Engine) checkShareCap(tx Tx, m *Membership) error {
	if e.shareCap == 0 || m.SharePercent == 0 {
		return nil
	}
	members, err := tx.Memberships(m.SwarmID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	total := m.SharePercent
	for _, o := range members {
		if o.AgentID != m.AgentID && o.Status == MemberAccepted {
			total += o.SharePercent
		}
	}
	if total > e.shareCap {
		return conflictf("accepted shares would total %d%%, above the %d%% cap", total, e.shareCap)
	}
	return nil
}

// Start moves a recruiting swarm to active. Whoever is accepted at that
// point forms the team; pending applications stay pending.
func (e *Engine) Start(ctx context.Context, swarmID, callerID string) (*Swarm, error) {
	var s *Swarm
	err := e.repo.Update(ctx, func(tx Tx) error {
		var err error
		s, err = e.ownedSwarm(tx, swarmID, callerID)
		if err != nil {
			return err
		}
		if s.Status != StatusRecruiting {
			return notFoundOrNotOwner()
		}
		if err := setStatus(s, StatusActive); err != nil {
			return err
		}
		if err := tx.UpdateSwarm(s); err != nil {
			return fmt.Errorf("update swarm: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmStarted, swarmID, callerID, nil)
	return s, nil
}

type CompletionResult struct {
	Swarm *Swarm
	// Rewarded lists the agents whose accepted membership was completed.
	Rewarded []string
}

// Complete closes an active swarm and rewards every accepted member,
// creator included. The status flip and the whole fan-out commit together,
// and the status is re-checked inside the same unit of work, so a second
// concurrent Complete fails instead of rewarding twice.
func (e *Engine) Complete(ctx context.Context, swarmID, callerID, deliverable string) (*CompletionResult, error) {
	res := &CompletionResult{}
	err := e.repo.Update(ctx, func(tx Tx) error {
		s, err := e.ownedSwarm(tx, swarmID, callerID)
		if err != nil {
			return err
		}
		if s.Status != StatusActive {
			return notFoundOrNotOwner()
		}

		now := e.timestamp()
		if err := setStatus(s, StatusCompleted); err != nil {
			return err
		}
		s.Deliverable = deliverable
		s.CompletedAt = &now
		if err := tx.UpdateSwarm(s); err != nil {
			return fmt.Errorf("update swarm: %w", err)
		}
		res.Swarm = s

		members, err := tx.Memberships(swarmID)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		for _, m := range members {
			switch m.Status {
			case MemberAccepted:
				if err := rewardMember(tx, &m); err != nil {
					return err
				}
				res.Rewarded = append(res.Rewarded, m.AgentID)
			case MemberPending, MemberCompleted, MemberFailed:
				// left as they are
			default:
				return fmt.Errorf("membership %s/%s has unknown status %q", m.SwarmID, m.AgentID, m.Status)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventSwarmCompleted, swarmID, callerID, map[string]any{
		"deliverable":      deliverable,
		"members_rewarded": len(res.Rewarded),
		"rewarded":         res.Rewarded,
	})
	return res, nil
}

func rewardMember(tx Tx, m *Membership) error {
	a, err := tx.Agent(m.AgentID)
	if err != nil {
		return fmt.Errorf("get member %s: %w", m.AgentID, err)
	}
	if a == nil {
		return fmt.Errorf("member %s of swarm %s has no agent record", m.AgentID, m.SwarmID)
	}
	a.CompletedSwarms++
	a.Reputation = reputation.OnSwarmCompletion(a.Reputation)
	if err := tx.UpdateAgent(a); err != nil {
		return fmt.Errorf("update member %s: %w", a.ID, err)
	}

	m.Status = MemberCompleted
	if err := tx.UpdateMembership(m); err != nil {
		return fmt.Errorf("update membership %s: %w", m.AgentID, err)
	}
	return nil
}

// ownedSwarm loads a swarm the caller created. Absence and foreign
// ownership produce the same error.
func (e *Engine) ownedSwarm(tx Tx, swarmID, callerID string) (*Swarm, error) {
	s, err := tx.Swarm(swarmID)
	if err != nil {
		return nil, fmt.Errorf("get swarm: %w", err)
	}
	if s == nil || s.CreatorID != callerID {
		return nil, notFoundOrNotOwner()
	}
	return s, nil
}

func setStatus(s *Swarm, next Status) error {
	if !s.Status.CanTransition(next) {
		return conflictf("swarm cannot move from %s to %s", s.Status, next)
	}
	s.Status = next
	return nil
}

func (e *Engine) publish(eventType, swarmID, agentID string, data map[string]any) {
	e.events.Publish(Event{
		Type:      eventType,
		SwarmID:   swarmID,
		AgentID:   agentID,
		Timestamp: e.now().UTC(),
		Data:      data,
	})
}

// NameKey is the folded form under which agent names are unique and
// looked up. Every store must use it.
func NameKey(name string) string {
	return strings.ToLower(name)
}

// NormalizeSkills trims, lowercases and de-duplicates skill tags, keeping
// first-seen order.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]bool, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

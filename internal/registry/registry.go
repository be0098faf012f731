package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmhub/internal/apikey"
	"github.com/mtzanidakis/swarmhub/internal/reputation"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

const (
	MinNameLength  = 2
	ProfileReviews = 5
)

// Registry owns agent identities: registration, API-key authentication,
// profiles, search and the leaderboard.
type Registry struct {
	repo   swarm.Repository
	hasher *apikey.Hasher
	now    func() time.Time
	events swarm.Publisher
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithPublisher(p swarm.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.events = p
		}
	}
}

func New(repo swarm.Repository, hasher *apikey.Hasher, opts ...Option) *Registry {
	r := &Registry{
		repo:   repo,
		hasher: hasher,
		now:    time.Now,
		events: nopPublisher{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type nopPublisher struct{}

func (nopPublisher) Publish(swarm.Event) {}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

type RegisterParams struct {
	Name        string
	Description string
	Skills      []string
}

// Registration is returned once; the plaintext key is never stored.
type Registration struct {
	Agent  *swarm.Agent
	APIKey string
}

func (r *Registry) Register(ctx context.Context, p RegisterParams) (*Registration, error) {
	name := strings.TrimSpace(p.Name)
	if len([]rune(name)) < MinNameLength {
		return nil, swarm.NewError(swarm.ErrValidation, "name required (min %d chars)", MinNameLength)
	}

	key, err := apikey.Generate()
	if err != nil {
		return nil, err
	}
	now := r.timestamp()
	a := &swarm.Agent{
		ID:          uuid.New().String(),
		Name:        name,
		Description: p.Description,
		Skills:      swarm.NormalizeSkills(p.Skills),
		Available:   true,
		KeyHash:     r.hasher.Hash(key),
		CreatedAt:   now,
		LastActive:  now,
	}

	err = r.repo.Update(ctx, func(tx swarm.Tx) error {
		existing, err := tx.AgentByName(name)
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if existing != nil {
			return swarm.NewError(swarm.ErrConflict, "agent name already taken")
		}
		if err := tx.InsertAgent(a); err != nil {
			if errors.Is(err, swarm.ErrDuplicate) {
				return swarm.NewError(swarm.ErrConflict, "agent name already taken")
			}
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.events.Publish(swarm.Event{
		Type:      swarm.EventAgentRegistered,
		AgentID:   a.ID,
		Timestamp: r.now().UTC(),
		Data:      map[string]any{"name": a.Name, "skills": a.Skills},
	})
	return &Registration{Agent: a, APIKey: key}, nil
}

// Authenticate resolves the agent owning key and refreshes its last_active.
func (r *Registry) Authenticate(ctx context.Context, key string) (*swarm.Agent, error) {
	if !apikey.WellFormed(key) {
		return nil, swarm.NewError(swarm.ErrNotFound, "invalid API key")
	}
	hash := r.hasher.Hash(key)

	var a *swarm.Agent
	err := r.repo.Update(ctx, func(tx swarm.Tx) error {
		var err error
		a, err = tx.AgentByKeyHash(hash)
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if a == nil {
			return swarm.NewError(swarm.ErrNotFound, "invalid API key")
		}
		a.LastActive = r.timestamp()
		return tx.UpdateAgent(a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

type Profile struct {
	Agent      swarm.Agent        `json:"agent"`
	TrustScore float64            `json:"trust_score"`
	Reviews    []swarm.ReviewView `json:"reviews"`
}

// Profile is the public view of an agent with its most recent reviews.
func (r *Registry) Profile(ctx context.Context, name string) (*Profile, error) {
	var p *Profile
	err := r.repo.View(ctx, func(tx swarm.Tx) error {
		a, err := tx.AgentByName(strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if a == nil {
			return swarm.NewError(swarm.ErrNotFound, "agent not found")
		}
		p = &Profile{
			Agent:      *a,
			TrustScore: reputation.TrustScore(a.Reputation, a.CompletedSwarms, a.FailedSwarms),
			Reviews:    []swarm.ReviewView{},
		}

		reviews, err := tx.ReviewsFor(a.ID, ProfileReviews)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		for _, rv := range reviews {
			reviewer, err := tx.Agent(rv.ReviewerID)
			if err != nil {
				return fmt.Errorf("get reviewer: %w", err)
			}
			view := swarm.ReviewView{Rating: rv.Rating, Comment: rv.Comment, CreatedAt: rv.CreatedAt}
			if reviewer != nil {
				view.ReviewerName = reviewer.Name
			}
			p.Reviews = append(p.Reviews, view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Me struct {
	Agent          swarm.Agent    `json:"agent"`
	PendingInvites []swarm.Invite `json:"pending_invites"`
}

// Me returns the caller's own record and every swarm where it is pending,
// whether by invite or by application.
func (r *Registry) Me(ctx context.Context, agentID string) (*Me, error) {
	var me *Me
	err := r.repo.View(ctx, func(tx swarm.Tx) error {
		a, err := tx.Agent(agentID)
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if a == nil {
			return swarm.NewError(swarm.ErrNotFound, "agent not found")
		}
		me = &Me{Agent: *a, PendingInvites: []swarm.Invite{}}

		pending, err := tx.MembershipsByAgent(agentID, swarm.MemberPending)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		for _, m := range pending {
			s, err := tx.Swarm(m.SwarmID)
			if err != nil {
				return fmt.Errorf("get swarm: %w", err)
			}
			if s == nil {
				continue
			}
			me.PendingInvites = append(me.PendingInvites, swarm.Invite{
				SwarmID:      s.ID,
				Name:         s.Name,
				Description:  s.Description,
				SharePercent: m.SharePercent,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return me, nil
}

// ProfileUpdate carries the fields to change; nil means "leave as is".
type ProfileUpdate struct {
	Description *string   `json:"description"`
	Skills      *[]string `json:"skills"`
	Available   *bool     `json:"available"`
	Rate        *string   `json:"rate"`
}

func (u ProfileUpdate) empty() bool {
	return u.Description == nil && u.Skills == nil && u.Available == nil && u.Rate == nil
}

func (r *Registry) UpdateProfile(ctx context.Context, agentID string, u ProfileUpdate) (*swarm.Agent, error) {
	if u.empty() {
		return nil, swarm.NewError(swarm.ErrValidation, "no updates provided")
	}

	var a *swarm.Agent
	err := r.repo.Update(ctx, func(tx swarm.Tx) error {
		var err error
		a, err = tx.Agent(agentID)
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if a == nil {
			return swarm.NewError(swarm.ErrNotFound, "agent not found")
		}
		if u.Description != nil {
			a.Description = *u.Description
		}
		if u.Skills != nil {
			a.Skills = swarm.NormalizeSkills(*u.Skills)
		}
		if u.Available != nil {
			a.Available = *u.Available
		}
		if u.Rate != nil {
			a.Rate = *u.Rate
		}
		return tx.UpdateAgent(a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Search lists agents by reputation, highest first.
func (r *Registry) Search(ctx context.Context, f swarm.AgentFilter) ([]swarm.Agent, error) {
	if f.MinReputation < 0 {
		return nil, swarm.NewError(swarm.ErrValidation, "min_reputation must not be negative")
	}
	f.Skill = strings.TrimSpace(f.Skill)
	f.Limit = swarm.ClampLimit(f.Limit)

	var agents []swarm.Agent
	err := r.repo.View(ctx, func(tx swarm.Tx) error {
		var err error
		agents, err = tx.ListAgents(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search agents: %w", err)
	}
	if agents == nil {
		agents = []swarm.Agent{}
	}
	return agents, nil
}

type LeaderboardEntry struct {
	Name            string  `json:"name"`
	Reputation      int     `json:"reputation"`
	CompletedSwarms int     `json:"completed_swarms"`
	FailedSwarms    int     `json:"failed_swarms"`
	SuccessRate     float64 `json:"success_rate"`
}

func (r *Registry) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	agents, err := r.Search(ctx, swarm.AgentFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(agents))
	for _, a := range agents {
		out = append(out, LeaderboardEntry{
			Name:            a.Name,
			Reputation:      a.Reputation,
			CompletedSwarms: a.CompletedSwarms,
			FailedSwarms:    a.FailedSwarms,
			SuccessRate:     reputation.SuccessRate(a.CompletedSwarms, a.FailedSwarms),
		})
	}
	return out, nil
}

package swarm

import (
	"context"
	"fmt"
)

// Swarm returns a swarm with its creator's name and every member.
func (e *Engine) Swarm(ctx context.Context, id string) (*SwarmDetail, error) {
	var d *SwarmDetail
	err := e.repo.View(ctx, func(tx Tx) error {
		s, err := tx.Swarm(id)
		if err != nil {
			return fmt.Errorf("get swarm: %w", err)
		}
		if s == nil {
			return notFoundf("swarm not found")
		}
		d = &SwarmDetail{Swarm: *s, Members: []MemberView{}}

		creator, err := tx.Agent(s.CreatorID)
		if err != nil {
			return fmt.Errorf("get creator: %w", err)
		}
		if creator != nil {
			d.CreatorName = creator.Name
		}

		members, err := tx.Memberships(id)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		for _, m := range members {
			a, err := tx.Agent(m.AgentID)
			if err != nil {
				return fmt.Errorf("get member: %w", err)
			}
			if a == nil {
				continue
			}
			d.Members = append(d.Members, MemberView{
				AgentID:      a.ID,
				Name:         a.Name,
				Reputation:   a.Reputation,
				Role:         m.Role,
				SharePercent: m.SharePercent,
				Status:       m.Status,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListSwarms lists swarms in one status, recruiting unless told otherwise.
func (e *Engine) ListSwarms(ctx context.Context, f SwarmFilter) ([]SwarmSummary, error) {
	if f.Status == "" {
		f.Status = StatusRecruiting
	}
	if !f.Status.Valid() {
		return nil, validationf("unknown status %q", f.Status)
	}
	f.Limit = ClampLimit(f.Limit)

	var out []SwarmSummary
	err := e.repo.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListSwarms(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list swarms: %w", err)
	}
	if out == nil {
		out = []SwarmSummary{}
	}
	return out, nil
}

package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ExpiryResult struct {
	Swarm *Swarm
	// Penalized lists agents whose accepted membership failed and whose
	// failed_swarms counter went up.
	Penalized []string
}

// Expire fails a swarm that has not finished. Accepted members are charged a
// failed swarm; pending memberships are closed without a charge. Nothing in
// the agent-facing API calls this: failure is driven by the deadline sweeper.
func (e *Engine) Expire(ctx context.Context, swarmID string) (*ExpiryResult, error) {
	var res *ExpiryResult
	err := e.repo.Update(ctx, func(tx Tx) error {
		s, err := tx.Swarm(swarmID)
		if err != nil {
			return fmt.Errorf("get swarm: %w", err)
		}
		if s == nil || s.Status.Terminal() {
			return notFoundf("swarm not found or already finished")
		}
		res, err = e.expire(tx, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.publishExpiry(res)
	return res, nil
}

// ExpireOverdue fails every unfinished swarm whose deadline is before now
// and returns the IDs it expired. Each swarm is expired in its own unit of
// work; a swarm that finished in the meantime is skipped.
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	var overdue []Swarm
	err := e.repo.View(ctx, func(tx Tx) error {
		var err error
		overdue, err = tx.OverdueSwarms(now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue swarms: %w", err)
	}

	var expired []string
	var errs []error
	for _, o := range overdue {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var res *ExpiryResult
		err := e.repo.Update(ctx, func(tx Tx) error {
			s, err := tx.Swarm(o.ID)
			if err != nil {
				return fmt.Errorf("get swarm: %w", err)
			}
			if s == nil || s.Status.Terminal() || s.Deadline == nil || !s.Deadline.Before(now) {
				return nil
			}
			res, err = e.expire(tx, s)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire swarm %s: %w", o.ID, err))
			continue
		}
		if res != nil {
			expired = append(expired, o.ID)
			e.publishExpiry(res)
		}
	}
	return expired, errors.Join(errs...)
}

func (e *Engine) expire(tx Tx, s *Swarm) (*ExpiryResult, error) {
	now := e.timestamp()
	if err := setStatus(s, StatusFailed); err != nil {
		return nil, err
	}
	s.CompletedAt = &now
	if err := tx.UpdateSwarm(s); err != nil {
		return nil, fmt.Errorf("update swarm: %w", err)
	}

	res := &ExpiryResult{Swarm: s}
	members, err := tx.Memberships(s.ID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	for _, m := range members {
		switch m.Status {
		case MemberAccepted:
			a, err := tx.Agent(m.AgentID)
			if err != nil {
				return nil, fmt.Errorf("get member %s: %w", m.AgentID, err)
			}
			if a == nil {
				return nil, fmt.Errorf("member %s of swarm %s has no agent record", m.AgentID, s.ID)
			}
			a.FailedSwarms++
			if err := tx.UpdateAgent(a); err != nil {
				return nil, fmt.Errorf("update member %s: %w", a.ID, err)
			}
			res.Penalized = append(res.Penalized, a.ID)
		case MemberPending:
		case MemberCompleted, MemberFailed:
			continue
		default:
			return nil, fmt.Errorf("membership %s/%s has unknown status %q", m.SwarmID, m.AgentID, m.Status)
		}
		m.Status = MemberFailed
		if err := tx.UpdateMembership(&m); err != nil {
			return nil, fmt.Errorf("update membership %s: %w", m.AgentID, err)
		}
	}
	return res, nil
}

func (e *Engine) publishExpiry(res *ExpiryResult) {
	e.publish(EventSwarmFailed, res.Swarm.ID, res.Swarm.CreatorID, map[string]any{
		"reason":    "deadline passed",
		"penalized": res.Penalized,
	})
}

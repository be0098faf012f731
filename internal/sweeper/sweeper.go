// Package sweeper fails swarms whose deadline has passed, on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mtzanidakis/swarmhub/internal/config"
)

// Expirer is the part of the swarm engine the sweeper drives.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}

type Sweeper struct {
	expirer  Expirer
	schedule string
	now      func() time.Time
	nextTick func(ref time.Time) (time.Time, error)
}

func New(e Expirer, cfg config.SweeperConfig) *Sweeper {
	s := &Sweeper{
		expirer:  e,
		schedule: cfg.Schedule,
		now:      time.Now,
	}
	s.nextTick = func(ref time.Time) (time.Time, error) {
		return NextRun(s.schedule, ref)
	}
	return s
}

// NextRun returns the first time after ref that matches the cron expression.
func NextRun(expr string, ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", expr, err)
	}
	return next, nil
}

// Start runs sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	slog.Info("sweeper started", "schedule", s.schedule)

	for {
		next, err := s.nextTick(s.now())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("sweeper stopped")
			return nil
		case <-timer.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue swarm once and returns their IDs.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	expired, err := s.expirer.ExpireOverdue(ctx, s.now())
	if err != nil {
		slog.Error("sweep failed", "expired", len(expired), "error", err)
		return expired, err
	}
	if len(expired) > 0 {
		slog.Info("expired overdue swarms", "count", len(expired), "ids", expired)
	}
	return expired, nil
}

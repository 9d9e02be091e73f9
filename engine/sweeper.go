package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/core"
)

// DefaultSweepInterval is how often the sweeper looks for claim hand-offs.
const DefaultSweepInterval = 30 * time.Second

// Sweeper walks completed auctions so hand-off notifications go out even
// when nobody reads the claim ticket. Claim state never depends on it.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper creates a sweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{engine: e, interval: interval}
}

// Run sweeps until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.SweepOnce(ctx); err != nil {
			logger.Errorf("Sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce resolves newly completed auctions and derives the claim ticket of
// every auction whose prize is still pending.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	auctions, err := s.engine.store.ListAuctions(ctx)
	if err != nil {
		return fmt.Errorf("list auctions: %w", err)
	}

	var errs []error
	for _, a := range auctions {
		if a.CancelledAt != nil {
			continue
		}
		snap, err := s.engine.load(ctx, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("auction %s: %w", a.ID, err))
			continue
		}
		if core.StatusAt(snap.timeline, s.engine.clock.Now()) != core.StatusCompleted {
			continue
		}
		ticket, err := s.engine.Claims(ctx, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("auction %s: %w", a.ID, err))
			continue
		}
		if ticket.Outcome == core.OutcomePending {
			logger.V(1).Infof("Auction %s: rank %d holds the claim", a.ID, ticket.CurrentRank)
		}
	}
	return errors.Join(errs...)
}

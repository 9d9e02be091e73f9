package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
)

// Resolve produces the winner record of a completed auction. The first call
// persists it; every later call returns the stored record unchanged.
func (e *Engine) Resolve(ctx context.Context, auctionID string) (core.WinnerRecord, error) {
	if record, err := e.store.GetWinners(ctx, auctionID); err == nil {
		return record, nil
	} else if !isNotFound(err) {
		return core.WinnerRecord{}, fmt.Errorf("load winners: %w", err)
	}

	lock := e.auction.get(auctionID)
	lock.Lock()
	record, created, err := e.resolveLocked(ctx, auctionID)
	lock.Unlock()
	if err != nil {
		return core.WinnerRecord{}, err
	}

	if created {
		e.dispatch(ctx, notify.Event{
			Kind:      notify.KindAuctionCompleted,
			AuctionID: auctionID,
			At:        record.CompletedAt,
		})
		// Announce the first claim window right away rather than on the next sweep.
		if _, err := e.Claims(ctx, auctionID); err != nil {
			logger.Errorf("Failed to derive claims of auction %s: %v", auctionID, err)
		}
	}
	return record, nil
}

// Winners returns the winner record, resolving it on first read.
func (e *Engine) Winners(ctx context.Context, auctionID string) (core.WinnerRecord, error) {
	return e.Resolve(ctx, auctionID)
}

func (e *Engine) resolveLocked(ctx context.Context, auctionID string) (core.WinnerRecord, bool, error) {
	if record, err := e.store.GetWinners(ctx, auctionID); err == nil {
		return record, false, nil
	}

	snap, err := e.load(ctx, auctionID)
	if err != nil {
		return core.WinnerRecord{}, false, err
	}
	now := e.clock.Now()
	switch core.StatusAt(snap.timeline, now) {
	case core.StatusCancelled:
		return core.WinnerRecord{}, false, core.ErrAuctionCancelled
	case core.StatusCompleted:
	default:
		return core.WinnerRecord{}, false, core.ErrNotCompleted
	}

	logger.Infof("Resolving auction %s: %d bids, deciding round %d", auctionID, len(snap.bids), snap.timeline.DecidingRound())
	record := core.ResolveWinners(auctionID, snap.timeline, snap.bids, now)

	if e.attester != nil {
		proof, err := e.attester.AttestWinners(record)
		if err != nil {
			logger.Warningf("Failed to attest winners of auction %s, storing unattested record: %v", auctionID, err)
		} else {
			record.Proof = proof
		}
	}

	if err := e.store.SaveWinners(ctx, record); err != nil {
		if errors.Is(err, core.ErrAlreadyResolved) {
			stored, getErr := e.store.GetWinners(ctx, auctionID)
			if getErr != nil {
				return core.WinnerRecord{}, false, fmt.Errorf("load winners: %w", getErr)
			}
			return stored, false, nil
		}
		return core.WinnerRecord{}, false, fmt.Errorf("save winners: %w", err)
	}
	e.quals.Forget(auctionID)

	for _, w := range record.Entries {
		logger.Infof("Auction %s rank %d: participant %s with %s", auctionID, w.Rank, w.ParticipantID, w.Amount.StringFixed(2))
	}
	return record, true, nil
}

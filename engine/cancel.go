package engine

import (
	"context"
	"fmt"

	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
)

// Cancel cancels an auction and refunds every paid entry. Cancelling an
// already cancelled auction returns it unchanged and refunds nothing.
func (e *Engine) Cancel(ctx context.Context, auctionID, adminID string) (core.Auction, error) {
	lock := e.auction.get(auctionID)
	lock.Lock()
	a, refunded, err := e.cancelLocked(ctx, auctionID, adminID)
	lock.Unlock()
	if err != nil || !refunded {
		return a, err
	}

	e.dispatch(ctx, notify.Event{Kind: notify.KindAuctionCancelled, AuctionID: auctionID, At: *a.CancelledAt})
	return a, nil
}

func (e *Engine) cancelLocked(ctx context.Context, auctionID, adminID string) (core.Auction, bool, error) {
	snap, err := e.load(ctx, auctionID)
	if err != nil {
		return core.Auction{}, false, err
	}
	if snap.auction.CancelledAt != nil {
		return snap.auction, false, nil
	}

	now := e.clock.Now()
	stale := e.clock.Stale()
	if !core.CanCancelWithMargin(snap.timeline, now, e.cancelMargin(stale)) {
		logger.Warningf("Cancellation of auction %s by %s refused: status %s, stale clock %v",
			auctionID, adminID, core.StatusAt(snap.timeline, now), stale)
		return core.Auction{}, false, core.ErrCancellationWindowClosed
	}

	if err := e.store.MarkCancelled(ctx, auctionID, now, adminID); err != nil {
		return core.Auction{}, false, fmt.Errorf("mark cancelled: %w", err)
	}
	e.quals.Forget(auctionID)
	logger.Infof("Auction %s cancelled by %s", auctionID, adminID)

	participants, err := e.store.ListParticipants(ctx, auctionID)
	if err != nil {
		return core.Auction{}, false, fmt.Errorf("list participants: %w", err)
	}
	// The cancellation stands even if the refunder fails; refunds are the
	// refunder's to retry.
	if refundable := core.Refundable(participants); len(refundable) > 0 {
		if err := e.refunds.IssueRefunds(ctx, auctionID, refundable); err != nil {
			logger.Errorf("Failed to refund %d participants of auction %s: %v", len(refundable), auctionID, err)
		}
	}

	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return core.Auction{}, false, err
	}
	return a, true, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/core"
)

// BidRequest is a participant's bid for a round.
type BidRequest struct {
	AuctionID     string          `json:"-"`
	ParticipantID string          `json:"participant_id"`
	Round         int             `json:"round"`
	Amount        decimal.Decimal `json:"amount"`
}

// BidReceipt is returned for an accepted bid. Hash commits to the stored bid
// and Nonce lets the participant recompute it with core.ComputeBidHash.
type BidReceipt struct {
	Bid   core.Bid `json:"bid"`
	Hash  string   `json:"hash"`
	Nonce string   `json:"nonce"`
}

func slotKey(auctionID, participantID string, round int) string {
	return fmt.Sprintf("%s|%s|%d", auctionID, participantID, round)
}

// SubmitBid validates and records a bid. Concurrent attempts for the same
// participant and round are serialized so exactly one can be accepted; the
// store's uniqueness constraint backs this up across processes.
func (e *Engine) SubmitBid(ctx context.Context, req BidRequest) (BidReceipt, error) {
	lock := e.auction.get(req.AuctionID)
	lock.RLock()
	defer lock.RUnlock()

	unlock := e.slots.Lock(slotKey(req.AuctionID, req.ParticipantID, req.Round))
	defer unlock()

	snap, err := e.load(ctx, req.AuctionID)
	if err != nil {
		return BidReceipt{}, err
	}
	now := e.clock.Now()

	var participant *core.Participant
	p, err := e.store.GetParticipant(ctx, req.AuctionID, req.ParticipantID)
	switch {
	case err == nil:
		participant = &p
	case isNotFound(err):
	default:
		return BidReceipt{}, fmt.Errorf("load participant: %w", err)
	}

	prior := make([]core.Bid, 0, core.TotalRounds)
	for _, b := range snap.bids {
		if b.ParticipantID == req.ParticipantID {
			prior = append(prior, b)
		}
	}

	bc := core.BidContext{
		Timeline:    snap.timeline,
		Now:         now,
		Participant: participant,
		PriorBids:   prior,
	}
	if open := core.StatusAt(snap.timeline, now).Round(); open > 0 {
		q := e.quals.Get(req.AuctionID, req.ParticipantID, prior, open)
		bc.Qualification = &q
	}

	attempt := core.BidAttempt{
		AuctionID:     req.AuctionID,
		ParticipantID: req.ParticipantID,
		Round:         req.Round,
		Amount:        req.Amount,
		SubmittedAt:   now,
	}
	if err := core.ValidateBid(attempt, bc); err != nil {
		logger.V(1).Infof("Bid by %s in auction %s round %d rejected: %v", req.ParticipantID, req.AuctionID, req.Round, err)
		return BidReceipt{}, err
	}

	bid := core.Bid{
		ID:            uuid.NewString(),
		AuctionID:     req.AuctionID,
		ParticipantID: req.ParticipantID,
		Round:         req.Round,
		Amount:        req.Amount,
		SubmittedAt:   now,
	}
	if err := e.store.AppendBid(ctx, bid); err != nil {
		if errors.Is(err, core.ErrDuplicateBid) {
			return BidReceipt{}, core.ErrDuplicateBid
		}
		return BidReceipt{}, fmt.Errorf("append bid: %w", err)
	}

	nonce := uuid.NewString()
	logger.Infof("Accepted bid %s: auction %s round %d participant %s amount %s",
		bid.ID, bid.AuctionID, bid.Round, bid.ParticipantID, bid.Amount.StringFixed(2))
	return BidReceipt{Bid: bid, Hash: core.ComputeBidHash(bid, nonce), Nonce: nonce}, nil
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/storage"
)

// EntryRequest asks to join an auction.
type EntryRequest struct {
	AuctionID     string `json:"-"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// EntryResult reports the participant and, when a fee is due, the payment
// that will confirm the entry.
type EntryResult struct {
	Participant core.Participant `json:"participant"`
	Payment     *storage.Payment `json:"payment,omitempty"`
}

// RequestEntry registers a participant. Entry is open until round 1 closes.
// A free auction confirms the entry immediately; otherwise an entry payment
// is started and the participant bids only after ConfirmEntryPayment.
func (e *Engine) RequestEntry(ctx context.Context, req EntryRequest) (EntryResult, error) {
	if req.ParticipantID == "" {
		return EntryResult{}, fmt.Errorf("participant id is required")
	}
	lock := e.auction.get(req.AuctionID)
	lock.RLock()
	defer lock.RUnlock()

	snap, err := e.load(ctx, req.AuctionID)
	if err != nil {
		return EntryResult{}, err
	}
	now := e.clock.Now()
	switch status := core.StatusAt(snap.timeline, now); status {
	case core.StatusCancelled:
		return EntryResult{}, core.ErrAuctionCancelled
	case core.StatusEntry, core.StatusRound1:
	default:
		return EntryResult{}, core.ErrEntryClosed
	}

	p, err := e.store.GetParticipant(ctx, req.AuctionID, req.ParticipantID)
	switch {
	case err == nil:
		if p.EntryPaid {
			return EntryResult{Participant: p}, nil
		}
	case isNotFound(err):
		p = core.Participant{AuctionID: req.AuctionID, UserID: req.ParticipantID}
	default:
		return EntryResult{}, fmt.Errorf("load participant: %w", err)
	}
	if req.DisplayName != "" {
		p.DisplayName = req.DisplayName
	}

	if !snap.auction.EntryFee.IsPositive() {
		p.EntryPaid = true
		p.EntryPaidAt = &now
		if err := e.store.UpsertParticipant(ctx, p); err != nil {
			return EntryResult{}, fmt.Errorf("save participant: %w", err)
		}
		logger.Infof("Participant %s entered auction %s (no fee)", p.UserID, p.AuctionID)
		return EntryResult{Participant: p}, nil
	}

	if err := e.store.UpsertParticipant(ctx, p); err != nil {
		return EntryResult{}, fmt.Errorf("save participant: %w", err)
	}
	payment := storage.Payment{
		Reference:     uuid.NewString(),
		Kind:          storage.PaymentEntry,
		AuctionID:     req.AuctionID,
		ParticipantID: req.ParticipantID,
		Amount:        snap.auction.EntryFee,
		CreatedAt:     now,
	}
	if err := e.startPayment(ctx, payment); err != nil {
		return EntryResult{}, err
	}
	return EntryResult{Participant: p, Payment: &payment}, nil
}

// ConfirmEntryPayment applies the gateway's answer for an entry payment. A
// failed payment leaves the participant unpaid and free to try again. A
// success for a participant who already paid, or one that lands after the
// auction was cancelled, is refunded at once. Each reference is settled
// once, so a repeated callback changes nothing.
func (e *Engine) ConfirmEntryPayment(ctx context.Context, reference string, success bool) (core.Participant, error) {
	payment, err := e.store.GetPayment(ctx, reference)
	if err != nil {
		return core.Participant{}, fmt.Errorf("load payment %s: %w", reference, err)
	}
	if payment.Kind != storage.PaymentEntry {
		return core.Participant{}, fmt.Errorf("payment %s is not an entry payment", reference)
	}

	lock := e.auction.get(payment.AuctionID)
	lock.Lock()
	defer lock.Unlock()

	if payment, err = e.store.GetPayment(ctx, reference); err != nil {
		return core.Participant{}, fmt.Errorf("load payment %s: %w", reference, err)
	}
	p, err := e.store.GetParticipant(ctx, payment.AuctionID, payment.ParticipantID)
	if err != nil {
		return core.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	if !success {
		logger.Warningf("Entry payment %s failed for participant %s in auction %s", reference, p.UserID, p.AuctionID)
		return p, nil
	}
	if payment.Settled() {
		return p, nil
	}

	now := e.clock.Now()
	if p.EntryPaid {
		logger.Warningf("Entry payment %s duplicates the paid entry of %s in auction %s, refunding", reference, p.UserID, p.AuctionID)
		return p, e.refundEntry(ctx, payment, p, now)
	}

	a, err := e.store.GetAuction(ctx, payment.AuctionID)
	if err != nil {
		return p, err
	}
	p.EntryPaid = true
	p.EntryPaidAt = &now
	if err := e.store.UpsertParticipant(ctx, p); err != nil {
		return core.Participant{}, fmt.Errorf("save participant: %w", err)
	}
	logger.Infof("Participant %s entered auction %s", p.UserID, p.AuctionID)

	if a.CancelledAt != nil {
		logger.Warningf("Entry payment %s arrived after auction %s was cancelled, refunding", reference, a.ID)
		return p, e.refundEntry(ctx, payment, p, now)
	}
	if _, err := e.store.SettlePayment(ctx, reference, storage.SettlementApplied, now); err != nil {
		return p, fmt.Errorf("settle payment %s: %w", reference, err)
	}
	return p, nil
}

func (e *Engine) refundEntry(ctx context.Context, payment storage.Payment, p core.Participant, now time.Time) error {
	fresh, err := e.store.SettlePayment(ctx, payment.Reference, storage.SettlementRefunded, now)
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", payment.Reference, err)
	}
	if !fresh {
		return nil
	}
	if err := e.refunds.IssueRefunds(ctx, payment.AuctionID, []core.Participant{p}); err != nil {
		logger.Errorf("Failed to refund participant %s of auction %s: %v", p.UserID, payment.AuctionID, err)
	}
	return nil
}

// Participant returns one participant of an auction.
func (e *Engine) Participant(ctx context.Context, auctionID, participantID string) (core.Participant, error) {
	return e.store.GetParticipant(ctx, auctionID, participantID)
}

// HandlePaymentResult routes a gateway callback to the operation that
// started the payment.
func (e *Engine) HandlePaymentResult(ctx context.Context, reference string, success bool) error {
	payment, err := e.store.GetPayment(ctx, reference)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", reference, err)
	}
	switch payment.Kind {
	case storage.PaymentEntry:
		_, err = e.ConfirmEntryPayment(ctx, reference, success)
	case storage.PaymentClaim:
		_, err = e.ConfirmClaimPayment(ctx, reference, success)
	default:
		err = fmt.Errorf("payment %s has unknown kind %q", reference, payment.Kind)
	}
	return err
}

func (e *Engine) startPayment(ctx context.Context, payment storage.Payment) error {
	if err := e.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	err := e.payments.InitiatePayment(ctx, PaymentRequest{
		Reference:     payment.Reference,
		Kind:          payment.Kind,
		AuctionID:     payment.AuctionID,
		ParticipantID: payment.ParticipantID,
		Rank:          payment.Rank,
		Amount:        payment.Amount,
	})
	if err != nil {
		return fmt.Errorf("initiate %s payment: %w", payment.Kind, err)
	}
	return nil
}

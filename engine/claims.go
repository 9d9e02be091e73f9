package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage"
)

// Claims derives the claim ticket of a completed auction at the current time
// and fires any hand-off notifications not sent yet.
func (e *Engine) Claims(ctx context.Context, auctionID string) (core.ClaimTicket, error) {
	record, err := e.Winners(ctx, auctionID)
	if err != nil {
		return core.ClaimTicket{}, err
	}
	ticket, err := e.ticket(ctx, record)
	if err != nil {
		return core.ClaimTicket{}, err
	}
	e.announce(ctx, ticket)
	return ticket, nil
}

// ClaimFor returns one participant's claim view. Non-winners are
// NOT_QUALIFIED.
func (e *Engine) ClaimFor(ctx context.Context, auctionID, participantID string) (core.RankClaim, error) {
	ticket, err := e.Claims(ctx, auctionID)
	if err != nil {
		return core.RankClaim{}, err
	}
	return ticket.ForParticipant(participantID), nil
}

func (e *Engine) ticket(ctx context.Context, record core.WinnerRecord) (core.ClaimTicket, error) {
	return e.ticketAt(ctx, record, e.clock.Now())
}

// ticketAt derives the ticket at now. Callers that append a claim event pass
// the same now so the event lands in the window it was checked against.
func (e *Engine) ticketAt(ctx context.Context, record core.WinnerRecord, now time.Time) (core.ClaimTicket, error) {
	events, err := e.store.ListClaimEvents(ctx, record.AuctionID)
	if err != nil {
		return core.ClaimTicket{}, fmt.Errorf("load claim events: %w", err)
	}
	return core.DeriveClaims(record, events, now), nil
}

// announce turns the ticket into transitions. The dispatcher drops any
// transition already delivered.
func (e *Engine) announce(ctx context.Context, ticket core.ClaimTicket) {
	now := e.clock.Now()
	for _, r := range ticket.Ranks {
		ev := notify.Event{AuctionID: ticket.AuctionID, ParticipantID: r.ParticipantID, Rank: r.Rank, At: now}
		switch r.Status {
		case core.ClaimWinEligible:
			ev.Kind = notify.KindClaimEligible
			ev.Deadline = r.Deadline
			if r.EligibleAt != nil {
				ev.At = *r.EligibleAt
			}
		case core.ClaimExpired:
			ev.Kind = notify.KindClaimExpired
			if r.EndedAt != nil {
				ev.At = *r.EndedAt
			}
		case core.ClaimClaimed:
			ev.Kind = notify.KindClaimed
			if r.EndedAt != nil {
				ev.At = *r.EndedAt
			}
		default:
			continue
		}
		e.dispatch(ctx, ev)
	}
	if ticket.Outcome == core.OutcomeUnclaimed {
		e.dispatch(ctx, notify.Event{Kind: notify.KindUnclaimed, AuctionID: ticket.AuctionID, At: now})
	}
}

// holderCheck returns the participant's rank if they hold the claim right.
func holderCheck(ticket core.ClaimTicket, participantID string) (core.RankClaim, error) {
	if ticket.Outcome == core.OutcomeClaimed {
		return core.RankClaim{}, core.ErrAlreadyResolved
	}
	holder, ok := ticket.Holder()
	if ok && holder.ParticipantID == participantID {
		return holder, nil
	}
	mine := ticket.ForParticipant(participantID)
	if mine.Status == core.ClaimExpired {
		return core.RankClaim{}, core.ErrClaimWindowExpired
	}
	return core.RankClaim{}, core.ErrNotClaimHolder
}

func winningAmount(record core.WinnerRecord, rank int) (core.WinnerEntry, bool) {
	for _, w := range record.Entries {
		if w.Rank == rank {
			return w, true
		}
	}
	return core.WinnerEntry{}, false
}

// InitiateClaim starts the claim payment of the current holder. The amount
// due is the holder's winning bid.
func (e *Engine) InitiateClaim(ctx context.Context, auctionID, participantID string) (storage.Payment, error) {
	record, err := e.Winners(ctx, auctionID)
	if err != nil {
		return storage.Payment{}, err
	}

	lock := e.auction.get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock.Now()
	ticket, err := e.ticketAt(ctx, record, now)
	if err != nil {
		return storage.Payment{}, err
	}
	holder, err := holderCheck(ticket, participantID)
	if err != nil {
		return storage.Payment{}, err
	}
	entry, ok := winningAmount(record, holder.Rank)
	if !ok {
		return storage.Payment{}, fmt.Errorf("auction %s has no winner at rank %d", auctionID, holder.Rank)
	}

	payment := storage.Payment{
		Reference:     uuid.NewString(),
		Kind:          storage.PaymentClaim,
		AuctionID:     auctionID,
		ParticipantID: participantID,
		Rank:          holder.Rank,
		Amount:        entry.Amount,
		CreatedAt:     now,
	}
	if err := e.startPayment(ctx, payment); err != nil {
		return storage.Payment{}, err
	}
	logger.Infof("Claim payment %s started: auction %s rank %d participant %s (deadline %s)",
		payment.Reference, auctionID, holder.Rank, participantID, formatDeadline(holder.Deadline))
	return payment, nil
}

// ConfirmClaimPayment applies the gateway's answer for a claim payment. A
// success inside the holder's window records the claim. Any other success
// is refunded: one that arrives after the window moved on is rejected with
// ClaimWindowExpired, a second payment for a prize already claimed with
// AlreadyResolved. A failure is only logged; the holder may pay again while
// the window lasts. Each reference is settled once, so a repeated callback
// changes nothing.
func (e *Engine) ConfirmClaimPayment(ctx context.Context, reference string, success bool) (core.ClaimTicket, error) {
	payment, err := e.store.GetPayment(ctx, reference)
	if err != nil {
		return core.ClaimTicket{}, fmt.Errorf("load payment %s: %w", reference, err)
	}
	if payment.Kind != storage.PaymentClaim {
		return core.ClaimTicket{}, fmt.Errorf("payment %s is not a claim payment", reference)
	}
	record, err := e.Winners(ctx, payment.AuctionID)
	if err != nil {
		return core.ClaimTicket{}, err
	}

	lock := e.auction.get(payment.AuctionID)
	lock.Lock()
	ticket, err := e.confirmClaimLocked(ctx, record, reference, success)
	lock.Unlock()
	if err != nil {
		return ticket, err
	}
	e.announce(ctx, ticket)
	return ticket, nil
}

func (e *Engine) confirmClaimLocked(ctx context.Context, record core.WinnerRecord, reference string, success bool) (core.ClaimTicket, error) {
	now := e.clock.Now()
	ticket, err := e.ticketAt(ctx, record, now)
	if err != nil {
		return core.ClaimTicket{}, err
	}
	// Re-read under the auction lock; the settlement may have moved.
	payment, err := e.store.GetPayment(ctx, reference)
	if err != nil {
		return ticket, fmt.Errorf("load payment %s: %w", reference, err)
	}
	if !success {
		logger.Warningf("Claim payment %s failed for participant %s in auction %s", payment.Reference, payment.ParticipantID, payment.AuctionID)
		return ticket, nil
	}
	if payment.Settled() {
		return ticket, nil
	}

	if ticket.Outcome == core.OutcomeClaimed {
		logger.Warningf("Claim payment %s by %s arrived after auction %s was claimed, refunding",
			payment.Reference, payment.ParticipantID, payment.AuctionID)
		if err := e.refundClaim(ctx, payment, now); err != nil {
			return ticket, err
		}
		return ticket, core.ErrAlreadyResolved
	}

	holder, ok := ticket.Holder()
	if !ok || holder.ParticipantID != payment.ParticipantID || holder.Rank != payment.Rank {
		logger.Warningf("Claim payment %s by %s arrived after the rank %d window of auction %s closed, refunding",
			payment.Reference, payment.ParticipantID, payment.Rank, payment.AuctionID)
		if err := e.refundClaim(ctx, payment, now); err != nil {
			return ticket, err
		}
		return ticket, core.ErrClaimWindowExpired
	}

	err = e.store.AppendClaimEvent(ctx, core.ClaimEvent{
		AuctionID:     payment.AuctionID,
		Rank:          holder.Rank,
		ParticipantID: holder.ParticipantID,
		Kind:          core.ClaimEventClaimed,
		At:            now,
	})
	if err != nil {
		return ticket, fmt.Errorf("append claim event: %w", err)
	}
	if _, err := e.store.SettlePayment(ctx, payment.Reference, storage.SettlementApplied, now); err != nil {
		return ticket, fmt.Errorf("settle payment %s: %w", payment.Reference, err)
	}
	logger.Infof("Auction %s prize claimed by rank %d participant %s", payment.AuctionID, holder.Rank, holder.ParticipantID)
	return e.ticketAt(ctx, record, now)
}

// Forfeit gives up the claim right. The next rank's window starts now.
func (e *Engine) Forfeit(ctx context.Context, auctionID, participantID string) (core.ClaimTicket, error) {
	record, err := e.Winners(ctx, auctionID)
	if err != nil {
		return core.ClaimTicket{}, err
	}

	lock := e.auction.get(auctionID)
	lock.Lock()
	ticket, err := e.forfeitLocked(ctx, record, participantID)
	lock.Unlock()
	if err != nil {
		return core.ClaimTicket{}, err
	}
	e.announce(ctx, ticket)
	return ticket, nil
}

func (e *Engine) forfeitLocked(ctx context.Context, record core.WinnerRecord, participantID string) (core.ClaimTicket, error) {
	now := e.clock.Now()
	ticket, err := e.ticketAt(ctx, record, now)
	if err != nil {
		return core.ClaimTicket{}, err
	}
	holder, err := holderCheck(ticket, participantID)
	if err != nil {
		return core.ClaimTicket{}, err
	}
	err = e.store.AppendClaimEvent(ctx, core.ClaimEvent{
		AuctionID:     record.AuctionID,
		Rank:          holder.Rank,
		ParticipantID: participantID,
		Kind:          core.ClaimEventForfeited,
		At:            now,
	})
	if err != nil {
		return core.ClaimTicket{}, fmt.Errorf("append claim event: %w", err)
	}
	logger.Infof("Auction %s rank %d participant %s forfeited the claim", record.AuctionID, holder.Rank, participantID)
	return e.ticketAt(ctx, record, now)
}

// refundClaim settles the payment as refunded before paying it back, so a
// retried callback never refunds twice. A refunder failure is logged.
func (e *Engine) refundClaim(ctx context.Context, payment storage.Payment, now time.Time) error {
	fresh, err := e.store.SettlePayment(ctx, payment.Reference, storage.SettlementRefunded, now)
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", payment.Reference, err)
	}
	if !fresh {
		return nil
	}
	p, err := e.store.GetParticipant(ctx, payment.AuctionID, payment.ParticipantID)
	if err != nil {
		p = core.Participant{AuctionID: payment.AuctionID, UserID: payment.ParticipantID}
	}
	if err := e.refunds.IssueRefunds(ctx, payment.AuctionID, []core.Participant{p}); err != nil {
		logger.Errorf("Failed to refund claim payment %s: %v", payment.Reference, err)
	}
	return nil
}

func formatDeadline(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.RFC3339)
}

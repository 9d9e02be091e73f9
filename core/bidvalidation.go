package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 2 // bids are whole minor units (paisa)

// BidExceeds returns true if amount is strictly greater than previous.
// Amounts are compared exactly; ValidateBid keeps them at monetaryPrecision.
func BidExceeds(amount, previous decimal.Decimal) bool {
	return amount.GreaterThan(previous)
}

// validAmount reports whether amount is positive and carries no digits
// below the minor unit. Trailing zeros ("150.100") are fine.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(monetaryPrecision))
}

// BidAttempt is a participant's request to bid in a round.
type BidAttempt struct {
	AuctionID     string
	ParticipantID string
	Round         int
	Amount        decimal.Decimal
	SubmittedAt   time.Time
}

// BidContext is everything needed to decide on a bid attempt.
type BidContext struct {
	Timeline    Timeline
	Now         time.Time
	Participant *Participant // nil when the user never entered
	PriorBids   []Bid        // the participant's accepted bids in this auction

	// Qualification, when set, is used instead of deriving it from PriorBids.
	// The engine passes its memoized value here.
	Qualification *Qualification
}

// ValidateBid decides on a bid attempt. Checks run in a fixed order and the
// first failure is returned:
//  1. entry fee paid (NoEntry)
//  2. the attempt targets the round open now (WrongRound)
//  3. no bid recorded yet for this round (DuplicateBid)
//  4. qualified for the round (NotQualified)
//  5. strictly above the previous round's bid (BidNotProgressive)
//
// A cancelled auction rejects every attempt with AuctionCancelled. A
// non-positive amount, or one finer than a minor unit, is InvalidAmount.
func ValidateBid(attempt BidAttempt, bc BidContext) error {
	status := StatusAt(bc.Timeline, bc.Now)
	if status == StatusCancelled {
		return ErrAuctionCancelled
	}
	if bc.Participant == nil || !bc.Participant.EntryPaid {
		return ErrNoEntry
	}
	open := status.Round()
	if open == 0 || attempt.Round != open {
		return ErrWrongRound
	}

	byRound := make(map[int]Bid, len(bc.PriorBids))
	for _, b := range bc.PriorBids {
		if b.ParticipantID == attempt.ParticipantID {
			byRound[b.Round] = b
		}
	}
	if _, exists := byRound[attempt.Round]; exists {
		return ErrDuplicateBid
	}
	if !validAmount(attempt.Amount) {
		return ErrInvalidAmount
	}
	q := bc.Qualification
	if q == nil {
		derived := Qualify(attempt.ParticipantID, bc.PriorBids, open)
		q = &derived
	}
	if !q.QualifiedFor(open) {
		return ErrNotQualified
	}
	if attempt.Round > 1 {
		previous := byRound[attempt.Round-1]
		if !BidExceeds(attempt.Amount, previous.Amount) {
			return ErrBidNotProgressive
		}
	}
	return nil
}

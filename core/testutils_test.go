package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return t0.Add(d)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bid(participant string, round int, amt string, submitted time.Time) Bid {
	return Bid{
		ID:            fmt.Sprintf("bid-%s-%d", participant, round),
		AuctionID:     "auction-1",
		ParticipantID: participant,
		Round:         round,
		Amount:        amount(amt),
		SubmittedAt:   submitted,
	}
}

// roundTime returns an instant minute m inside the given 1-based round.
func roundTime(round int, m int) time.Time {
	return at(time.Duration(round-1)*RoundLength + time.Duration(m)*time.Minute)
}

func paid(user string) *Participant {
	paidAt := at(-time.Minute)
	return &Participant{AuctionID: "auction-1", UserID: user, EntryPaid: true, EntryPaidAt: &paidAt}
}

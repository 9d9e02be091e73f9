package core

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func attempt(participant string, round int, amt string, now time.Time) BidAttempt {
	return BidAttempt{
		AuctionID:     "auction-1",
		ParticipantID: participant,
		Round:         round,
		Amount:        amount(amt),
		SubmittedAt:   now,
	}
}

func TestValidateBid_Order(t *testing.T) {
	tl := Timeline{StartsAt: t0, Round1Bidders: 5}
	prior := []Bid{
		bid("p1", 1, "100", roundTime(1, 2)),
		bid("p1", 2, "150", roundTime(2, 2)),
	}

	tests := []struct {
		name        string
		participant *Participant
		attempt     BidAttempt
		prior       []Bid
		want        error
	}{
		{
			name:    "no entry checked before round",
			attempt: attempt("p1", 4, "10", roundTime(2, 3)),
			want:    ErrNoEntry,
		},
		{
			name:        "unpaid participant",
			participant: &Participant{UserID: "p1"},
			attempt:     attempt("p1", 2, "200", roundTime(2, 3)),
			want:        ErrNoEntry,
		},
		{
			name:        "wrong round",
			participant: paid("p1"),
			attempt:     attempt("p1", 3, "200", roundTime(2, 3)),
			prior:       prior[:1],
			want:        ErrWrongRound,
		},
		{
			name:        "no round open during entry",
			participant: paid("p1"),
			attempt:     attempt("p1", 1, "200", at(-time.Minute)),
			want:        ErrWrongRound,
		},
		{
			name:        "duplicate checked before progression",
			participant: paid("p1"),
			attempt:     attempt("p1", 2, "10", roundTime(2, 5)),
			prior:       prior,
			want:        ErrDuplicateBid,
		},
		{
			name:        "not progressive",
			participant: paid("p1"),
			attempt:     attempt("p1", 2, "100", roundTime(2, 3)),
			prior:       prior[:1],
			want:        ErrBidNotProgressive,
		},
		{
			name:        "equal to previous is not progressive",
			participant: paid("p1"),
			attempt:     attempt("p1", 2, "100.00", roundTime(2, 3)),
			prior:       prior[:1],
			want:        ErrBidNotProgressive,
		},
		{
			name:        "missed round 1",
			participant: paid("p2"),
			attempt:     attempt("p2", 2, "500", roundTime(2, 3)),
			prior:       prior,
			want:        ErrNotQualified,
		},
		{
			name:        "non-positive amount",
			participant: paid("p1"),
			attempt:     attempt("p1", 1, "0", roundTime(1, 3)),
			want:        ErrInvalidAmount,
		},
		{
			name:        "accepted round 1",
			participant: paid("p1"),
			attempt:     attempt("p1", 1, "100", roundTime(1, 3)),
			want:        nil,
		},
		{
			name:        "accepted progressive round 3",
			participant: paid("p1"),
			attempt:     attempt("p1", 3, "150.01", roundTime(3, 3)),
			prior:       prior,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBid(tt.attempt, BidContext{
				Timeline:    tl,
				Now:         tt.attempt.SubmittedAt,
				Participant: tt.participant,
				PriorBids:   tt.prior,
			})
			if tt.want == nil {
				check.NoError(t, err)
				return
			}
			check.Error(t, err)
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestValidateBid_Cancelled(t *testing.T) {
	cancelledAt := at(time.Minute)
	tl := Timeline{StartsAt: t0, Round1Bidders: 5, CancelledAt: &cancelledAt}

	err := ValidateBid(attempt("p1", 1, "100", at(2*time.Minute)), BidContext{
		Timeline:    tl,
		Now:         at(2 * time.Minute),
		Participant: paid("p1"),
	})

	check.True(t, errors.Is(err, ErrAuctionCancelled))
}

func TestBidExceeds(t *testing.T) {
	check.True(t, BidExceeds(amount("150"), amount("149.99")))
	check.False(t, BidExceeds(amount("150"), amount("150.00")))
	check.True(t, BidExceeds(amount("100.01"), amount("100")))
	check.False(t, BidExceeds(amount("140"), amount("150")))
}

func TestValidateBid_SubMinorUnitAmounts(t *testing.T) {
	tl := Timeline{StartsAt: t0, Round1Bidders: 5}
	bc := BidContext{
		Timeline:    tl,
		Now:         roundTime(2, 3),
		Participant: paid("p1"),
		PriorBids:   []Bid{bid("p1", 1, "100", roundTime(1, 2))},
	}

	tests := []struct {
		amount string
		want   error
	}{
		{"100.004", ErrInvalidAmount},
		{"0.001", ErrInvalidAmount},
		{"100.01", nil},
		{"100.100", nil},
		{"100.00", ErrBidNotProgressive},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := ValidateBid(attempt("p1", 2, tt.amount, roundTime(2, 3)), bc)
			if tt.want == nil {
				check.NoError(t, err)
				return
			}
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestValidateBid_MemoizedQualification(t *testing.T) {
	tl := Timeline{StartsAt: t0, Round1Bidders: 5}
	prior := []Bid{bid("p1", 1, "100", roundTime(1, 2))}
	bc := BidContext{
		Timeline:    tl,
		Now:         roundTime(2, 3),
		Participant: paid("p1"),
		PriorBids:   prior,
	}
	check.NoError(t, ValidateBid(attempt("p1", 2, "150", roundTime(2, 3)), bc))

	// A cached loss wins over what the bids alone would say.
	bc.Qualification = &Qualification{ParticipantID: "p1", LostAt: 2}
	err := ValidateBid(attempt("p1", 2, "150", roundTime(2, 3)), bc)
	check.True(t, errors.Is(err, ErrNotQualified))
}

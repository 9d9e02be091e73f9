// Package storagetest holds the behaviour every storage.Store must share.
// Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/storage"
)

var start = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

// Run exercises a fresh store returned by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("auctions", func(t *testing.T) { testAuctions(t, open(t)) })
	t.Run("participants", func(t *testing.T) { testParticipants(t, open(t)) })
	t.Run("bids", func(t *testing.T) { testBids(t, open(t)) })
	t.Run("same millisecond bids", func(t *testing.T) { testSameMillisecondBids(t, open(t)) })
	t.Run("concurrent duplicate bids", func(t *testing.T) { testConcurrentBids(t, open(t)) })
	t.Run("winners", func(t *testing.T) { testWinners(t, open(t)) })
	t.Run("claim events", func(t *testing.T) { testClaimEvents(t, open(t)) })
	t.Run("payments", func(t *testing.T) { testPayments(t, open(t)) })
	t.Run("notification acks", func(t *testing.T) { testNotified(t, open(t)) })
}

func newAuction(id string) core.Auction {
	return core.Auction{
		ID:         id,
		Code:       "A-" + id,
		Name:       "Auction " + id,
		StartsAt:   start,
		PrizeValue: decimal.RequireFromString("2500.00"),
		EntryFee:   decimal.RequireFromString("10"),
		CreatedAt:  start.Add(-24 * time.Hour),
	}
}

func testAuctions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a2")))

	got, err := s.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, "A-a1", got.Code)
	check.True(t, start.Equal(got.StartsAt))
	check.Equal(t, "2500", got.PrizeValue.String())
	check.True(t, got.CancelledAt == nil)

	_, err = s.GetAuction(ctx, "missing")
	check.True(t, errors.Is(err, core.ErrAuctionNotFound))

	all, err := s.ListAuctions(ctx)
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))

	cancelledAt := start.Add(5 * time.Minute)
	assert.NoError(t, s.MarkCancelled(ctx, "a1", cancelledAt, "admin"))
	// A second cancellation keeps the first instant.
	assert.NoError(t, s.MarkCancelled(ctx, "a1", cancelledAt.Add(time.Minute), "other"))

	got, err = s.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	assert.NotNil(t, got.CancelledAt)
	check.True(t, cancelledAt.Equal(*got.CancelledAt))
	check.Equal(t, "admin", got.CancelledBy)

	check.True(t, errors.Is(s.MarkCancelled(ctx, "missing", cancelledAt, "admin"), core.ErrAuctionNotFound))
}

func testParticipants(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	assert.NoError(t, s.UpsertParticipant(ctx, core.Participant{AuctionID: "a1", UserID: "u2", DisplayName: "Two"}))
	assert.NoError(t, s.UpsertParticipant(ctx, core.Participant{AuctionID: "a1", UserID: "u1", DisplayName: "One"}))

	p, err := s.GetParticipant(ctx, "a1", "u1")
	assert.NoError(t, err)
	check.False(t, p.EntryPaid)
	check.True(t, p.EntryPaidAt == nil)

	paidAt := start.Add(-time.Hour)
	p.EntryPaid = true
	p.EntryPaidAt = &paidAt
	assert.NoError(t, s.UpsertParticipant(ctx, p))

	p, err = s.GetParticipant(ctx, "a1", "u1")
	assert.NoError(t, err)
	check.True(t, p.EntryPaid)
	assert.NotNil(t, p.EntryPaidAt)
	check.True(t, paidAt.Equal(*p.EntryPaidAt))

	_, err = s.GetParticipant(ctx, "a1", "nobody")
	check.True(t, errors.Is(err, storage.ErrNotFound))

	all, err := s.ListParticipants(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(all))
	check.Equal(t, "u1", all[0].UserID)
	check.Equal(t, "u2", all[1].UserID)
}

func bid(id, participant string, round int, amount string, at time.Time) core.Bid {
	return core.Bid{
		ID:            id,
		AuctionID:     "a1",
		ParticipantID: participant,
		Round:         round,
		Amount:        decimal.RequireFromString(amount),
		SubmittedAt:   at,
	}
}

// Two deciding bids inside one millisecond still rank by submission order.
func testSameMillisecondBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	first := start.Add(46*time.Minute + 300*time.Microsecond)
	assert.NoError(t, s.AppendBid(ctx, bid("b1", "zed", 4, "500", first)))
	assert.NoError(t, s.AppendBid(ctx, bid("b2", "amy", 4, "500", first.Add(200*time.Microsecond))))

	bids, err := s.ListBids(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	for _, b := range bids {
		if b.ID == "b1" {
			check.True(t, first.Equal(b.SubmittedAt))
		}
	}

	ranking := core.RankRoundBids(bids, 4)
	check.Equal(t, []string{"zed", "amy"}, ranking.SortedBidders)
}

func testBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	assert.NoError(t, s.AppendBid(ctx, bid("b2", "p2", 1, "120.50", start.Add(2*time.Minute))))
	assert.NoError(t, s.AppendBid(ctx, bid("b1", "p1", 1, "100", start.Add(time.Minute))))
	assert.NoError(t, s.AppendBid(ctx, bid("b3", "p1", 2, "150", start.Add(16*time.Minute))))

	err := s.AppendBid(ctx, bid("b4", "p1", 1, "999", start.Add(3*time.Minute)))
	check.True(t, errors.Is(err, core.ErrDuplicateBid))

	bids, err := s.ListBids(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(bids))
	check.Equal(t, "b1", bids[0].ID)
	check.Equal(t, "b2", bids[1].ID)
	check.Equal(t, "120.5", bids[1].Amount.String())
	check.True(t, start.Add(2*time.Minute).Equal(bids[1].SubmittedAt))
	check.Equal(t, 2, bids[2].Round)

	other, err := s.ListBids(ctx, "a2")
	assert.NoError(t, err)
	check.Equal(t, 0, len(other))
}

func testConcurrentBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		dupes    int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.AppendBid(ctx, bid(fmt.Sprintf("b%d", i), "p1", 1, "100", start.Add(time.Minute)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, core.ErrDuplicateBid):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	check.Equal(t, 1, accepted)
	check.Equal(t, attempts-1, dupes)
}

func testWinners(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	_, err := s.GetWinners(ctx, "a1")
	check.True(t, errors.Is(err, storage.ErrNotFound))

	record := core.WinnerRecord{
		AuctionID:     "a1",
		DecidingRound: 4,
		CompletedAt:   start.Add(time.Hour),
		ResolvedAt:    start.Add(time.Hour + time.Second),
		Entries: []core.WinnerEntry{
			{Rank: 1, ParticipantID: "p1", Amount: decimal.RequireFromString("400"), SubmittedAt: start.Add(46 * time.Minute)},
			{Rank: 2, ParticipantID: "p2", Amount: decimal.RequireFromString("390.25"), SubmittedAt: start.Add(47 * time.Minute)},
		},
		Proof: []byte{0x01, 0x02},
	}
	assert.NoError(t, s.SaveWinners(ctx, record))

	second := record
	second.Entries = nil
	check.True(t, errors.Is(s.SaveWinners(ctx, second), core.ErrAlreadyResolved))

	got, err := s.GetWinners(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 4, got.DecidingRound)
	check.True(t, record.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, 2, len(got.Entries))
	check.Equal(t, "p1", got.Entries[0].ParticipantID)
	check.Equal(t, "390.25", got.Entries[1].Amount.String())
	check.Equal(t, []byte{0x01, 0x02}, got.Proof)
}

func testClaimEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	assert.NoError(t, s.CreateAuction(ctx, newAuction("a1")))

	forfeit := core.ClaimEvent{AuctionID: "a1", Rank: 1, ParticipantID: "p1", Kind: core.ClaimEventForfeited, At: start.Add(62 * time.Minute)}
	claim := core.ClaimEvent{AuctionID: "a1", Rank: 2, ParticipantID: "p2", Kind: core.ClaimEventClaimed, At: start.Add(70 * time.Minute)}
	assert.NoError(t, s.AppendClaimEvent(ctx, forfeit))
	assert.NoError(t, s.AppendClaimEvent(ctx, claim))

	events, err := s.ListClaimEvents(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(events))
	check.Equal(t, core.ClaimEventForfeited, events[0].Kind)
	check.Equal(t, core.ClaimEventClaimed, events[1].Kind)
	check.True(t, claim.At.Equal(events[1].At))
}

func testPayments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := storage.Payment{
		Reference:     "ref-1",
		Kind:          storage.PaymentClaim,
		AuctionID:     "a1",
		ParticipantID: "p1",
		Rank:          1,
		Amount:        decimal.RequireFromString("2500"),
		CreatedAt:     start,
	}
	assert.NoError(t, s.SavePayment(ctx, p))

	got, err := s.GetPayment(ctx, "ref-1")
	assert.NoError(t, err)
	check.Equal(t, storage.PaymentClaim, got.Kind)
	check.Equal(t, 1, got.Rank)
	check.Equal(t, "2500", got.Amount.String())
	check.False(t, got.Settled())

	settledAt := start.Add(time.Minute)
	fresh, err := s.SettlePayment(ctx, "ref-1", storage.SettlementApplied, settledAt)
	assert.NoError(t, err)
	check.True(t, fresh)

	fresh, err = s.SettlePayment(ctx, "ref-1", storage.SettlementRefunded, settledAt.Add(time.Minute))
	assert.NoError(t, err)
	check.False(t, fresh)

	got, err = s.GetPayment(ctx, "ref-1")
	assert.NoError(t, err)
	check.Equal(t, storage.SettlementApplied, got.Settlement)
	assert.True(t, got.SettledAt != nil)
	check.True(t, settledAt.Equal(*got.SettledAt))

	_, err = s.GetPayment(ctx, "nope")
	check.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.SettlePayment(ctx, "nope", storage.SettlementApplied, settledAt)
	check.True(t, errors.Is(err, storage.ErrNotFound))
}

func testNotified(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first, err := s.MarkNotified(ctx, "a1|1|WIN_ELIGIBLE")
	assert.NoError(t, err)
	check.True(t, first)

	again, err := s.MarkNotified(ctx, "a1|1|WIN_ELIGIBLE")
	assert.NoError(t, err)
	check.False(t, again)

	other, err := s.MarkNotified(ctx, "a1|2|WIN_ELIGIBLE")
	assert.NoError(t, err)
	check.True(t, other)
}

package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage"
)

func TestClaim_PaymentFlow(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)
	h.clock.Set(completion.Add(2 * time.Minute))

	_, err := h.engine.InitiateClaim(h.ctx, a.ID, "carol")
	check.True(t, errors.Is(err, core.ErrNotClaimHolder))
	_, err = h.engine.InitiateClaim(h.ctx, a.ID, "alice")
	check.True(t, errors.Is(err, core.ErrNotClaimHolder))

	payment, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)
	check.Equal(t, storage.PaymentClaim, payment.Kind)
	check.Equal(t, 1, payment.Rank)
	check.Equal(t, "440", payment.Amount.String())
	check.Equal(t, payment.Reference, h.gateway.last().Reference)

	// A failed payment keeps the window open for a retry.
	h.clock.Set(completion.Add(3 * time.Minute))
	ticket, err := h.engine.ConfirmClaimPayment(h.ctx, payment.Reference, false)
	assert.NoError(t, err)
	check.Equal(t, core.OutcomePending, ticket.Outcome)
	check.Equal(t, core.ClaimWinEligible, ticket.Ranks[0].Status)

	retry, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)

	h.clock.Set(completion.Add(4 * time.Minute))
	assert.NoError(t, h.engine.HandlePaymentResult(h.ctx, retry.Reference, true))

	ticket, err = h.engine.Claims(h.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.OutcomeClaimed, ticket.Outcome)
	check.Equal(t, core.ClaimClaimed, ticket.Ranks[0].Status)
	check.Equal(t, core.ClaimNotQualified, ticket.Ranks[1].Status)
	check.Equal(t, core.ClaimNotQualified, ticket.Ranks[2].Status)
	check.Equal(t, 1, h.notes.count(notify.KindClaimed, 1))

	// The prize is gone; a repeated callback changes nothing.
	_, err = h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	check.True(t, errors.Is(err, core.ErrAlreadyResolved))
	_, err = h.engine.ConfirmClaimPayment(h.ctx, retry.Reference, true)
	check.NoError(t, err)
	check.Equal(t, 1, h.notes.count(notify.KindClaimed, 1))

	// The claim outlives the window it was made in.
	h.clock.Set(completion.Add(2 * time.Hour))
	ticket, err = h.engine.Claims(h.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.OutcomeClaimed, ticket.Outcome)
	check.Equal(t, 0, h.notes.count(notify.KindUnclaimed, 0))
}

func TestClaim_LatePaymentRefunded(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	h.clock.Set(completion.Add(5 * time.Minute))
	payment, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)

	h.clock.Set(completion.Add(16 * time.Minute))
	err = h.engine.HandlePaymentResult(h.ctx, payment.Reference, true)
	check.True(t, errors.Is(err, core.ErrClaimWindowExpired))
	check.Equal(t, []string{"dave"}, h.refunder.ids())

	_, err = h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	check.True(t, errors.Is(err, core.ErrClaimWindowExpired))

	claim, err := h.engine.ClaimFor(h.ctx, a.ID, "carol")
	assert.NoError(t, err)
	check.Equal(t, core.ClaimWinEligible, claim.Status)
}

func TestClaim_SecondPaymentRefunded(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)
	h.clock.Set(completion.Add(2 * time.Minute))

	first, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)
	second, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)
	check.NotEqual(t, first.Reference, second.Reference)

	h.clock.Set(completion.Add(3 * time.Minute))
	assert.NoError(t, h.engine.HandlePaymentResult(h.ctx, first.Reference, true))
	check.Equal(t, 0, len(h.refunder.ids()))

	err = h.engine.HandlePaymentResult(h.ctx, second.Reference, true)
	check.True(t, errors.Is(err, core.ErrAlreadyResolved))
	check.Equal(t, []string{"dave"}, h.refunder.ids())

	// Gateway retries change nothing.
	check.NoError(t, h.engine.HandlePaymentResult(h.ctx, first.Reference, true))
	check.NoError(t, h.engine.HandlePaymentResult(h.ctx, second.Reference, true))
	check.Equal(t, []string{"dave"}, h.refunder.ids())
	check.Equal(t, 1, h.notes.count(notify.KindClaimed, 1))

	p1, err := h.store.GetPayment(h.ctx, first.Reference)
	assert.NoError(t, err)
	check.Equal(t, storage.SettlementApplied, p1.Settlement)
	p2, err := h.store.GetPayment(h.ctx, second.Reference)
	assert.NoError(t, err)
	check.Equal(t, storage.SettlementRefunded, p2.Settlement)
}

func TestClaim_LateRefundNotRepeated(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	h.clock.Set(completion.Add(5 * time.Minute))
	payment, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)

	h.clock.Set(completion.Add(16 * time.Minute))
	err = h.engine.HandlePaymentResult(h.ctx, payment.Reference, true)
	check.True(t, errors.Is(err, core.ErrClaimWindowExpired))

	for i := 0; i < 3; i++ {
		check.NoError(t, h.engine.HandlePaymentResult(h.ctx, payment.Reference, true))
	}
	check.Equal(t, []string{"dave"}, h.refunder.ids())
}

func TestClaim_PaymentAtDeadlineStaysInWindow(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	h.clock.Set(completion.Add(5 * time.Minute))
	payment, err := h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	assert.NoError(t, err)

	// Every clock read moves past the one before; the claim is checked and
	// stamped at the same instant.
	deadline := completion.Add(core.ClaimWindow)
	h.clock.Set(deadline.Add(-time.Nanosecond))
	h.clock.SetStep(time.Nanosecond)
	_, err = h.engine.ConfirmClaimPayment(h.ctx, payment.Reference, true)
	assert.NoError(t, err)
	h.clock.SetStep(0)

	events, err := h.store.ListClaimEvents(h.ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(events))
	check.True(t, events[0].At.Before(deadline))

	ticket, err := h.engine.Claims(h.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.OutcomeClaimed, ticket.Outcome)
	check.Equal(t, 0, len(h.refunder.ids()))
}

func TestClaim_ForfeitStartsFreshWindow(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	forfeitAt := completion.Add(5 * time.Minute)
	h.clock.Set(forfeitAt)

	_, err := h.engine.Forfeit(h.ctx, a.ID, "bob")
	check.True(t, errors.Is(err, core.ErrNotClaimHolder))

	ticket, err := h.engine.Forfeit(h.ctx, a.ID, "dave")
	assert.NoError(t, err)
	check.Equal(t, 2, ticket.CurrentRank)
	check.Equal(t, core.ClaimExpired, ticket.Ranks[0].Status)
	assert.True(t, ticket.Deadline != nil)
	check.Equal(t, forfeitAt.Add(core.ClaimWindow), *ticket.Deadline)
	check.Equal(t, 1, h.notes.count(notify.KindClaimEligible, 2))

	_, err = h.engine.Forfeit(h.ctx, a.ID, "dave")
	check.True(t, errors.Is(err, core.ErrClaimWindowExpired))

	h.clock.Set(forfeitAt.Add(core.ClaimWindow - time.Second))
	payment, err := h.engine.InitiateClaim(h.ctx, a.ID, "carol")
	assert.NoError(t, err)
	check.Equal(t, 2, payment.Rank)
	check.Equal(t, "340", payment.Amount.String())
}

func TestClaims_AllRanksExpire(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	h.clock.Set(completion.Add(3 * core.ClaimWindow))
	ticket, err := h.engine.Claims(h.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.OutcomeUnclaimed, ticket.Outcome)
	check.True(t, ticket.Deadline == nil)
	for _, r := range ticket.Ranks {
		check.Equal(t, core.ClaimExpired, r.Status)
	}

	_, err = h.engine.Claims(h.ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, h.notes.count(notify.KindUnclaimed, 0))
	check.Equal(t, 1, h.notes.count(notify.KindClaimExpired, 3))

	_, err = h.engine.InitiateClaim(h.ctx, a.ID, "bob")
	check.True(t, errors.Is(err, core.ErrClaimWindowExpired))
}

func TestClaims_NotCompleted(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")
	h.playFull(a.ID)

	_, err := h.engine.Claims(h.ctx, a.ID)
	check.True(t, errors.Is(err, core.ErrNotCompleted))
	_, err = h.engine.InitiateClaim(h.ctx, a.ID, "dave")
	check.True(t, errors.Is(err, core.ErrNotCompleted))
}

func TestSweeper_AnnouncesHandOffs(t *testing.T) {
	h := newHarness(t)
	a := h.createAuction("0")

	// Running and cancelled auctions are skipped.
	b := h.createAuction("0")
	_, err := h.engine.Cancel(h.ctx, b.ID, "admin")
	assert.NoError(t, err)
	h.playFull(a.ID)

	sweeper := NewSweeper(h.engine, 0)
	check.Equal(t, DefaultSweepInterval, sweeper.interval)

	assert.NoError(t, sweeper.SweepOnce(h.ctx))
	check.Equal(t, 0, h.notes.count(notify.KindAuctionCompleted, 0))

	h.clock.Set(completion.Add(time.Minute))
	assert.NoError(t, sweeper.SweepOnce(h.ctx))
	check.Equal(t, 1, h.notes.count(notify.KindAuctionCompleted, 0))
	check.Equal(t, 1, h.notes.count(notify.KindClaimEligible, 1))

	h.clock.Set(completion.Add(core.ClaimWindow + time.Minute))
	assert.NoError(t, sweeper.SweepOnce(h.ctx))
	assert.NoError(t, sweeper.SweepOnce(h.ctx))
	check.Equal(t, 1, h.notes.count(notify.KindClaimExpired, 1))
	check.Equal(t, 1, h.notes.count(notify.KindClaimEligible, 2))
	check.Equal(t, 1, h.notes.count(notify.KindAuctionCompleted, 0))
}

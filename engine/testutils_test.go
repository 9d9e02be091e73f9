package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage/memory"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

// completion is when an auction that runs all four rounds completes.
var completion = t0.Add(core.TotalRounds * core.RoundLength)

// roundTime returns minute m inside the given 1-based round.
func roundTime(round, m int) time.Time {
	return t0.Add(time.Duration(round-1)*core.RoundLength + time.Duration(m)*time.Minute)
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration // added after every read
	stale bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) SetStep(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

func (c *fakeClock) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) SetStale(stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = stale
}

type recordingGateway struct {
	mu       sync.Mutex
	requests []PaymentRequest
	err      error
}

func (g *recordingGateway) InitiatePayment(_ context.Context, req PaymentRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.requests = append(g.requests, req)
	return nil
}

func (g *recordingGateway) last() PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type recordingRefunder struct {
	mu       sync.Mutex
	refunded []string
}

func (r *recordingRefunder) IssueRefunds(_ context.Context, auctionID string, participants []core.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range participants {
		r.refunded = append(r.refunded, p.UserID)
	}
	return nil
}

func (r *recordingRefunder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.refunded...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

// count returns how many events of kind were delivered for rank.
func (n *recordingNotifier) count(kind notify.Kind, rank int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, ev := range n.events {
		if ev.Kind == kind && ev.Rank == rank {
			total++
		}
	}
	return total
}

type fakeAttester struct {
	proof []byte
	err   error
}

func (a fakeAttester) AttestWinners(core.WinnerRecord) ([]byte, error) {
	return a.proof, a.err
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	clock    *fakeClock
	store    *memory.Store
	gateway  *recordingGateway
	refunder *recordingRefunder
	notes    *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    &fakeClock{now: t0.Add(-time.Hour)},
		store:    memory.New(),
		gateway:  &recordingGateway{},
		refunder: &recordingRefunder{},
		notes:    &recordingNotifier{},
	}
	base := []Option{
		WithPaymentGateway(h.gateway),
		WithRefunder(h.refunder),
		WithDispatcher(notify.NewDispatcher(h.store, h.notes)),
	}
	h.engine = New(h.store, h.clock, append(base, opts...)...)
	return h
}

func (h *harness) createAuction(fee string) core.Auction {
	h.t.Helper()
	a, err := h.engine.CreateAuction(h.ctx, CreateAuctionRequest{
		Name:       "Gold coin",
		StartsAt:   t0,
		PrizeValue: decimal.RequireFromString("5000"),
		EntryFee:   decimal.RequireFromString(fee),
	})
	assert.NoError(h.t, err)
	return a
}

// enter joins and, when a fee is due, confirms the entry payment.
func (h *harness) enter(auctionID, user string) {
	h.t.Helper()
	res, err := h.engine.RequestEntry(h.ctx, EntryRequest{AuctionID: auctionID, ParticipantID: user})
	assert.NoError(h.t, err)
	if res.Payment != nil {
		assert.NoError(h.t, h.engine.HandlePaymentResult(h.ctx, res.Payment.Reference, true))
	}
}

func (h *harness) bid(auctionID, user string, round int, amount string) error {
	_, err := h.engine.SubmitBid(h.ctx, BidRequest{
		AuctionID:     auctionID,
		ParticipantID: user,
		Round:         round,
		Amount:        decimal.RequireFromString(amount),
	})
	return err
}

var players = []string{"alice", "bob", "carol", "dave"}

// playFull runs four participants through every round. In round r
// participant i bids (i+1)*100 + r*10, so dave ranks first, carol second
// and bob third.
func (h *harness) playFull(auctionID string) {
	h.t.Helper()
	h.clock.Set(t0.Add(-time.Minute))
	for _, p := range players {
		h.enter(auctionID, p)
	}
	for round := 1; round <= core.TotalRounds; round++ {
		h.clock.Set(roundTime(round, 1))
		for i, p := range players {
			amt := fmt.Sprintf("%d", (i+1)*100+round*10)
			if err := h.bid(auctionID, p, round, amt); err != nil {
				h.t.Fatalf("bid %s round %d: %v", p, round, err)
			}
		}
	}
}

// Package engine runs live auctions on top of the pure rules in core.
//
// The engine never stores derived state. Every operation loads the facts
// (auction, bids, claim events) from storage, derives status and claims at
// the clock's current time, and appends new facts under the auction's lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage"
)

// DefaultStaleCancelMargin narrows the live-round cancellation window while
// the clock cannot vouch for its reading.
const DefaultStaleCancelMargin = 30 * time.Second

// Engine coordinates every auction operation.
type Engine struct {
	store      storage.Store
	clock      Clock
	payments   PaymentGateway
	refunds    Refunder
	dispatcher Dispatcher
	attester   WinnerAttester

	bannerVisibility  time.Duration
	staleCancelMargin time.Duration

	quals   *core.QualificationCache
	auction *auctionLocks
	slots   *keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithPaymentGateway(g PaymentGateway) Option { return func(e *Engine) { e.payments = g } }
func WithRefunder(r Refunder) Option             { return func(e *Engine) { e.refunds = r } }
func WithDispatcher(d Dispatcher) Option         { return func(e *Engine) { e.dispatcher = d } }

// WithAttester enables winner attestation. Resolution fails over to an
// unattested record when the attester errors.
func WithAttester(a WinnerAttester) Option { return func(e *Engine) { e.attester = a } }

func WithBannerVisibility(d time.Duration) Option {
	return func(e *Engine) { e.bannerVisibility = d }
}

func WithStaleCancelMargin(d time.Duration) Option {
	return func(e *Engine) { e.staleCancelMargin = d }
}

// New creates an engine. Without options payments and refunds are only
// logged and notifications go to the log.
func New(store storage.Store, clock Clock, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		clock:             clock,
		payments:          LogGateway{},
		refunds:           LogRefunder{},
		bannerVisibility:  core.DefaultBannerVisibility,
		staleCancelMargin: DefaultStaleCancelMargin,
		quals:             core.NewQualificationCache(),
		auction:           newAuctionLocks(),
		slots:             newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = notify.NewDispatcher(store, notify.LogNotifier{})
	}
	return e
}

// snapshot is the set of facts an auction's state is derived from.
type snapshot struct {
	auction  core.Auction
	bids     []core.Bid
	timeline core.Timeline
}

func round1Bidders(bids []core.Bid) int {
	seen := make(map[string]struct{})
	for _, b := range bids {
		if b.Round == 1 {
			seen[b.ParticipantID] = struct{}{}
		}
	}
	return len(seen)
}

func (e *Engine) load(ctx context.Context, auctionID string) (snapshot, error) {
	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return snapshot{}, err
	}
	bids, err := e.store.ListBids(ctx, auctionID)
	if err != nil {
		return snapshot{}, fmt.Errorf("load bids: %w", err)
	}
	return snapshot{
		auction:  a,
		bids:     bids,
		timeline: core.TimelineFor(a, round1Bidders(bids)),
	}, nil
}

// CreateAuctionRequest holds the admin-supplied fields of a new auction.
type CreateAuctionRequest struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	StartsAt   time.Time       `json:"starts_at"`
	PrizeValue decimal.Decimal `json:"prize_value"`
	EntryFee   decimal.Decimal `json:"entry_fee"`
}

// CreateAuction schedules a new auction.
func (e *Engine) CreateAuction(ctx context.Context, req CreateAuctionRequest) (core.Auction, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return core.Auction{}, fmt.Errorf("auction name is required")
	}
	if req.StartsAt.IsZero() {
		return core.Auction{}, fmt.Errorf("auction start time is required")
	}
	if req.EntryFee.IsNegative() || req.PrizeValue.IsNegative() {
		return core.Auction{}, fmt.Errorf("amounts must not be negative")
	}

	now := e.clock.Now()
	a := core.Auction{
		ID:         uuid.NewString(),
		Code:       strings.TrimSpace(req.Code),
		Name:       name,
		StartsAt:   req.StartsAt.UTC(),
		PrizeValue: req.PrizeValue,
		EntryFee:   req.EntryFee,
		CreatedAt:  now,
	}
	if a.Code == "" {
		a.Code = strings.ToUpper(a.ID[:8])
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return core.Auction{}, fmt.Errorf("create auction: %w", err)
	}
	logger.Infof("Auction %s (%s) scheduled to start at %s", a.ID, a.Name, a.StartsAt.Format(time.RFC3339))
	return a, nil
}

// StatusView is the derived state of an auction at a point in time.
type StatusView struct {
	Auction       core.Auction `json:"auction"`
	Status        core.Status  `json:"status"`
	Round         int          `json:"round"`
	RoundOpensAt  *time.Time   `json:"round_opens_at,omitempty"`
	RoundClosesAt *time.Time   `json:"round_closes_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Round1Bidders int          `json:"round1_bidders"`
	CanCancel     bool         `json:"can_cancel"`
	BannerVisible bool         `json:"banner_visible"`
	Now           time.Time    `json:"now"`
	Stale         bool         `json:"stale"`
}

// Status derives the auction's state now.
func (e *Engine) Status(ctx context.Context, auctionID string) (StatusView, error) {
	snap, err := e.load(ctx, auctionID)
	if err != nil {
		return StatusView{}, err
	}
	now := e.clock.Now()
	stale := e.clock.Stale()
	status := core.StatusAt(snap.timeline, now)

	view := StatusView{
		Auction:       snap.auction,
		Status:        status,
		Round:         status.Round(),
		Round1Bidders: snap.timeline.Round1Bidders,
		CanCancel:     core.CanCancelWithMargin(snap.timeline, now, e.cancelMargin(stale)),
		Now:           now,
		Stale:         stale,
	}
	if view.Round > 0 {
		opens, closes := core.RoundWindow(snap.timeline, view.Round)
		view.RoundOpensAt, view.RoundClosesAt = &opens, &closes
	}
	if status == core.StatusCompleted {
		completedAt := core.CompletionTime(snap.timeline)
		view.CompletedAt = &completedAt
		view.BannerVisible = core.BannerVisible(completedAt, now, e.bannerVisibility)
	}
	return view, nil
}

// Leaderboard returns the standings of a round. Round 0 selects the open
// round, or the deciding round once the auction is over.
func (e *Engine) Leaderboard(ctx context.Context, auctionID string, round int) ([]core.LeaderboardRow, error) {
	if round < 0 || round > core.TotalRounds {
		return nil, fmt.Errorf("round must be between 1 and %d", core.TotalRounds)
	}
	snap, err := e.load(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if round == 0 {
		status := core.StatusAt(snap.timeline, e.clock.Now())
		round = status.Round()
		if round == 0 {
			round = snap.timeline.DecidingRound()
		}
	}
	return core.Leaderboard(snap.bids, round), nil
}

func (e *Engine) cancelMargin(stale bool) time.Duration {
	if stale {
		return e.staleCancelMargin
	}
	return 0
}

func (e *Engine) dispatch(ctx context.Context, ev notify.Event) {
	if _, err := e.dispatcher.Dispatch(ctx, ev); err != nil {
		logger.Errorf("Failed to dispatch %s for auction %s: %v", ev.Kind, ev.AuctionID, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// IsNotFound reports whether err means an unknown auction, participant,
// winner record or payment.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrAuctionNotFound) || isNotFound(err)
}

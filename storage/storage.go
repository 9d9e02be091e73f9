// Package storage defines the persistence contract of the auction engine.
//
// Bids and claim events are append-only. Winner records are written once.
// Everything else the engine reports (status, qualification, claim tickets)
// is derived from these facts at read time and never stored.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/core"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PaymentKind says what a payment pays for.
type PaymentKind string

const (
	PaymentEntry PaymentKind = "ENTRY"
	PaymentClaim PaymentKind = "CLAIM"
)

// Settlement is what became of a successful payment. The empty value means
// the gateway has not reported a success yet.
type Settlement string

const (
	SettlementApplied  Settlement = "APPLIED"
	SettlementRefunded Settlement = "REFUNDED"
)

// Payment links a gateway reference back to the auction operation it funds.
type Payment struct {
	Reference     string          `json:"reference"`
	Kind          PaymentKind     `json:"kind"`
	AuctionID     string          `json:"auction_id"`
	ParticipantID string          `json:"participant_id"`
	Rank          int             `json:"rank,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
	Settlement    Settlement      `json:"settlement,omitempty"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

// Settled reports whether a success for this payment was already handled.
func (p Payment) Settled() bool {
	return p.Settlement != ""
}

// Store is implemented by every backend. Implementations must be safe for
// concurrent use.
//
// AppendBid returns core.ErrDuplicateBid when the (auction, participant,
// round) slot is taken. SaveWinners returns core.ErrAlreadyResolved when a
// record already exists. SettlePayment settles a payment once and reports
// false for a payment that is already settled. GetAuction returns
// core.ErrAuctionNotFound; other lookups return ErrNotFound.
type Store interface {
	CreateAuction(ctx context.Context, a core.Auction) error
	GetAuction(ctx context.Context, id string) (core.Auction, error)
	ListAuctions(ctx context.Context) ([]core.Auction, error)
	MarkCancelled(ctx context.Context, id string, at time.Time, by string) error

	UpsertParticipant(ctx context.Context, p core.Participant) error
	GetParticipant(ctx context.Context, auctionID, userID string) (core.Participant, error)
	ListParticipants(ctx context.Context, auctionID string) ([]core.Participant, error)

	AppendBid(ctx context.Context, b core.Bid) error
	ListBids(ctx context.Context, auctionID string) ([]core.Bid, error)

	SaveWinners(ctx context.Context, record core.WinnerRecord) error
	GetWinners(ctx context.Context, auctionID string) (core.WinnerRecord, error)

	AppendClaimEvent(ctx context.Context, ev core.ClaimEvent) error
	ListClaimEvents(ctx context.Context, auctionID string) ([]core.ClaimEvent, error)

	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, reference string) (Payment, error)
	SettlePayment(ctx context.Context, reference string, settlement Settlement, at time.Time) (bool, error)

	// MarkNotified records an acknowledgement key and reports whether it was
	// new. A key is acknowledged at most once.
	MarkNotified(ctx context.Context, key string) (bool, error)

	Close() error
}

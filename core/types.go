package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RoundLength is the fixed length of each bidding round.
	RoundLength = 15 * time.Minute

	// TotalRounds is the number of bidding rounds in a live auction.
	TotalRounds = 4

	// WinnerCount is the number of ranked winners produced per auction.
	WinnerCount = 3

	// EarlyCompletionThreshold is the round-1 bidder count at or below which
	// the auction completes when round 1 closes.
	EarlyCompletionThreshold = 3

	// CancellationWindow is how long after the auction start an admin may still
	// cancel a live auction.
	CancellationWindow = 12 * time.Minute

	// ClaimWindow is the time each ranked winner has to pay for the prize.
	ClaimWindow = 15 * time.Minute

	// DefaultBannerVisibility is the default display window of the winner banner.
	DefaultBannerVisibility = 45 * time.Minute
)

// Status is the lifecycle position of an auction.
type Status string

const (
	StatusEntry     Status = "ENTRY"
	StatusRound1    Status = "ROUND_1"
	StatusRound2    Status = "ROUND_2"
	StatusRound3    Status = "ROUND_3"
	StatusRound4    Status = "ROUND_4"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// RoundStatus returns the status for a 1-based round number.
func RoundStatus(round int) Status {
	switch round {
	case 1:
		return StatusRound1
	case 2:
		return StatusRound2
	case 3:
		return StatusRound3
	case 4:
		return StatusRound4
	}
	return ""
}

// Round returns the 1-based round of a ROUND_k status, or 0 for any other status.
func (s Status) Round() int {
	switch s {
	case StatusRound1:
		return 1
	case StatusRound2:
		return 2
	case StatusRound3:
		return 3
	case StatusRound4:
		return 4
	}
	return 0
}

// Live reports whether a bidding round is open.
func (s Status) Live() bool {
	return s.Round() > 0
}

// Terminal reports whether the auction can no longer change status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Auction is the immutable definition of a live auction plus its single
// mutable lifecycle fact, the cancellation.
type Auction struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	StartsAt    time.Time       `json:"starts_at"`
	PrizeValue  decimal.Decimal `json:"prize_value"`
	EntryFee    decimal.Decimal `json:"entry_fee"`
	CreatedAt   time.Time       `json:"created_at"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy string          `json:"cancelled_by,omitempty"`
}

// Participant is a user's membership in one auction.
type Participant struct {
	AuctionID   string     `json:"auction_id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	EntryPaid   bool       `json:"entry_paid"`
	EntryPaidAt *time.Time `json:"entry_paid_at,omitempty"`
}

// Bid is an accepted round bid. Bids are never edited or withdrawn.
type Bid struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auction_id"`
	ParticipantID string          `json:"participant_id"`
	Round         int             `json:"round"`
	Amount        decimal.Decimal `json:"amount"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// WinnerEntry is one ranked winner of a completed auction.
type WinnerEntry struct {
	Rank          int             `json:"rank"`
	ParticipantID string          `json:"participant_id"`
	Amount        decimal.Decimal `json:"amount"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// WinnerRecord is the resolved outcome of an auction. It is produced once and
// never changes afterwards.
type WinnerRecord struct {
	AuctionID     string        `json:"auction_id"`
	DecidingRound int           `json:"deciding_round"`
	CompletedAt   time.Time     `json:"completed_at"`
	ResolvedAt    time.Time     `json:"resolved_at"`
	Entries       []WinnerEntry `json:"entries"`

	// Proof is an optional attestation over the entries (raw COSE bytes).
	Proof []byte `json:"proof,omitempty"`
}

// ClaimStatus is the claim state of a single ranked winner.
type ClaimStatus string

const (
	ClaimWinEligible  ClaimStatus = "WIN_ELIGIBLE"
	ClaimWaiting      ClaimStatus = "WAITING"
	ClaimClaimed      ClaimStatus = "CLAIMED"
	ClaimExpired      ClaimStatus = "EXPIRED"
	ClaimNotQualified ClaimStatus = "NOT_QUALIFIED"
)

// ClaimOutcome is the auction-level state of the prize.
type ClaimOutcome string

const (
	OutcomePending   ClaimOutcome = "PENDING"
	OutcomeClaimed   ClaimOutcome = "CLAIMED"
	OutcomeUnclaimed ClaimOutcome = "UNCLAIMED"
)

// ClaimEventKind is a recorded claim action.
type ClaimEventKind string

const (
	ClaimEventClaimed   ClaimEventKind = "CLAIMED"
	ClaimEventForfeited ClaimEventKind = "FORFEITED"
)

// ClaimEvent is an immutable fact from which the claim ticket is derived.
type ClaimEvent struct {
	AuctionID     string         `json:"auction_id"`
	Rank          int            `json:"rank"`
	ParticipantID string         `json:"participant_id"`
	Kind          ClaimEventKind `json:"kind"`
	At            time.Time      `json:"at"`
}

// RankClaim is the claim view of one ranked winner.
type RankClaim struct {
	Rank          int         `json:"rank"`
	ParticipantID string      `json:"participant_id"`
	Status        ClaimStatus `json:"status"`

	// EligibleAt is when the window opened, or the projected opening for WAITING ranks.
	EligibleAt *time.Time `json:"eligible_at,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`

	// EndedAt is when a CLAIMED or EXPIRED window closed.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// ClaimTicket tracks which ranked winner currently holds the right to claim.
type ClaimTicket struct {
	AuctionID   string       `json:"auction_id"`
	CurrentRank int          `json:"current_rank"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	Status      ClaimStatus  `json:"status"`
	Outcome     ClaimOutcome `json:"outcome"`
	Ranks       []RankClaim  `json:"ranks"`
}

// Holder returns the rank entry that currently holds the claim right, if any.
func (t *ClaimTicket) Holder() (RankClaim, bool) {
	for _, r := range t.Ranks {
		if r.Status == ClaimWinEligible {
			return r, true
		}
	}
	return RankClaim{}, false
}

// ForParticipant returns the claim view for a participant. Participants
// outside the ranked winners are NOT_QUALIFIED with no deadline.
func (t *ClaimTicket) ForParticipant(participantID string) RankClaim {
	for _, r := range t.Ranks {
		if r.ParticipantID == participantID {
			return r
		}
	}
	return RankClaim{ParticipantID: participantID, Status: ClaimNotQualified}
}

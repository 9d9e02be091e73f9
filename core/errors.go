package core

import "errors"

// RejectionReason is a machine-readable reason code for a refused operation.
type RejectionReason string

const (
	ReasonNoEntry                  RejectionReason = "NoEntry"
	ReasonWrongRound               RejectionReason = "WrongRound"
	ReasonDuplicateBid             RejectionReason = "DuplicateBid"
	ReasonBidNotProgressive        RejectionReason = "BidNotProgressive"
	ReasonCancellationWindowClosed RejectionReason = "CancellationWindowClosed"
	ReasonClaimWindowExpired       RejectionReason = "ClaimWindowExpired"
	ReasonAlreadyResolved          RejectionReason = "AlreadyResolved"

	ReasonNotQualified     RejectionReason = "NotQualified"
	ReasonAuctionCancelled RejectionReason = "AuctionCancelled"
	ReasonInvalidAmount    RejectionReason = "InvalidAmount"
	ReasonEntryClosed      RejectionReason = "EntryClosed"
	ReasonNotClaimHolder   RejectionReason = "NotClaimHolder"
	ReasonNotCompleted     RejectionReason = "NotCompleted"
)

// Rejection is a typed, final answer to a single request. It is never retried
// automatically.
type Rejection struct {
	Reason RejectionReason
}

func (r *Rejection) Error() string {
	return "rejected: " + string(r.Reason)
}

// Is matches rejections by reason so that errors.Is works against the
// sentinels below even when the rejection is wrapped.
func (r *Rejection) Is(target error) bool {
	var other *Rejection
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == r.Reason
}

func reject(reason RejectionReason) error {
	return &Rejection{Reason: reason}
}

var (
	ErrNoEntry                  = reject(ReasonNoEntry)
	ErrWrongRound               = reject(ReasonWrongRound)
	ErrDuplicateBid             = reject(ReasonDuplicateBid)
	ErrBidNotProgressive        = reject(ReasonBidNotProgressive)
	ErrCancellationWindowClosed = reject(ReasonCancellationWindowClosed)
	ErrClaimWindowExpired       = reject(ReasonClaimWindowExpired)
	ErrAlreadyResolved          = reject(ReasonAlreadyResolved)
	ErrNotQualified             = reject(ReasonNotQualified)
	ErrAuctionCancelled         = reject(ReasonAuctionCancelled)
	ErrInvalidAmount            = reject(ReasonInvalidAmount)
	ErrEntryClosed              = reject(ReasonEntryClosed)
	ErrNotClaimHolder           = reject(ReasonNotClaimHolder)
	ErrNotCompleted             = reject(ReasonNotCompleted)
)

// ErrAuctionNotFound is returned when an auction id is unknown.
var ErrAuctionNotFound = errors.New("auction not found")

// ReasonOf extracts the rejection reason from err, if it carries one.
func ReasonOf(err error) (RejectionReason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

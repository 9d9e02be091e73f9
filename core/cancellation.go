package core

import "time"

// CanCancel reports whether an admin cancellation is permitted at now.
//
// ENTRY is always cancellable. A live round is cancellable only while no more
// than CancellationWindow has elapsed since the auction start. COMPLETED and
// CANCELLED auctions are never cancellable.
func CanCancel(tl Timeline, now time.Time) bool {
	return CanCancelWithMargin(tl, now, 0)
}

// CanCancelWithMargin is CanCancel with the live-round window narrowed by
// margin. Callers pass a positive margin when their clock is stale.
func CanCancelWithMargin(tl Timeline, now time.Time, margin time.Duration) bool {
	status := StatusAt(tl, now)
	switch {
	case status == StatusEntry:
		return true
	case status.Live():
		if margin < 0 {
			margin = 0
		}
		return now.Sub(tl.StartsAt) <= CancellationWindow-margin
	default:
		return false
	}
}

// Refundable returns the participants owed an entry-fee refund on cancellation.
func Refundable(participants []Participant) []Participant {
	out := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.EntryPaid {
			out = append(out, p)
		}
	}
	return out
}

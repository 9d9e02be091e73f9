package core

import "time"

// Timeline holds the immutable facts the round state is derived from.
//
// Round1Bidders is the number of participants with an accepted round-1 bid.
// It can only change while round 1 is open, so once round 1 closes every
// reader derives the same answer from it.
type Timeline struct {
	StartsAt      time.Time
	CancelledAt   *time.Time
	Round1Bidders int
}

// TimelineFor builds the timeline of an auction from its round-1 bidder count.
func TimelineFor(a Auction, round1Bidders int) Timeline {
	return Timeline{
		StartsAt:      a.StartsAt,
		CancelledAt:   a.CancelledAt,
		Round1Bidders: round1Bidders,
	}
}

// EarlyCompletion reports whether the auction ends when round 1 closes.
func (tl Timeline) EarlyCompletion() bool {
	return tl.Round1Bidders <= EarlyCompletionThreshold
}

// StatusAt computes the auction status at now. It is a pure function: the
// current round is (now - start) / RoundLength and is never kept as a counter.
func StatusAt(tl Timeline, now time.Time) Status {
	if tl.CancelledAt != nil {
		return StatusCancelled
	}
	if now.Before(tl.StartsAt) {
		return StatusEntry
	}
	idx := int(now.Sub(tl.StartsAt) / RoundLength)
	if idx >= TotalRounds {
		return StatusCompleted
	}
	if idx >= 1 && tl.EarlyCompletion() {
		return StatusCompleted
	}
	return RoundStatus(idx + 1)
}

// RoundAt returns the open round at now, or 0 when no round is open.
func RoundAt(tl Timeline, now time.Time) int {
	return StatusAt(tl, now).Round()
}

// RoundWindow returns the [opens, closes) interval of a 1-based round.
func RoundWindow(tl Timeline, round int) (opens, closes time.Time) {
	opens = tl.StartsAt.Add(time.Duration(round-1) * RoundLength)
	return opens, opens.Add(RoundLength)
}

// DecidingRound is the round whose bids decide the winners.
func (tl Timeline) DecidingRound() int {
	if tl.EarlyCompletion() {
		return 1
	}
	return TotalRounds
}

// CompletionTime is the instant the auction reaches COMPLETED.
func CompletionTime(tl Timeline) time.Time {
	_, closes := RoundWindow(tl, tl.DecidingRound())
	return closes
}

// BannerVisible reports whether the winner banner should be shown. It is a
// presentation rule only and has no effect on claim escalation.
func BannerVisible(completedAt, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultBannerVisibility
	}
	return !now.Before(completedAt) && now.Before(completedAt.Add(window))
}

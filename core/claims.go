package core

import (
	"sort"
	"time"
)

// DeriveClaims computes the claim ticket of a resolved auction at now.
//
// Rank 1's window opens at the completion time. Every window lasts
// ClaimWindow and ends in one of three ways: a claim (terminal for the prize),
// a forfeit (EXPIRED at the forfeit instant) or the deadline passing (EXPIRED
// at the deadline). The next rank's window opens at the instant the previous
// one ended, so an early forfeit never shortens the next holder's window.
//
// Nothing here is stored; the same record, events and now always produce the
// same ticket.
func DeriveClaims(record WinnerRecord, events []ClaimEvent, now time.Time) ClaimTicket {
	ticket := ClaimTicket{
		AuctionID: record.AuctionID,
		Outcome:   OutcomePending,
		Ranks:     make([]RankClaim, 0, len(record.Entries)),
	}

	sorted := make([]ClaimEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	windowStart := record.CompletedAt
	var projected time.Time
	holding := false

	for _, entry := range record.Entries {
		rc := RankClaim{Rank: entry.Rank, ParticipantID: entry.ParticipantID}

		switch {
		case ticket.Outcome == OutcomeClaimed:
			rc.Status = ClaimNotQualified

		case holding || now.Before(windowStart):
			if !holding {
				projected = windowStart
				holding = true
			}
			rc.Status = ClaimWaiting
			rc.EligibleAt = timePtr(projected)
			projected = projected.Add(ClaimWindow)

		default:
			deadline := windowStart.Add(ClaimWindow)
			ev, found := firstEventInWindow(sorted, entry, windowStart, deadline)
			switch {
			case found && !ev.At.After(now) && ev.Kind == ClaimEventClaimed:
				rc.Status = ClaimClaimed
				rc.EligibleAt = timePtr(windowStart)
				rc.Deadline = timePtr(deadline)
				rc.EndedAt = timePtr(ev.At)
				ticket.Outcome = OutcomeClaimed
				ticket.Status = ClaimClaimed
				ticket.CurrentRank = entry.Rank

			case found && !ev.At.After(now) && ev.Kind == ClaimEventForfeited:
				rc.Status = ClaimExpired
				rc.EligibleAt = timePtr(windowStart)
				rc.Deadline = timePtr(deadline)
				rc.EndedAt = timePtr(ev.At)
				windowStart = ev.At

			case !now.Before(deadline):
				rc.Status = ClaimExpired
				rc.EligibleAt = timePtr(windowStart)
				rc.Deadline = timePtr(deadline)
				rc.EndedAt = timePtr(deadline)
				windowStart = deadline

			default:
				rc.Status = ClaimWinEligible
				rc.EligibleAt = timePtr(windowStart)
				rc.Deadline = timePtr(deadline)
				ticket.Status = ClaimWinEligible
				ticket.CurrentRank = entry.Rank
				ticket.Deadline = timePtr(deadline)
				holding = true
				projected = deadline
			}
		}
		ticket.Ranks = append(ticket.Ranks, rc)
	}

	if ticket.Outcome == OutcomePending && !holding {
		ticket.Outcome = OutcomeUnclaimed
		ticket.Status = ClaimExpired
		ticket.CurrentRank = len(record.Entries)
	} else if ticket.Status == "" {
		ticket.Status = ClaimWaiting
	}
	return ticket
}

// firstEventInWindow returns the earliest event of the entry inside
// [opens, closes). Events are expected sorted by time.
func firstEventInWindow(events []ClaimEvent, entry WinnerEntry, opens, closes time.Time) (ClaimEvent, bool) {
	for _, ev := range events {
		if ev.Rank != entry.Rank || ev.ParticipantID != entry.ParticipantID {
			continue
		}
		if ev.At.Before(opens) || !ev.At.Before(closes) {
			continue
		}
		return ev, true
	}
	return ClaimEvent{}, false
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package core

import "time"

// ResolveWinners executes the winner resolution: qualification filter → ranking → top three.
// It is the single implementation used by the engine and by offline verification.
//
// Parameters:
//   - tl: the auction timeline (decides early completion and the deciding round)
//   - bids: every accepted bid of the auction
//   - resolvedAt: when the resolution runs
//
// Returns:
//   - WinnerRecord with up to WinnerCount entries ranked 1..3
//
// Processing flow:
//  1. Pick the deciding round (round 4, or round 1 on early completion)
//  2. Keep deciding-round bids of participants still qualified for that round
//  3. Rank by amount, ties broken by earliest submission
//  4. Take the top WinnerCount as ranks 1..3
func ResolveWinners(auctionID string, tl Timeline, bids []Bid, resolvedAt time.Time) WinnerRecord {
	// Step 1: Pick the deciding round
	deciding := tl.DecidingRound()

	// Step 2: Restrict to qualified participants
	eligible := make([]Bid, 0, len(bids))
	for _, bid := range bids {
		if bid.Round != deciding {
			continue
		}
		if !Qualify(bid.ParticipantID, bids, deciding).QualifiedFor(deciding) {
			continue
		}
		eligible = append(eligible, bid)
	}

	// Step 3: Rank eligible bids
	ranking := RankRoundBids(eligible, deciding)

	// Step 4: Extract the ranked winners
	entries := make([]WinnerEntry, 0, WinnerCount)
	for i, participantID := range ranking.SortedBidders {
		if i == WinnerCount {
			break
		}
		bid := ranking.Bids[participantID]
		entries = append(entries, WinnerEntry{
			Rank:          i + 1,
			ParticipantID: participantID,
			Amount:        bid.Amount,
			SubmittedAt:   bid.SubmittedAt,
		})
	}

	return WinnerRecord{
		AuctionID:     auctionID,
		DecidingRound: deciding,
		CompletedAt:   CompletionTime(tl),
		ResolvedAt:    resolvedAt,
		Entries:       entries,
	}
}

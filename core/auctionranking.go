package core

import (
	"sort"
)

// RankingResult contains the ranked bidders of one round and their bids.
type RankingResult struct {
	Ranks         map[string]int  `json:"ranks"`
	Bids          map[string]*Bid `json:"bids"`
	SortedBidders []string        `json:"sorted_bidders"`
}

// RankRoundBids ranks the bids of a single round.
//
// Ordering: amount descending, then submission time ascending (the earlier
// bid wins a tie), then participant id so the order is total. A participant
// holds at most one bid per round; if a caller passes several, the first
// occurrence is kept.
func RankRoundBids(bids []Bid, round int) *RankingResult {
	result := &RankingResult{
		Ranks:         make(map[string]int),
		Bids:          make(map[string]*Bid),
		SortedBidders: make([]string, 0),
	}

	entries := make([]*Bid, 0, len(bids))
	for i := range bids {
		bid := &bids[i]
		if bid.Round != round {
			continue
		}
		if _, seen := result.Bids[bid.ParticipantID]; seen {
			continue
		}
		result.Bids[bid.ParticipantID] = bid
		entries = append(entries, bid)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return bidOutranks(entries[i], entries[j])
	})

	for i, bid := range entries {
		result.Ranks[bid.ParticipantID] = i + 1
		result.SortedBidders = append(result.SortedBidders, bid.ParticipantID)
	}
	return result
}

func bidOutranks(a, b *Bid) bool {
	if cmp := a.Amount.Cmp(b.Amount); cmp != 0 {
		return cmp > 0
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ParticipantID < b.ParticipantID
}

// LeaderboardRow is one line of a round leaderboard.
type LeaderboardRow struct {
	Position      int    `json:"position"`
	ParticipantID string `json:"participant_id"`
	Bid           Bid    `json:"bid"`
}

// Leaderboard returns the ordered standings of a round.
func Leaderboard(bids []Bid, round int) []LeaderboardRow {
	ranking := RankRoundBids(bids, round)
	rows := make([]LeaderboardRow, 0, len(ranking.SortedBidders))
	for i, participantID := range ranking.SortedBidders {
		rows = append(rows, LeaderboardRow{
			Position:      i + 1,
			ParticipantID: participantID,
			Bid:           *ranking.Bids[participantID],
		})
	}
	return rows
}

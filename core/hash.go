package core

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ComputeBidHash computes the receipt hash of an accepted bid.
// It is handed to the participant at submission and lets them prove later which
// bid the ledger stored.
//
// Formula: SHA256(bid_id + "|" + auction_id + "|" + participant_id + "|" + round + "|" + amount + "|" + submitted_ms + "|" + nonce)
//
// The amount is formatted to exactly 2 decimal places and the submission time
// as unix milliseconds so the hash is independent of representation.
func ComputeBidHash(bid Bid, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%s|%d|%s",
		bid.ID, bid.AuctionID, bid.ParticipantID, bid.Round,
		bid.Amount.StringFixed(monetaryPrecision), bid.SubmittedAt.UnixMilli(), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeWinnersHash computes the hash of a resolved winner list.
// This is used by the attester (to embed in the proof) and by validation (to verify the proof).
//
// Formula: SHA256(nonce + "|" + auction_id + "|" + deciding_round + "|" + entries)
// where entries = "rank:participant:amount:submitted_ms" joined by "|" in rank order.
func ComputeWinnersHash(record WinnerRecord, nonce string) string {
	parts := make([]string, 0, len(record.Entries)+3)
	parts = append(parts, nonce, record.AuctionID, fmt.Sprintf("%d", record.DecidingRound))
	for _, e := range record.Entries {
		parts = append(parts, fmt.Sprintf("%d:%s:%s:%d",
			e.Rank, e.ParticipantID, e.Amount.StringFixed(monetaryPrecision), e.SubmittedAt.UnixMilli()))
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", hash)
}

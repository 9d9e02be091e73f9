package core

import (
	"strings"
	"sync"
)

// Qualification is a participant's standing across rounds.
//
// LostAt is the first round the participant is not qualified for, or 0 while
// they are still qualified for every round up to the last one they bid in
// plus one. Once set it never clears.
type Qualification struct {
	ParticipantID string
	LostAt        int
}

// QualifiedFor reports whether the participant may bid in round.
func (q Qualification) QualifiedFor(round int) bool {
	return q.LostAt == 0 || round < q.LostAt
}

// Qualify derives the qualification of one participant from their accepted
// bids as of openRound (the currently open round, or TotalRounds+1 once the
// auction has completed).
//
// A participant qualifies for round k only if they have an accepted bid in
// every round 1..k-1. A round still open cannot be missed yet.
func Qualify(participantID string, bids []Bid, openRound int) Qualification {
	rounds := make(map[int]bool, len(bids))
	for _, b := range bids {
		if b.ParticipantID == participantID {
			rounds[b.Round] = true
		}
	}
	q := Qualification{ParticipantID: participantID}
	for r := 1; r < openRound && r <= TotalRounds; r++ {
		if !rounds[r] {
			q.LostAt = r + 1
			break
		}
	}
	return q
}

// QualificationCache memoizes lost qualifications. Only a lost qualification
// is cached because it is the only final answer; a participant still in good
// standing is re-derived on the next read.
type QualificationCache struct {
	mu   sync.RWMutex
	lost map[string]int
}

// NewQualificationCache creates an empty cache.
func NewQualificationCache() *QualificationCache {
	return &QualificationCache{lost: make(map[string]int)}
}

// Get returns the participant's qualification, deriving it when needed.
func (c *QualificationCache) Get(auctionID, participantID string, bids []Bid, openRound int) Qualification {
	key := auctionID + "|" + participantID

	c.mu.RLock()
	lostAt, ok := c.lost[key]
	c.mu.RUnlock()
	if ok {
		return Qualification{ParticipantID: participantID, LostAt: lostAt}
	}

	q := Qualify(participantID, bids, openRound)
	if q.LostAt > 0 {
		c.mu.Lock()
		c.lost[key] = q.LostAt
		c.mu.Unlock()
	}
	return q
}

// Forget drops every cached entry of an auction.
func (c *QualificationCache) Forget(auctionID string) {
	prefix := auctionID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.lost {
		if strings.HasPrefix(key, prefix) {
			delete(c.lost, key)
		}
	}
}

package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestQualify(t *testing.T) {
	bids := []Bid{
		bid("steady", 1, "10", roundTime(1, 1)),
		bid("steady", 2, "20", roundTime(2, 1)),
		bid("steady", 3, "30", roundTime(3, 1)),
		bid("skipper", 1, "10", roundTime(1, 1)),
		bid("skipper", 3, "30", roundTime(3, 1)),
	}

	tests := []struct {
		name        string
		participant string
		openRound   int
		round       int
		want        bool
	}{
		{"round 1 always open to entrants", "nobody", 1, 1, true},
		{"open round cannot be missed yet", "nobody", 1, 2, true},
		{"missed round 1", "nobody", 2, 2, false},
		{"steady in round 4", "steady", 4, 4, true},
		{"skipper lost round 3", "skipper", 3, 3, false},
		{"skipper stays lost even with a round-3 bid", "skipper", 4, 4, false},
		{"skipper still counted for round 2", "skipper", 4, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Qualify(tt.participant, bids, tt.openRound)
			check.Equal(t, tt.want, q.QualifiedFor(tt.round))
		})
	}
}

func TestQualificationCache_Sticky(t *testing.T) {
	cache := NewQualificationCache()
	bids := []Bid{bid("p", 1, "10", roundTime(1, 1))}

	q := cache.Get("auction-1", "p", bids, 3)
	check.Equal(t, 3, q.LostAt)

	// A late round-2 bid appearing in the input does not clear the memoized loss.
	bids = append(bids, bid("p", 2, "20", roundTime(2, 1)))
	q = cache.Get("auction-1", "p", bids, 3)
	check.Equal(t, 3, q.LostAt)
	check.False(t, q.QualifiedFor(3))

	cache.Forget("auction-1")
	q = cache.Get("auction-1", "p", bids, 3)
	check.Equal(t, 0, q.LostAt)
}

func TestQualificationCache_GoodStandingNotCached(t *testing.T) {
	cache := NewQualificationCache()
	bids := []Bid{bid("p", 1, "10", roundTime(1, 1))}

	check.True(t, cache.Get("auction-1", "p", bids, 2).QualifiedFor(2))
	check.False(t, cache.Get("auction-1", "p", bids, 3).QualifiedFor(3))
}

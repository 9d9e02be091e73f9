package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestRejection_Matching(t *testing.T) {
	wrapped := fmt.Errorf("submit bid: %w", ErrDuplicateBid)

	check.True(t, errors.Is(wrapped, ErrDuplicateBid))
	check.False(t, errors.Is(wrapped, ErrNoEntry))
	check.True(t, errors.Is(&Rejection{Reason: ReasonWrongRound}, ErrWrongRound))

	reason, ok := ReasonOf(wrapped)
	check.True(t, ok)
	check.Equal(t, ReasonDuplicateBid, reason)

	_, ok = ReasonOf(errors.New("boom"))
	check.False(t, ok)
	check.Equal(t, "rejected: BidNotProgressive", ErrBidNotProgressive.Error())
}

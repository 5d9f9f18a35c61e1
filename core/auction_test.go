package core

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

var t0 = time.Date(2026, 1, 24, 9, 0, 0, 0, time.UTC)

func scheduled(bidders ...Address) *Auction {
	a := DefaultWindows.Schedule(AuctionIDFromBundle("bundle"), t0)
	a.BidderOrder = bidders
	a.BidCount = uint32(len(bidders))
	return a
}

func revealed(bidder Address, amount uint64, order uint64) *BidCommitment {
	return &BidCommitment{Bidder: bidder, Revealed: true, RevealedAmount: NewAmount(amount), RevealOrder: order}
}

func TestPhaseOf(t *testing.T) {
	a := DefaultWindows.Schedule(AuctionID{1}, t0)

	check.Equal(t, PhaseNotStarted, PhaseOf(nil, t0))
	check.Equal(t, PhaseCommit, PhaseOf(a, t0))
	check.Equal(t, PhaseCommit, PhaseOf(a, a.CommitEnd.Add(-time.Nanosecond)))
	check.Equal(t, PhaseReveal, PhaseOf(a, a.CommitEnd))
	check.Equal(t, PhaseReveal, PhaseOf(a, a.RevealEnd.Add(-time.Nanosecond)))
	check.Equal(t, PhaseExpired, PhaseOf(a, a.RevealEnd))

	a.Finalized = true
	check.Equal(t, PhaseFinalized, PhaseOf(a, t0))
	check.Equal(t, PhaseFinalized, PhaseOf(a, a.RevealEnd.Add(time.Hour)))
}

func TestWindows_Schedule(t *testing.T) {
	a := Windows{Commit: 300 * time.Second, Reveal: 120 * time.Second}.Schedule(AuctionID{1}, t0)
	check.Equal(t, t0, a.CommitStart)
	check.Equal(t, t0.Add(300*time.Second), a.CommitEnd)
	check.Equal(t, t0.Add(420*time.Second), a.RevealEnd)
	check.False(t, a.Finalized)
}

func TestCheckFinalizable(t *testing.T) {
	a := scheduled(bidderA, bidderB)
	commitments := map[Address]*BidCommitment{
		bidderA: revealed(bidderA, 100, 1),
		bidderB: {Bidder: bidderB},
	}

	err := CheckFinalizable(a, commitments, t0)
	check.True(t, errors.Is(err, ErrNotReady))

	// Reveal window open and bidderB has not revealed.
	err = CheckFinalizable(a, commitments, a.CommitEnd)
	check.True(t, errors.Is(err, ErrNotReady))

	check.NoError(t, CheckFinalizable(a, commitments, a.RevealEnd))

	// Early finalize once everyone revealed.
	commitments[bidderB] = revealed(bidderB, 90, 2)
	check.NoError(t, CheckFinalizable(a, commitments, a.CommitEnd))

	a.Finalized = true
	err = CheckFinalizable(a, commitments, a.RevealEnd)
	check.True(t, errors.Is(err, ErrAlreadyFinalized))
	check.True(t, errors.Is(err, ErrConflict))

	check.True(t, errors.Is(CheckFinalizable(nil, nil, t0), ErrNotFound))
}

func TestDecideOutcome_SkipsUnrevealed(t *testing.T) {
	a := scheduled(bidderA, bidderB)
	commitments := map[Address]*BidCommitment{
		bidderA: {Bidder: bidderA},
		bidderB: revealed(bidderB, 500, 1),
	}

	outcome := DecideOutcome(a, commitments)
	check.True(t, outcome.Sold)
	check.Equal(t, bidderB, outcome.Winner)
	check.Equal(t, "500", outcome.Amount.String())
	check.Equal(t, 2, outcome.Committed)
	check.Equal(t, 1, outcome.Revealed)
}

func TestDecideOutcome_Unsold(t *testing.T) {
	a := scheduled(bidderA)
	outcome := DecideOutcome(a, map[Address]*BidCommitment{bidderA: {Bidder: bidderA}})
	check.False(t, outcome.Sold)

	outcome.Apply(a, a.RevealEnd)
	check.True(t, a.Finalized)
	check.True(t, a.Winner.IsZero())
	check.False(t, a.HasWinner())
}

func TestRevealedBids_ScansWholeBidderOrder(t *testing.T) {
	a := scheduled(bidderA, bidderB, bidderC)
	commitments := map[Address]*BidCommitment{
		bidderA: revealed(bidderA, 3, 1),
		bidderB: revealed(bidderB, 2, 2),
		bidderC: revealed(bidderC, 1, 3),
	}
	bids := RevealedBids(a, commitments)
	check.Equal(t, 3, len(bids))
	check.Equal(t, bidderC, bids[2].Bidder)

	// The last bidder in the order holds the lowest bid and must win.
	outcome := DecideOutcome(a, commitments)
	check.True(t, outcome.Sold)
	check.Equal(t, bidderC, outcome.Winner)
}

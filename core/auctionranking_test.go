package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

var (
	bidderA = Address{0xa}
	bidderB = Address{0xb}
	bidderC = Address{0xc}
)

func TestSelectWinner_LowestWins(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: bidderA, Amount: MustParseUnits("0.8", DefaultDecimals), RevealOrder: 1},
		{Bidder: bidderB, Amount: MustParseUnits("0.6", DefaultDecimals), RevealOrder: 2},
		{Bidder: bidderC, Amount: MustParseUnits("0.7", DefaultDecimals), RevealOrder: 3},
	}

	winner, ok := SelectWinner(bids)
	check.True(t, ok)
	check.Equal(t, bidderB, winner.Bidder)
	check.Equal(t, "0.6", winner.Amount.Format(DefaultDecimals))
}

func TestSelectWinner_Empty(t *testing.T) {
	_, ok := SelectWinner(nil)
	check.False(t, ok)
}

func TestSelectWinner_TieGoesToEarliestReveal(t *testing.T) {
	// bidderC committed first and has the larger identifier, but revealed second.
	bids := []RevealedBid{
		{Bidder: bidderC, Amount: NewAmount(500), RevealOrder: 2},
		{Bidder: bidderA, Amount: NewAmount(500), RevealOrder: 1},
	}
	winner, ok := SelectWinner(bids)
	check.True(t, ok)
	check.Equal(t, bidderA, winner.Bidder)

	// Scan order must not matter.
	reversed := []RevealedBid{bids[1], bids[0]}
	winner, _ = SelectWinner(reversed)
	check.Equal(t, bidderA, winner.Bidder)
}

func TestSelectWinner_LowerAmountBeatsEarlierReveal(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: bidderA, Amount: NewAmount(500), RevealOrder: 1},
		{Bidder: bidderB, Amount: NewAmount(499), RevealOrder: 9},
	}
	winner, _ := SelectWinner(bids)
	check.Equal(t, bidderB, winner.Bidder)
}

func TestRankReveals(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: bidderA, Amount: NewAmount(700), RevealOrder: 3},
		{Bidder: bidderB, Amount: NewAmount(600), RevealOrder: 2},
		{Bidder: bidderC, Amount: NewAmount(600), RevealOrder: 1},
	}

	ranking := RankReveals(bids)
	check.Equal(t, 3, len(ranking.Ordered))
	check.Equal(t, bidderC, ranking.Ordered[0].Bidder)
	check.Equal(t, bidderB, ranking.Ordered[1].Bidder)
	check.Equal(t, bidderA, ranking.Ordered[2].Bidder)
	check.Equal(t, 1, ranking.Ranks[bidderC])
	check.Equal(t, 3, ranking.Ranks[bidderA])

	winner, _ := SelectWinner(bids)
	check.Equal(t, ranking.Ordered[0].Bidder, winner.Bidder)

	// The input slice is left untouched.
	check.Equal(t, bidderA, bids[0].Bidder)
}

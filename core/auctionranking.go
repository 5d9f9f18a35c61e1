package core

import (
	"sort"
)

// Ranking orders revealed bids from best (lowest amount) to worst.
type Ranking struct {
	Ordered []RevealedBid
	Ranks   map[Address]int
}

// beats reports whether candidate displaces best: a strictly lower amount, or the
// same amount revealed earlier.
func beats(candidate, best RevealedBid) bool {
	switch candidate.Amount.Cmp(best.Amount) {
	case -1:
		return true
	case 0:
		return candidate.RevealOrder < best.RevealOrder
	default:
		return false
	}
}

// SelectWinner scans bids in the given order and returns the lowest amount, ties
// going to the smaller reveal order. Reveal orders are unique within an auction,
// so the result does not depend on the scan order or on bidder identifiers.
func SelectWinner(bids []RevealedBid) (winner RevealedBid, ok bool) {
	for i, bid := range bids {
		if i == 0 || beats(bid, winner) {
			winner = bid
		}
	}
	return winner, len(bids) > 0
}

// RankReveals returns every revealed bid ranked by the winner-selection rule.
// Ordered[0] is the same bid SelectWinner picks.
func RankReveals(bids []RevealedBid) *Ranking {
	ordered := append([]RevealedBid(nil), bids...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return beats(ordered[i], ordered[j])
	})

	ranks := make(map[Address]int, len(ordered))
	for i, bid := range ordered {
		ranks[bid.Bidder] = i + 1
	}
	return &Ranking{Ordered: ordered, Ranks: ranks}
}

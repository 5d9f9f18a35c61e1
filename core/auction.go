package core

import (
	"time"
)

// DefaultMaxBidders caps the number of distinct bidders per auction, which in
// turn bounds the finalize scan.
const DefaultMaxBidders = 20

// Outcome is the result of winner selection over one auction.
type Outcome struct {
	Sold        bool
	Winner      Address
	Amount      Amount
	RevealOrder uint64

	Committed int
	Revealed  int
}

// CheckFinalizable enforces the finalize preconditions:
//  1. the auction exists and is not finalized
//  2. the commit window has closed
//  3. either every committed bidder revealed, or the reveal window has closed
func CheckFinalizable(a *Auction, commitments map[Address]*BidCommitment, now time.Time) error {
	if a == nil {
		return Errorf(ErrUnknownAuction, "no auction record")
	}
	if a.Finalized {
		return Errorf(ErrAlreadyFinalized, "auction %s finalized at %s", a.ID.Short(), a.FinalizedAt.Format(time.RFC3339))
	}
	if now.Before(a.CommitEnd) {
		return Errorf(ErrNotReady, "auction %s is still in its commit window until %s", a.ID.Short(), a.CommitEnd.Format(time.RFC3339))
	}
	if !now.Before(a.RevealEnd) {
		return nil
	}
	for _, bidder := range a.BidderOrder {
		if c := commitments[bidder]; c == nil || !c.Revealed {
			return Errorf(ErrNotReady, "auction %s has unrevealed commitments until %s", a.ID.Short(), a.RevealEnd.Format(time.RFC3339))
		}
	}
	return nil
}

// RevealedBids collects revealed commitments in bidder order. The whole stored
// BidderOrder is scanned: it was bounded by the bidder cap in force when each
// commitment was accepted, and a later, lower cap must not drop bidders that
// already committed. Committed-but-unrevealed bidders are skipped.
func RevealedBids(a *Auction, commitments map[Address]*BidCommitment) []RevealedBid {
	bids := make([]RevealedBid, 0, len(a.BidderOrder))
	for _, bidder := range a.BidderOrder {
		c := commitments[bidder]
		if c == nil || !c.Revealed {
			continue
		}
		bids = append(bids, RevealedBid{
			Bidder:      bidder,
			Amount:      c.RevealedAmount,
			RevealOrder: c.RevealOrder,
		})
	}
	return bids
}

// DecideOutcome runs winner selection over the auction's revealed commitments.
func DecideOutcome(a *Auction, commitments map[Address]*BidCommitment) Outcome {
	bids := RevealedBids(a, commitments)
	outcome := Outcome{
		Committed: len(a.BidderOrder),
		Revealed:  len(bids),
	}

	winner, ok := SelectWinner(bids)
	if !ok {
		return outcome
	}
	outcome.Sold = true
	outcome.Winner = winner.Bidder
	outcome.Amount = winner.Amount
	outcome.RevealOrder = winner.RevealOrder
	return outcome
}

// Apply freezes the outcome into the auction record.
func (o Outcome) Apply(a *Auction, now time.Time) {
	a.Finalized = true
	a.FinalizedAt = now
	if o.Sold {
		a.Winner = o.Winner
		a.WinningAmount = o.Amount
	}
}

package validation

import (
	"fmt"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
)

// ReplayResult is one auction's state rebuilt from journal events alone.
type ReplayResult struct {
	Auction     *core.Auction
	Commitments map[core.Address]*core.BidCommitment
	// Final is the AuctionFinalized or AuctionUnsold event, nil while open.
	Final *events.Event
	// Payment is the PaymentRecorded event, if any.
	Payment *events.Event

	CommitmentsValid bool
	TimingValid      bool
	Details          []string
}

func (r *ReplayResult) detail(format string, args ...any) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// Replay rebuilds auction id from evs, re-checking every transition the ledger
// made: commits inside the commit window, reveals inside the reveal window that
// open the last commitment under scheme, and reveal orders handed out 1, 2, 3...
//
// It returns an error only when the auction's AuctionCreated event is missing.
func Replay(evs []events.Event, id core.AuctionID, scheme core.CommitmentScheme) (*ReplayResult, error) {
	if scheme == nil {
		scheme = core.DefaultScheme
	}
	result := &ReplayResult{
		Commitments:      make(map[core.Address]*core.BidCommitment),
		CommitmentsValid: true,
		TimingValid:      true,
	}

	for i := range evs {
		e := &evs[i]
		if e.Auction != id || !e.Type.AuctionScoped() {
			continue
		}
		if e.Type == events.PaymentRecorded {
			// Payments are recorded independently of the auction's lifecycle.
			result.Payment = e
			continue
		}
		a := result.Auction
		if a == nil && e.Type != events.AuctionCreated {
			return nil, fmt.Errorf("auction %s: seq %d (%s) precedes AuctionCreated", id.Short(), e.Seq, e.Type)
		}

		switch e.Type {
		case events.AuctionCreated:
			if a != nil {
				result.TimingValid = false
				result.detail("seq %d: auction created twice", e.Seq)
				continue
			}
			result.Auction = &core.Auction{ID: id, CommitStart: e.At, CommitEnd: e.CommitEnd, RevealEnd: e.RevealEnd}

		case events.BidCommitted:
			if a.Finalized || e.At.Before(a.CommitStart) || !e.At.Before(a.CommitEnd) {
				result.TimingValid = false
				result.detail("seq %d: commit by %s outside the commit window", e.Seq, e.Bidder)
			}
			c := result.Commitments[e.Bidder]
			if c == nil {
				a.BidderOrder = append(a.BidderOrder, e.Bidder)
				a.BidCount++
				c = &core.BidCommitment{AuctionID: id, Bidder: e.Bidder}
				result.Commitments[e.Bidder] = c
			}
			*c = core.BidCommitment{AuctionID: id, Bidder: e.Bidder, Hash: e.Hash}

		case events.BidRevealed:
			if a.Finalized || e.At.Before(a.CommitEnd) || !e.At.Before(a.RevealEnd) {
				result.TimingValid = false
				result.detail("seq %d: reveal by %s outside the reveal window", e.Seq, e.Bidder)
			}
			c := result.Commitments[e.Bidder]
			switch {
			case c == nil:
				result.CommitmentsValid = false
				result.detail("seq %d: reveal by %s without a commitment", e.Seq, e.Bidder)
				continue
			case c.Revealed:
				result.CommitmentsValid = false
				result.detail("seq %d: %s revealed twice", e.Seq, e.Bidder)
				continue
			}
			if got := scheme.Commit(id, e.Bidder, e.Amount, e.Salt); got != c.Hash {
				result.CommitmentsValid = false
				result.detail("seq %d: reveal by %s recomputes to %s, committed %s", e.Seq, e.Bidder, got, c.Hash)
			}
			a.RevealCounter++
			if e.RevealOrder != a.RevealCounter {
				result.CommitmentsValid = false
				result.detail("seq %d: reveal order %d, expected %d", e.Seq, e.RevealOrder, a.RevealCounter)
			}
			c.Revealed = true
			c.RevealedAmount = e.Amount
			c.RevealOrder = a.RevealCounter

		case events.AuctionFinalized, events.AuctionUnsold:
			if a.Finalized {
				result.TimingValid = false
				result.detail("seq %d: auction finalized twice", e.Seq)
				continue
			}
			if err := core.CheckFinalizable(a, result.Commitments, e.At); err != nil {
				result.TimingValid = false
				result.detail("seq %d: finalized too early: %v", e.Seq, err)
			}
			a.Finalized = true
			a.FinalizedAt = e.At
			a.Winner = e.Winner
			a.WinningAmount = e.Amount
			result.Final = e
		}
	}

	if result.Auction == nil {
		return nil, fmt.Errorf("auction %s: no AuctionCreated event in the supplied journal", id.Short())
	}
	result.detail("Replayed auction %s: %d committed, %d revealed",
		id.Short(), len(result.Auction.BidderOrder), result.Auction.RevealCounter)
	if result.CommitmentsValid {
		result.detail("Every reveal opens its commitment")
	}
	if result.TimingValid {
		result.detail("Every transition fell inside its window")
	}
	return result, nil
}

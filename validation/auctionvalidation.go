// Package validation independently re-derives auction outcomes from the public
// journal, and checks signed receipts and key attestations against them.
package validation

import (
	"crypto"
	"fmt"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/receipt"
)

// AuctionValidationInput contains all inputs needed for auction validation
type AuctionValidationInput struct {
	// Events is a contiguous run of the journal. It must include the auction's
	// AuctionCreated event and everything after it up to finalization.
	Events  []events.Event
	Auction core.AuctionID

	Scheme     core.CommitmentScheme // nil = core.DefaultScheme
	MaxBidders int                   // 0 = core.DefaultMaxBidders

	// Receipt and ReceiptKey are optional; both must be set to check a receipt.
	Receipt    []byte
	ReceiptKey crypto.PublicKey

	Expect *Expectation
}

// ValidateAuction replays the journal for one auction and verifies:
// - Journal chain integrity
// - Every commit and reveal fell inside its window
// - Every reveal opens the commitment it claims to
// - The finalize notification names the winner the rules select
// - The receipt, if any, is signed and matches the journal
//
// Returns:
//   - AuctionValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., the auction is not in the journal)
func ValidateAuction(input *AuctionValidationInput) (*AuctionValidationResult, error) {
	scheme := input.Scheme
	if scheme == nil {
		scheme = core.DefaultScheme
	}
	maxBidders := input.MaxBidders
	if maxBidders <= 0 {
		maxBidders = core.DefaultMaxBidders
	}

	result := &AuctionValidationResult{Auction: input.Auction}
	if len(input.Events) == 0 {
		return nil, fmt.Errorf("no journal events supplied")
	}

	first := input.Events[0]
	if first.Seq == 1 && first.Prev != (core.Digest{}) {
		result.detail("Journal starts at seq 1 with a non-zero prev digest")
	} else if err := events.VerifyChain(first.Prev, input.Events); err != nil {
		result.detail("Journal chain validation failed: %v", err)
	} else {
		result.ChainValid = true
		result.detail("Journal chain verified: seq %d..%d", first.Seq, input.Events[len(input.Events)-1].Seq)
	}

	replay, err := Replay(input.Events, input.Auction, scheme)
	if err != nil {
		return nil, err
	}
	result.ValidationDetails = append(result.ValidationDetails, replay.Details...)
	result.CommitmentsValid = replay.CommitmentsValid
	result.TimingValid = replay.TimingValid

	if n := len(replay.Auction.BidderOrder); n > maxBidders {
		result.CommitmentsValid = false
		result.detail("Auction has %d committed bidders, above the cap of %d", n, maxBidders)
	}
	result.Derived = core.DecideOutcome(replay.Auction, replay.Commitments)
	if replay.Final == nil {
		result.detail("Auction %s has no finalize notification in the supplied journal", input.Auction.Short())
		return result, nil
	}
	result.Finalized = true
	result.WinnerValid = validateWinner(replay.Final, result)
	if input.Expect != nil {
		result.WinnerValid = validateExpectation(input.Expect, result) && result.WinnerValid
	}

	if input.Receipt != nil && input.ReceiptKey != nil {
		result.ReceiptChecked = true
		result.ReceiptValid = validateReceipt(input.Receipt, input.ReceiptKey, replay.Final, result)
	}
	return result, nil
}

func validateWinner(final *events.Event, result *AuctionValidationResult) bool {
	derived := result.Derived
	switch {
	case final.Type == events.AuctionUnsold && !derived.Sold:
		result.detail("Winner validation passed: unsold, %d committed, none revealed", derived.Committed)
		return true
	case final.Type == events.AuctionUnsold:
		result.detail("Winner validation failed: notified unsold, but %s revealed %s", derived.Winner, derived.Amount)
		return false
	case !derived.Sold:
		result.detail("Winner validation failed: notified winner %s, but no bid was revealed", final.Winner)
		return false
	case final.Winner != derived.Winner || !final.Amount.Equal(derived.Amount):
		result.detail("Winner validation failed: notified %s at %s, rules select %s at %s",
			final.Winner, final.Amount, derived.Winner, derived.Amount)
		return false
	default:
		result.detail("Winner validation passed: %s at %s (reveal #%d of %d)",
			derived.Winner, derived.Amount, derived.RevealOrder, derived.Revealed)
		return true
	}
}

func validateExpectation(expect *Expectation, result *AuctionValidationResult) bool {
	derived := result.Derived
	actuallyWon := derived.Sold && derived.Winner == expect.Bidder

	if expect.IsWinner != actuallyWon {
		if expect.IsWinner {
			result.detail("Expectation failed: %s expected to win, but did not win", expect.Bidder)
		} else {
			result.detail("Expectation failed: %s expected to lose, but won at %s", expect.Bidder, derived.Amount)
		}
		return false
	}
	if expect.Amount != nil && derived.Sold && !expect.Amount.Equal(derived.Amount) {
		result.detail("Expectation failed: winning amount %s, expected %s", derived.Amount, *expect.Amount)
		return false
	}
	if actuallyWon {
		result.detail("Expectation passed: %s won as expected", expect.Bidder)
	} else {
		result.detail("Expectation passed: %s lost as expected", expect.Bidder)
	}
	return true
}

func validateReceipt(signed []byte, key crypto.PublicKey, final *events.Event, result *AuctionValidationResult) bool {
	r, err := receipt.Verify(signed, key)
	if err != nil {
		result.detail("Receipt rejected: %v", err)
		return false
	}

	ok := true
	mismatch := func(field string, got, want any) {
		result.detail("Receipt %s mismatch: receipt has %v, journal has %v", field, got, want)
		ok = false
	}
	if r.Auction != final.Auction {
		mismatch("auction", r.Auction, final.Auction)
	}
	if r.JournalSeq != final.Seq {
		mismatch("journal_seq", r.JournalSeq, final.Seq)
	}
	if r.JournalDigest != final.Digest {
		mismatch("journal_digest", r.JournalDigest, final.Digest)
	}
	if r.Unsold != (final.Type == events.AuctionUnsold) {
		mismatch("unsold", r.Unsold, final.Type == events.AuctionUnsold)
	}
	if r.Winner != final.Winner {
		mismatch("winner", r.Winner, final.Winner)
	}
	if !r.Amount.Equal(final.Amount) {
		mismatch("amount", r.Amount, final.Amount)
	}
	if ok {
		result.detail("Receipt signature verified and matches journal seq %d", final.Seq)
	}
	return ok
}

func (r *AuctionValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

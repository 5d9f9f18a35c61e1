package validation

import (
	"github.com/cloudx-io/sealbid/core"
)

// AuctionValidationResult contains the result of re-deriving one auction from the
// journal. Call IsValid to check overall status.
type AuctionValidationResult struct {
	Auction   core.AuctionID
	Finalized bool

	ChainValid       bool
	CommitmentsValid bool
	TimingValid      bool
	WinnerValid      bool

	// ReceiptChecked is false when no receipt was supplied; ReceiptValid is then
	// ignored by IsValid.
	ReceiptChecked bool
	ReceiptValid   bool

	// Derived is the outcome recomputed from the revealed bids.
	Derived           core.Outcome
	ValidationDetails []string
}

// IsValid returns true if all auction validation checks passed
func (r *AuctionValidationResult) IsValid() bool {
	ok := r.Finalized && r.ChainValid && r.CommitmentsValid && r.TimingValid && r.WinnerValid
	if r.ReceiptChecked {
		ok = ok && r.ReceiptValid
	}
	return ok
}

// Expectation is an optional claim by a participant, checked against the
// derived outcome. A bidder uses it to confirm that it won, or lost.
type Expectation struct {
	Bidder   core.Address
	IsWinner bool
	// Amount, when set, must equal the winning amount.
	Amount *core.Amount
}

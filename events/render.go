package events

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Render formats one event as a single human-readable line. Amounts are shown in
// whole units with the given number of decimals.
func Render(e Event, decimals int32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", e.Seq, e.Type)
	if e.Type.AuctionScoped() {
		fmt.Fprintf(&b, " auction=%s", e.Auction.Short())
	}

	switch e.Type {
	case AuctionCreated:
		fmt.Fprintf(&b, " commit_end=%s reveal_end=%s", e.CommitEnd.UTC().Format(time.RFC3339), e.RevealEnd.UTC().Format(time.RFC3339))
	case BidCommitted:
		fmt.Fprintf(&b, " bidder=%s hash=%s", e.Bidder, e.Hash)
	case BidRevealed:
		fmt.Fprintf(&b, " bidder=%s amount=%s order=%d", e.Bidder, e.Amount.Format(decimals), e.RevealOrder)
	case AuctionFinalized:
		fmt.Fprintf(&b, " winner=%s amount=%s", e.Winner, e.Amount.Format(decimals))
	case PaymentRecorded:
		fmt.Fprintf(&b, " winner=%s amount=%s ref=0x%x", e.Winner, e.Amount.Format(decimals), e.Reference)
	case OwnershipTransferred, BidderAdded, BidderRemoved, RecorderAuthorized, RecorderRevoked:
		fmt.Fprintf(&b, " subject=%s", e.Subject)
	}

	if !e.Actor.IsZero() {
		fmt.Fprintf(&b, " by=%s", e.Actor)
	}
	return b.String()
}

// WriteText renders events one per line.
func WriteText(w io.Writer, evs []Event, decimals int32) error {
	for _, e := range evs {
		if _, err := fmt.Fprintln(w, Render(e, decimals)); err != nil {
			return err
		}
	}
	return nil
}

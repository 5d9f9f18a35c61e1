package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// Finalizer freezes the outcome of an auction. Anyone may call it.
type Finalizer struct {
	base
}

// Finalize selects the winner among revealed bids and marks the auction
// finalized. It succeeds once the commit window has closed and either every
// committed bidder revealed or the reveal window has closed. A finalized auction
// is never recomputed.
func (f *Finalizer) Finalize(ctx context.Context, caller core.Address, id core.AuctionID, now time.Time) (core.Outcome, error) {
	var outcome core.Outcome
	_, err := f.update(ctx, "finalize_auction", store.AuctionKey(id), func(tx store.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		if a == nil {
			return core.Errorf(core.ErrUnknownAuction, "auction %s", id.Short())
		}
		commitments, err := tx.Commitments(id)
		if err != nil {
			return err
		}
		if err := core.CheckFinalizable(a, commitments, now); err != nil {
			return err
		}

		outcome = core.DecideOutcome(a, commitments)
		outcome.Apply(a, now)
		if err := tx.PutAuction(a); err != nil {
			return err
		}

		if outcome.Sold {
			tx.Emit(events.Event{Type: events.AuctionFinalized, At: now, Actor: caller, Auction: id, Winner: outcome.Winner, Amount: outcome.Amount})
		} else {
			tx.Emit(events.Event{Type: events.AuctionUnsold, At: now, Actor: caller, Auction: id})
		}
		return nil
	}, auctionAttr(id), addrAttr("caller", caller))
	if err != nil {
		return core.Outcome{}, err
	}

	if outcome.Sold {
		f.log.LogAttrs(ctx, slog.LevelInfo, "auction sold",
			auctionAttr(id),
			addrAttr("winner", outcome.Winner),
			slog.String("amount", outcome.Amount.String()),
			slog.Int("revealed", outcome.Revealed),
			slog.Int("committed", outcome.Committed))
	} else {
		f.log.LogAttrs(ctx, slog.LevelInfo, "auction unsold", auctionAttr(id), slog.Int("committed", outcome.Committed))
	}
	return outcome, nil
}

// Ranking orders every revealed bid of an auction by the selection rule. The
// head of the ranking is the winner finalize picks.
func (f *Finalizer) Ranking(ctx context.Context, id core.AuctionID) (*core.Ranking, error) {
	var bids []core.RevealedBid
	err := f.view(ctx, func(r store.Reader) error {
		a, err := r.Auction(id)
		if err != nil {
			return err
		}
		if a == nil {
			return core.Errorf(core.ErrUnknownAuction, "auction %s", id.Short())
		}
		commitments, err := r.Commitments(id)
		if err != nil {
			return err
		}
		bids = core.RevealedBids(a, commitments)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return core.RankReveals(bids), nil
}

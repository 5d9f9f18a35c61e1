package ledger

import (
	"context"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// CommitmentLedger stores sealed commitments and verifies reveals against them.
type CommitmentLedger struct {
	base
	maxBidders int
	scheme     core.CommitmentScheme
}

// Commit stores or replaces bidder's sealed commitment while the auction is in its
// commit window. A replacement resets the commitment to unrevealed; the bidder
// keeps its original position in the bidder order.
func (l *CommitmentLedger) Commit(ctx context.Context, bidder core.Address, id core.AuctionID, hash core.Digest, now time.Time) (*core.BidCommitment, error) {
	var stored *core.BidCommitment
	_, err := l.update(ctx, "commit_bid", store.AuctionKey(id), func(tx store.Tx) error {
		whitelisted, err := tx.HasRole(store.RoleBidder, bidder)
		if err != nil {
			return err
		}
		if !whitelisted {
			return core.Errorf(core.ErrNotWhitelisted, "%s is not a whitelisted bidder", bidder)
		}

		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		if a == nil {
			return core.Errorf(core.ErrUnknownAuction, "auction %s", id.Short())
		}
		if phase := core.PhaseOf(a, now); phase != core.PhaseCommit {
			return core.Errorf(core.ErrWrongPhase, "auction %s is in %s phase, commits close at %s", id.Short(), phase, a.CommitEnd.Format(time.RFC3339))
		}

		c, err := tx.Commitment(id, bidder)
		if err != nil {
			return err
		}
		if c == nil {
			if int(a.BidCount) >= l.maxBidders {
				return core.Errorf(core.ErrCapacityExceeded, "auction %s already has %d bidders", id.Short(), a.BidCount)
			}
			a.BidderOrder = append(a.BidderOrder, bidder)
			a.BidCount++
			if err := tx.PutAuction(a); err != nil {
				return err
			}
			c = &core.BidCommitment{AuctionID: id, Bidder: bidder}
		}

		c.Hash = hash
		c.Revealed = false
		c.RevealedAmount = core.Amount{}
		c.RevealOrder = 0
		if err := tx.PutCommitment(c); err != nil {
			return err
		}
		tx.Emit(events.Event{Type: events.BidCommitted, At: now, Actor: bidder, Auction: id, Bidder: bidder, Hash: hash})
		stored = c
		return nil
	}, auctionAttr(id), addrAttr("bidder", bidder))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Reveal discloses amount and salt for bidder's commitment during the reveal
// window. The commitment is recomputed from (id, bidder, amount, salt) and must
// match exactly. A successful reveal is final.
func (l *CommitmentLedger) Reveal(ctx context.Context, bidder core.Address, id core.AuctionID, amount core.Amount, salt core.Salt, now time.Time) (*core.BidCommitment, error) {
	var revealed *core.BidCommitment
	_, err := l.update(ctx, "reveal_bid", store.AuctionKey(id), func(tx store.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		if a == nil {
			return core.Errorf(core.ErrUnknownAuction, "auction %s", id.Short())
		}
		if phase := core.PhaseOf(a, now); phase != core.PhaseReveal {
			return core.Errorf(core.ErrWrongPhase, "auction %s is in %s phase, reveals run from %s to %s",
				id.Short(), phase, a.CommitEnd.Format(time.RFC3339), a.RevealEnd.Format(time.RFC3339))
		}

		c, err := tx.Commitment(id, bidder)
		if err != nil {
			return err
		}
		if c == nil {
			return core.Errorf(core.ErrNoCommitment, "%s has no commitment in auction %s", bidder, id.Short())
		}
		if c.Revealed {
			return core.Errorf(core.ErrAlreadyRevealed, "%s revealed as #%d", bidder, c.RevealOrder)
		}
		if got := l.scheme.Commit(id, bidder, amount, salt); got != c.Hash {
			return core.Errorf(core.ErrProofMismatch, "%s: recomputed %s, committed %s", bidder, got, c.Hash)
		}

		a.RevealCounter++
		c.Revealed = true
		c.RevealedAmount = amount
		c.RevealOrder = a.RevealCounter
		if err := tx.PutAuction(a); err != nil {
			return err
		}
		if err := tx.PutCommitment(c); err != nil {
			return err
		}
		tx.Emit(events.Event{
			Type:        events.BidRevealed,
			At:          now,
			Actor:       bidder,
			Auction:     id,
			Bidder:      bidder,
			Amount:      amount,
			Salt:        salt,
			RevealOrder: c.RevealOrder,
		})
		revealed = c
		return nil
	}, auctionAttr(id), addrAttr("bidder", bidder))
	if err != nil {
		return nil, err
	}
	return revealed, nil
}

// Get returns bidder's commitment in auction id.
func (l *CommitmentLedger) Get(ctx context.Context, id core.AuctionID, bidder core.Address) (*core.BidCommitment, error) {
	var c *core.BidCommitment
	err := l.view(ctx, func(r store.Reader) error {
		var err error
		c, err = r.Commitment(id, bidder)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, core.Errorf(core.ErrNoCommitment, "%s has no commitment in auction %s", bidder, id.Short())
	}
	return c, nil
}

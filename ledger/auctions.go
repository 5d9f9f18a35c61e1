package ledger

import (
	"context"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// AuctionStore creates auctions and answers phase queries.
type AuctionStore struct {
	base
	windows core.Windows
}

// Windows returns the durations applied to new auctions.
func (s *AuctionStore) Windows() core.Windows { return s.windows }

// Create opens a new auction whose commit window starts at now. Auction ids are
// single use: creation fails for any id that was ever created, finalized or not.
func (s *AuctionStore) Create(ctx context.Context, caller core.Address, id core.AuctionID, now time.Time) (*core.Auction, error) {
	var created *core.Auction
	_, err := s.update(ctx, "create_auction", store.AuctionKey(id), func(tx store.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if id.IsZero() {
			return core.Errorf(core.ErrMalformedInput, "auction id must not be zero")
		}
		existing, err := tx.Auction(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return core.Errorf(core.ErrAlreadyExists, "auction %s was created at %s", id.Short(), existing.CommitStart.Format(time.RFC3339))
		}

		created = s.windows.Schedule(id, now)
		if err := tx.PutAuction(created); err != nil {
			return err
		}
		tx.Emit(events.Event{
			Type:      events.AuctionCreated,
			At:        now,
			Actor:     caller,
			Auction:   id,
			CommitEnd: created.CommitEnd,
			RevealEnd: created.RevealEnd,
		})
		return nil
	}, auctionAttr(id))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a snapshot of the auction record.
func (s *AuctionStore) Get(ctx context.Context, id core.AuctionID) (*core.Auction, error) {
	var a *core.Auction
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		a, err = r.Auction(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, core.Errorf(core.ErrUnknownAuction, "auction %s", id.Short())
	}
	return a, nil
}

// Phase returns the phase of id at now. Unknown ids are NotStarted.
func (s *AuctionStore) Phase(ctx context.Context, id core.AuctionID, now time.Time) (core.Phase, error) {
	var a *core.Auction
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		a, err = r.Auction(id)
		return err
	})
	if err != nil {
		return core.PhaseNotStarted, err
	}
	return core.PhaseOf(a, now), nil
}

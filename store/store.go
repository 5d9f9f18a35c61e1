// Package store holds the ledger's repositories: auctions, commitments, payment
// records, access-control membership and the event journal.
//
// All writes go through Update, which runs a function against a transaction
// serialized with every other transaction on the same Key. Operations on
// different auctions proceed in parallel. Events emitted inside a transaction
// are appended to the journal atomically with its writes, or not at all.
package store

import (
	"context"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
)

// Key names a serialization domain.
type Key string

// AccessKey serializes changes to the owner and role memberships.
const AccessKey Key = "access"

// AuctionKey serializes every operation touching one auction and its commitments.
func AuctionKey(id core.AuctionID) Key { return Key("auction:" + id.String()) }

// PaymentKey serializes writes to one auction's payment record.
func PaymentKey(id core.AuctionID) Key { return Key("payment:" + id.String()) }

// Role is an access-control membership set.
type Role string

const (
	RoleBidder   Role = "bidder"
	RoleRecorder Role = "recorder"
)

// Reader is the read side of a transaction. Lookups of absent records return a
// nil record and a nil error.
type Reader interface {
	Auction(id core.AuctionID) (*core.Auction, error)
	Commitment(id core.AuctionID, bidder core.Address) (*core.BidCommitment, error)
	// Commitments returns every commitment of one auction keyed by bidder.
	Commitments(id core.AuctionID) (map[core.Address]*core.BidCommitment, error)
	Payment(id core.AuctionID) (*core.PaymentRecord, error)

	Owner() (core.Address, error)
	HasRole(role Role, addr core.Address) (bool, error)
	Members(role Role) ([]core.Address, error)
}

// Tx is a read-write transaction. Records returned by a Tx are copies; changes
// take effect only through the Put and Set methods.
type Tx interface {
	Reader

	PutAuction(a *core.Auction) error
	PutCommitment(c *core.BidCommitment) error
	PutPayment(p *core.PaymentRecord) error
	SetOwner(owner core.Address) error
	SetRole(role Role, addr core.Address, member bool) error

	// Emit stages a journal event. Its Seq and digests are assigned at commit.
	Emit(e events.Event)
}

// Store is a transactional repository with an append-only journal.
type Store interface {
	// Update runs fn in a transaction serialized on key. If fn returns an error
	// nothing is written and the error is returned as is. On success the
	// committed (sealed) events are returned in journal order.
	Update(ctx context.Context, key Key, fn func(Tx) error) ([]events.Event, error)

	// View runs fn against a consistent snapshot of committed state.
	View(ctx context.Context, fn func(Reader) error) error

	// Events returns up to limit journal entries with Seq >= from.
	Events(ctx context.Context, from uint64, limit int) ([]events.Event, error)

	// AuctionEvents returns the journal entries of one auction in seq order.
	AuctionEvents(ctx context.Context, id core.AuctionID) ([]events.Event, error)

	// Head returns the last journal position and digest; (0, zero) when empty.
	Head(ctx context.Context) (uint64, core.Digest, error)

	Close() error
}

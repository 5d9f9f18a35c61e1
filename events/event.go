// Package events defines the ordered, replayable notifications emitted by every
// mutating ledger operation, and the hash chain that makes the journal tamper
// evident.
package events

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealbid/core"
)

// Type names a notification.
type Type string

const (
	AuctionCreated   Type = "AuctionCreated"
	BidCommitted     Type = "BidCommitted"
	BidRevealed      Type = "BidRevealed"
	AuctionFinalized Type = "AuctionFinalized"
	AuctionUnsold    Type = "AuctionUnsold"
	PaymentRecorded  Type = "PaymentRecorded"

	OwnershipTransferred Type = "OwnershipTransferred"
	BidderAdded          Type = "BidderAdded"
	BidderRemoved        Type = "BidderRemoved"
	RecorderAuthorized   Type = "RecorderAuthorized"
	RecorderRevoked      Type = "RecorderRevoked"
)

// AuctionScoped reports whether events of this type carry an auction id.
func (t Type) AuctionScoped() bool {
	switch t {
	case AuctionCreated, BidCommitted, BidRevealed, AuctionFinalized, AuctionUnsold, PaymentRecorded:
		return true
	default:
		return false
	}
}

// Event is one journal entry. Only the fields relevant to Type are populated.
//
// Seq, ID, Prev and Digest are assigned by the store when the producing
// transaction commits; producers leave them zero.
type Event struct {
	Seq    uint64       `json:"seq"`
	ID     uuid.UUID    `json:"id"`
	Type   Type         `json:"type"`
	At     time.Time    `json:"at"`
	Actor  core.Address `json:"actor"`
	Prev   core.Digest  `json:"prev"`
	Digest core.Digest  `json:"digest"`

	Auction core.AuctionID `json:"auction,omitzero"`

	// AuctionCreated
	CommitEnd time.Time `json:"commit_end,omitzero"`
	RevealEnd time.Time `json:"reveal_end,omitzero"`

	// BidCommitted, BidRevealed
	Bidder      core.Address `json:"bidder,omitzero"`
	Hash        core.Digest  `json:"hash,omitzero"`
	Salt        core.Salt    `json:"salt,omitzero"`
	RevealOrder uint64       `json:"reveal_order,omitempty"`

	// BidRevealed, AuctionFinalized, PaymentRecorded
	Amount core.Amount `json:"amount,omitzero"`

	// AuctionFinalized, PaymentRecorded
	Winner    core.Address `json:"winner,omitzero"`
	Reference []byte       `json:"reference,omitempty"`

	// access control events
	Subject core.Address `json:"subject,omitzero"`
}

var journalNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sealbid.journal"))

// IDForSeq derives the stable event id for a journal position, so replicas that
// replay the same journal agree on ids.
func IDForSeq(seq uint64) uuid.UUID {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return uuid.NewSHA1(journalNamespace, b[:])
}

// Filter selects events during replay.
type Filter struct {
	Auction *core.AuctionID
	Types   []Type
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.Auction != nil && e.Auction != *f.Auction {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

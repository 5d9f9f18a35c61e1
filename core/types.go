package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Address identifies a participant: the owner, a bidder, a payment recorder or an
// auction winner. The zero Address means "none".
type Address [20]byte

// AuctionID is the opaque, single-use key of an auction, typically the keccak256
// digest of a bundle identifier.
type AuctionID [32]byte

// Digest is a commitment hash or a journal digest.
type Digest [32]byte

// Salt is the bidder-chosen random value mixed into a commitment.
type Salt [32]byte

// ParseAddress parses a 0x-prefixed (or bare) 40 character hex string.
func ParseAddress(s string) (Address, error) {
	var a Address
	err := parseHexFixed(s, a[:], "address")
	return a, err
}

// ParseAuctionID parses a 0x-prefixed (or bare) 64 character hex string.
func ParseAuctionID(s string) (AuctionID, error) {
	var id AuctionID
	err := parseHexFixed(s, id[:], "auction id")
	return id, err
}

// ParseDigest parses a 0x-prefixed (or bare) 64 character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	err := parseHexFixed(s, d[:], "digest")
	return d, err
}

// ParseSalt parses a 0x-prefixed (or bare) 64 character hex string.
func ParseSalt(s string) (Salt, error) {
	var salt Salt
	err := parseHexFixed(s, salt[:], "salt")
	return salt, err
}

func parseHexFixed(s string, out []byte, what string) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*len(out) {
		return Errorf(ErrMalformedInput, "%s must be %d hex characters, got %d", what, 2*len(out), len(s))
	}
	if _, err := hex.Decode(out, []byte(s)); err != nil {
		return Errorf(ErrMalformedInput, "%s: %v", what, err)
	}
	return nil
}

func (a Address) String() string   { return "0x" + hex.EncodeToString(a[:]) }
func (id AuctionID) String() string { return "0x" + hex.EncodeToString(id[:]) }
func (d Digest) String() string     { return "0x" + hex.EncodeToString(d[:]) }
func (s Salt) String() string       { return "0x" + hex.EncodeToString(s[:]) }

// Short returns an abbreviated form for log lines.
func (id AuctionID) Short() string { return id.String()[:10] }

func (a Address) IsZero() bool   { return a == Address{} }
func (id AuctionID) IsZero() bool { return id == AuctionID{} }

func (a Address) MarshalText() ([]byte, error)   { return []byte(a.String()), nil }
func (id AuctionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (d Digest) MarshalText() ([]byte, error)     { return []byte(d.String()), nil }
func (s Salt) MarshalText() ([]byte, error)       { return []byte(s.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	return parseHexFixed(string(b), a[:], "address")
}

func (id *AuctionID) UnmarshalText(b []byte) error {
	return parseHexFixed(string(b), id[:], "auction id")
}

func (d *Digest) UnmarshalText(b []byte) error {
	return parseHexFixed(string(b), d[:], "digest")
}

func (s *Salt) UnmarshalText(b []byte) error {
	return parseHexFixed(string(b), s[:], "salt")
}

// Auction is the persisted record of one sealed-bid procurement auction.
type Auction struct {
	ID          AuctionID `json:"id"`
	CommitStart time.Time `json:"commit_start"`
	CommitEnd   time.Time `json:"commit_end"`
	RevealEnd   time.Time `json:"reveal_end"`

	Finalized     bool      `json:"finalized"`
	FinalizedAt   time.Time `json:"finalized_at,omitzero"`
	Winner        Address   `json:"winner"`
	WinningAmount Amount    `json:"winning_amount"`

	// RevealCounter is the last reveal order handed out for this auction.
	RevealCounter uint64 `json:"reveal_counter"`
	BidCount      uint32 `json:"bid_count"`
	// BidderOrder lists bidders in first-commit order. Iteration at finalize is
	// bounded by its length, which never exceeds the configured bidder cap.
	BidderOrder []Address `json:"bidder_order"`
}

// HasWinner reports whether the auction finalized with a winning bid.
func (a *Auction) HasWinner() bool { return a.Finalized && !a.Winner.IsZero() }

// Clone returns a deep copy safe to mutate.
func (a *Auction) Clone() *Auction {
	c := *a
	c.BidderOrder = append([]Address(nil), a.BidderOrder...)
	return &c
}

// BidCommitment is one bidder's sealed commitment in one auction.
type BidCommitment struct {
	AuctionID      AuctionID `json:"auction_id"`
	Bidder         Address   `json:"bidder"`
	Hash           Digest    `json:"hash"`
	Revealed       bool      `json:"revealed"`
	RevealedAmount Amount    `json:"revealed_amount"`
	// RevealOrder is 0 until revealed, then the 1-based auction-scoped sequence.
	RevealOrder uint64 `json:"reveal_order"`
}

// PaymentRecord is the write-once audit record of an out-of-band payment.
type PaymentRecord struct {
	AuctionID         AuctionID `json:"auction_id"`
	Winner            Address   `json:"winner"`
	AmountPaid        Amount    `json:"amount_paid"`
	ExternalReference []byte    `json:"external_reference"`
	Timestamp         time.Time `json:"timestamp"`
	Recorded          bool      `json:"recorded"`
}

// RevealedBid is the input to winner selection: a revealed commitment.
type RevealedBid struct {
	Bidder      Address
	Amount      Amount
	RevealOrder uint64
}

func (b RevealedBid) String() string {
	return fmt.Sprintf("%s:%s@%d", b.Bidder, b.Amount, b.RevealOrder)
}

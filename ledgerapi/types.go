// Package ledgerapi holds the JSON wire types of the sealbid HTTP API, shared by
// the server, the CLI and clients.
package ledgerapi

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/receipt"
)

// CallerHeader carries the authenticated caller address on every request.
const CallerHeader = "X-Sealbid-Caller"

// COSEBase64 is a standard base64 encoding of raw COSE_Sign1 bytes.
type COSEBase64 string

// EncodeCOSE encodes raw COSE bytes for transport.
func EncodeCOSE(b []byte) COSEBase64 {
	return COSEBase64(base64.StdEncoding.EncodeToString(b))
}

// Decode returns the raw COSE bytes.
func (c COSEBase64) Decode() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(string(c))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return b, nil
}

// HexBytes marshals as a 0x-prefixed hex string.
type HexBytes []byte

func (h HexBytes) String() string { return "0x" + hex.EncodeToString(h) }

func (h HexBytes) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *HexBytes) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(b), "0x"), "0X")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return core.Errorf(core.ErrMalformedInput, "hex bytes: %v", err)
	}
	*h = decoded
	return nil
}

// CreateAuctionRequest names the auction by raw id or by bundle id; exactly one
// must be set.
type CreateAuctionRequest struct {
	AuctionID *core.AuctionID `json:"auction_id,omitempty"`
	BundleID  string          `json:"bundle_id,omitempty"`
}

// ID resolves the requested auction id.
func (r CreateAuctionRequest) ID() (core.AuctionID, error) {
	switch {
	case r.AuctionID != nil && r.BundleID != "":
		return core.AuctionID{}, core.Errorf(core.ErrMalformedInput, "set auction_id or bundle_id, not both")
	case r.AuctionID != nil:
		return *r.AuctionID, nil
	case r.BundleID != "":
		return core.AuctionIDFromBundle(r.BundleID), nil
	default:
		return core.AuctionID{}, core.Errorf(core.ErrMalformedInput, "auction_id or bundle_id is required")
	}
}

// AuctionResponse is an auction record together with its phase at response time.
type AuctionResponse struct {
	Auction *core.Auction `json:"auction"`
	Phase   core.Phase    `json:"phase"`
}

type PhaseResponse struct {
	Auction core.AuctionID `json:"auction"`
	Phase   core.Phase     `json:"phase"`
	At      time.Time      `json:"at"`
}

type CommitRequest struct {
	Hash core.Digest `json:"hash"`
}

type RevealRequest struct {
	Amount core.Amount `json:"amount"`
	Salt   core.Salt   `json:"salt"`
}

// FinalizeResponse reports the frozen outcome.
type FinalizeResponse struct {
	Auction     core.AuctionID `json:"auction"`
	Sold        bool           `json:"sold"`
	Winner      core.Address   `json:"winner"`
	Amount      core.Amount    `json:"amount"`
	RevealOrder uint64         `json:"reveal_order,omitempty"`
	Committed   int            `json:"committed"`
	Revealed    int            `json:"revealed"`
}

// NewFinalizeResponse converts an outcome.
func NewFinalizeResponse(id core.AuctionID, o core.Outcome) FinalizeResponse {
	return FinalizeResponse{
		Auction:     id,
		Sold:        o.Sold,
		Winner:      o.Winner,
		Amount:      o.Amount,
		RevealOrder: o.RevealOrder,
		Committed:   o.Committed,
		Revealed:    o.Revealed,
	}
}

// CommitmentHashRequest asks the server to compute a commitment hash. Scheme
// defaults to the server's configured scheme.
type CommitmentHashRequest struct {
	AuctionID core.AuctionID `json:"auction_id"`
	Bidder    core.Address   `json:"bidder"`
	Amount    core.Amount    `json:"amount"`
	Salt      core.Salt      `json:"salt"`
	Scheme    string         `json:"scheme,omitempty"`
}

type CommitmentHashResponse struct {
	Hash   core.Digest `json:"hash"`
	Scheme string      `json:"scheme"`
}

type OwnerRequest struct {
	Owner core.Address `json:"owner"`
}

// AccessResponse lists the current roles. When the request named an address,
// Member reports that address's roles.
type AccessResponse struct {
	Owner     core.Address   `json:"owner"`
	Bidders   []core.Address `json:"bidders"`
	Recorders []core.Address `json:"recorders"`
	Member    *Membership    `json:"member,omitempty"`
}

type Membership struct {
	Address  core.Address `json:"address"`
	Owner    bool         `json:"owner"`
	Bidder   bool         `json:"bidder"`
	Recorder bool         `json:"recorder"`
}

type PaymentRequest struct {
	Winner    core.Address `json:"winner"`
	Amount    core.Amount  `json:"amount"`
	Reference HexBytes     `json:"reference"`
}

// PaymentResponse answers both getPayment and isRecorded: Payment is nil when
// nothing was recorded.
type PaymentResponse struct {
	Auction  core.AuctionID      `json:"auction"`
	Recorded bool                `json:"recorded"`
	Payment  *core.PaymentRecord `json:"payment,omitempty"`
}

// EventsResponse is one page of the journal. Next is the seq to request for the
// following page.
type EventsResponse struct {
	Events     []events.Event `json:"events"`
	Next       uint64         `json:"next"`
	Head       uint64         `json:"head"`
	HeadDigest core.Digest    `json:"head_digest"`
}

// ReceiptResponse carries the signed receipt and, for convenience, its decoded
// payload and the verification key.
type ReceiptResponse struct {
	Receipt   *receipt.Receipt `json:"receipt"`
	Signed    COSEBase64       `json:"signed_cose_base64"`
	KeyID     HexBytes         `json:"key_id"`
	PublicKey string           `json:"public_key"` // PEM
}

// AttestationResponse is the enclave attestation of the receipt key.
type AttestationResponse struct {
	Attestation COSEBase64 `json:"attestation_cose_base64"`
	PublicKey   string     `json:"public_key"` // PEM
	KeyID       HexBytes   `json:"key_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind        string           `json:"kind,omitempty"`
	Code        string           `json:"code,omitempty"`
	Disposition core.Disposition `json:"disposition,omitempty"`
	Message     string           `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// RankedBid is one entry of an auction ranking.
type RankedBid struct {
	Rank        int          `json:"rank"`
	Bidder      core.Address `json:"bidder"`
	Amount      core.Amount  `json:"amount"`
	RevealOrder uint64       `json:"reveal_order"`
}

// RankingResponse lists revealed bids best first. The head is the winner
// finalize selects.
type RankingResponse struct {
	Auction core.AuctionID `json:"auction"`
	Bids    []RankedBid    `json:"bids"`
}

// NewRankingResponse converts a ranking.
func NewRankingResponse(id core.AuctionID, r *core.Ranking) RankingResponse {
	resp := RankingResponse{Auction: id, Bids: make([]RankedBid, 0, len(r.Ordered))}
	for i, bid := range r.Ordered {
		resp.Bids = append(resp.Bids, RankedBid{Rank: i + 1, Bidder: bid.Bidder, Amount: bid.Amount, RevealOrder: bid.RevealOrder})
	}
	return resp
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string      `json:"status"`
	Head      uint64      `json:"head"`
	Timestamp int64       `json:"timestamp"`
	Scheme    string      `json:"scheme"`
	Digest    core.Digest `json:"head_digest"`
}

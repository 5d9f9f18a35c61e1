package events

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealbid/core"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same event
// always produces the same bytes, and therefore the same chain digest.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Identifier types and Amount serialize through MarshalText.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the journal's deterministic CBOR options.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// body is the digested form of an Event. Times are unix nanoseconds so the
// encoding does not depend on time zone or monotonic readings.
type body struct {
	Seq         uint64         `cbor:"seq"`
	Type        Type           `cbor:"type"`
	At          int64          `cbor:"at"`
	Actor       core.Address   `cbor:"actor"`
	Auction     core.AuctionID `cbor:"auction"`
	CommitEnd   int64          `cbor:"commit_end"`
	RevealEnd   int64          `cbor:"reveal_end"`
	Bidder      core.Address   `cbor:"bidder"`
	Hash        core.Digest    `cbor:"hash"`
	Salt        core.Salt      `cbor:"salt"`
	RevealOrder uint64         `cbor:"reveal_order"`
	Amount      core.Amount    `cbor:"amount"`
	Winner      core.Address   `cbor:"winner"`
	Reference   []byte         `cbor:"reference"`
	Subject     core.Address   `cbor:"subject"`
}

// record is the stored form: the body plus its chain position.
type record struct {
	Body   body        `cbor:"body"`
	Prev   core.Digest `cbor:"prev"`
	Digest core.Digest `cbor:"digest"`
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (e *Event) body() body {
	return body{
		Seq:         e.Seq,
		Type:        e.Type,
		At:          unixNano(e.At),
		Actor:       e.Actor,
		Auction:     e.Auction,
		CommitEnd:   unixNano(e.CommitEnd),
		RevealEnd:   unixNano(e.RevealEnd),
		Bidder:      e.Bidder,
		Hash:        e.Hash,
		Salt:        e.Salt,
		RevealOrder: e.RevealOrder,
		Amount:      e.Amount,
		Winner:      e.Winner,
		Reference:   nilIfEmpty(e.Reference),
		Subject:     e.Subject,
	}
}

// nilIfEmpty keeps the digest independent of whether a transport preserved the
// difference between an empty and an absent reference.
func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Encode serializes a sealed event for storage.
func Encode(e Event) ([]byte, error) {
	data, err := Marshal(record{Body: e.body(), Prev: e.Prev, Digest: e.Digest})
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", e.Seq, err)
	}
	return data, nil
}

// Decode restores an event written by Encode. The id is re-derived from Seq.
func Decode(data []byte) (Event, error) {
	var r record
	if err := Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	b := r.Body
	return Event{
		Seq:         b.Seq,
		ID:          IDForSeq(b.Seq),
		Type:        b.Type,
		At:          fromUnixNano(b.At),
		Actor:       b.Actor,
		Prev:        r.Prev,
		Digest:      r.Digest,
		Auction:     b.Auction,
		CommitEnd:   fromUnixNano(b.CommitEnd),
		RevealEnd:   fromUnixNano(b.RevealEnd),
		Bidder:      b.Bidder,
		Hash:        b.Hash,
		Salt:        b.Salt,
		RevealOrder: b.RevealOrder,
		Amount:      b.Amount,
		Winner:      b.Winner,
		Reference:   b.Reference,
		Subject:     b.Subject,
	}, nil
}

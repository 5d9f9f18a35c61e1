// Package receipt issues and verifies signed finalization receipts. A receipt
// binds an auction's frozen outcome to the journal position that recorded it, so
// a holder can prove the outcome without trusting the transport it arrived on.
package receipt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealbid/core"
)

// Receipt is the signed payload.
type Receipt struct {
	Auction     core.AuctionID `cbor:"auction" json:"auction"`
	Finalized   bool           `cbor:"finalized" json:"finalized"`
	Unsold      bool           `cbor:"unsold" json:"unsold"`
	Winner      core.Address   `cbor:"winner" json:"winner"`
	Amount      core.Amount    `cbor:"amount" json:"amount"`
	BidCount    uint32         `cbor:"bid_count" json:"bid_count"`
	RevealCount uint64         `cbor:"reveal_count" json:"reveal_count"`

	// JournalSeq and JournalDigest locate the AuctionFinalized or AuctionUnsold
	// event in the hash-chained journal.
	JournalSeq    uint64      `cbor:"journal_seq" json:"journal_seq"`
	JournalDigest core.Digest `cbor:"journal_digest" json:"journal_digest"`
	FinalizedAt   time.Time   `cbor:"finalized_at" json:"finalized_at"`
}

// FromAuction builds the receipt of a finalized auction.
func FromAuction(a *core.Auction, seq uint64, digest core.Digest) (*Receipt, error) {
	if a == nil {
		return nil, core.Errorf(core.ErrUnknownAuction, "no auction record")
	}
	if !a.Finalized {
		return nil, core.Errorf(core.ErrNotReady, "auction %s is not finalized", a.ID.Short())
	}
	return &Receipt{
		Auction:       a.ID,
		Finalized:     true,
		Unsold:        !a.HasWinner(),
		Winner:        a.Winner,
		Amount:        a.WinningAmount,
		BidCount:      a.BidCount,
		RevealCount:   a.RevealCounter,
		JournalSeq:    seq,
		JournalDigest: digest,
		FinalizedAt:   a.FinalizedAt.UTC(),
	}, nil
}

var encMode, decMode = func() (cbor.EncMode, cbor.DecMode) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("receipt: cbor encoder: %v", err))
	}
	dec, err := cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("receipt: cbor decoder: %v", err))
	}
	return enc, dec
}()

// Signer signs receipts with an ECDSA P-256 key (COSE ES256).
type Signer struct {
	key    *ecdsa.PrivateKey
	signer cose.Signer
	keyID  []byte
}

// NewSigner wraps an existing P-256 key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, errors.New("receipt key must be an ECDSA P-256 key")
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	id := core.KeyedBlake3(keyIDDomain, der)
	return &Signer{key: key, signer: signer, keyID: id[:8]}, nil
}

var keyIDDomain = [32]byte{'s', 'e', 'a', 'l', 'b', 'i', 'd', '.', 'r', 'e', 'c', 'e', 'i', 'p', 't', '.', 'k', 'i', 'd'}

// GenerateSigner creates a signer with a fresh in-memory key. Receipts it signs
// are only verifiable while the process lives unless the public key is exported.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate receipt key: %w", err)
	}
	return NewSigner(key)
}

// LoadSigner reads a PEM encoded EC private key (SEC 1 or PKCS #8).
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read receipt key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("receipt key %s: no PEM block", path)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*ecdsa.PrivateKey); !ok {
				err = fmt.Errorf("PKCS #8 key is %T, not ECDSA", parsed)
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse receipt key: %w", err)
	}
	return NewSigner(key)
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() crypto.PublicKey { return &s.key.PublicKey }

// KeyID is the short identifier carried in the unprotected COSE header.
func (s *Signer) KeyID() []byte { return s.keyID }

// PublicKeyDER returns the PKIX DER form of the verification key.
func (s *Signer) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&s.key.PublicKey)
}

// PublicKeyPEM returns the verification key in PEM format.
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := s.PublicKeyDER()
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Sign encodes r deterministically and wraps it in a tagged COSE_Sign1 message.
func (s *Signer) Sign(r *Receipt) ([]byte, error) {
	payload, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: "application/cbor",
		},
		Unprotected: cose.UnprotectedHeader{
			cose.HeaderLabelKeyID: s.keyID,
		},
	}
	signed, err := cose.Sign1(rand.Reader, s.signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify checks the signature of a COSE_Sign1 receipt against pub and returns
// the decoded receipt.
func Verify(signed []byte, pub crypto.PublicKey) (*Receipt, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("receipt signature verification failed: %w", err)
	}
	return Decode(msg.Payload)
}

// Decode parses a receipt payload without checking any signature.
func Decode(payload []byte) (*Receipt, error) {
	var r Receipt
	if err := decMode.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// ParsePublicKeyPEM parses a PEM "PUBLIC KEY" block.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("no PEM PUBLIC KEY block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

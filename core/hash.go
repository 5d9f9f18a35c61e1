package core

import (
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// CommitmentScheme computes the sealed commitment a bidder publishes during the
// commit phase. Bidders compute it off-path and the ledger recomputes it at reveal,
// so an implementation must be a pure, deterministic function of its inputs.
type CommitmentScheme interface {
	Name() string
	Commit(auctionID AuctionID, bidder Address, amount Amount, salt Salt) Digest
}

const (
	SchemeKeccakABI = "keccak-abi"
	SchemeBlake3    = "blake3"
)

// DefaultScheme is the publicly documented scheme used when none is configured.
var DefaultScheme CommitmentScheme = KeccakABI{}

// SchemeByName resolves a configured scheme name.
func SchemeByName(name string) (CommitmentScheme, error) {
	switch name {
	case "", SchemeKeccakABI:
		return KeccakABI{}, nil
	case SchemeBlake3:
		return Blake3Keyed{}, nil
	default:
		return nil, fmt.Errorf("unknown commitment scheme %q", name)
	}
}

// ComputeCommitmentHash computes a commitment with DefaultScheme.
// This is used by both bidders (to build commitments) and the ledger (to verify
// reveals).
func ComputeCommitmentHash(auctionID AuctionID, bidder Address, amount Amount, salt Salt) Digest {
	return DefaultScheme.Commit(auctionID, bidder, amount, salt)
}

// encodeCommitment lays out the four inputs as four 32-byte ABI words:
//
//	bytes32 auctionId | address bidder (left-padded) | uint256 amount | bytes32 salt
func encodeCommitment(auctionID AuctionID, bidder Address, amount Amount, salt Salt) []byte {
	buf := make([]byte, 128)
	copy(buf[0:32], auctionID[:])
	copy(buf[44:64], bidder[:])
	word := amount.Bytes32()
	copy(buf[64:96], word[:])
	copy(buf[96:128], salt[:])
	return buf
}

// KeccakABI is keccak256(abi.encode(auctionId, bidder, amount, salt)). Standard
// EVM tooling can build these commitments.
type KeccakABI struct{}

func (KeccakABI) Name() string { return SchemeKeccakABI }

func (KeccakABI) Commit(auctionID AuctionID, bidder Address, amount Amount, salt Salt) Digest {
	return keccak256(encodeCommitment(auctionID, bidder, amount, salt))
}

// commitmentDomainKey separates commitment digests from every other keyed BLAKE3
// use in this module (see events.journalDomainKey).
var commitmentDomainKey = [32]byte{
	's', 'e', 'a', 'l', 'b', 'i', 'd', '.', 'c', 'o', 'm', 'm', 'i', 't', 'm', 'e',
	'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Blake3Keyed is keyed BLAKE3 over the same 128-byte layout as KeccakABI.
type Blake3Keyed struct{}

func (Blake3Keyed) Name() string { return SchemeBlake3 }

func (Blake3Keyed) Commit(auctionID AuctionID, bidder Address, amount Amount, salt Salt) Digest {
	return KeyedBlake3(commitmentDomainKey, encodeCommitment(auctionID, bidder, amount, salt))
}

// KeyedBlake3 hashes data under a 32-byte domain key.
func KeyedBlake3(key [32]byte, data ...[]byte) Digest {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("core: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, d := range data {
		hasher.Write(d)
	}
	var out Digest
	copy(out[:], hasher.Sum(nil))
	return out
}

// AuctionIDFromBundle derives an auction id from a bundle identifier as
// keccak256 of its UTF-8 bytes.
func AuctionIDFromBundle(bundleID string) AuctionID {
	return AuctionID(keccak256([]byte(bundleID)))
}

func keccak256(data []byte) Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

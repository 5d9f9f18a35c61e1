package events

import (
	"fmt"

	"github.com/cloudx-io/sealbid/core"
)

// journalDomainKey keeps journal digests disjoint from commitment digests.
var journalDomainKey = [32]byte{
	's', 'e', 'a', 'l', 'b', 'i', 'd', '.', 'j', 'o', 'u', 'r', 'n', 'a', 'l', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ComputeDigest returns the chain digest of e given the digest of the event
// before it: BLAKE3-keyed(prev || CBOR(body)).
func ComputeDigest(prev core.Digest, e *Event) (core.Digest, error) {
	data, err := Marshal(e.body())
	if err != nil {
		return core.Digest{}, fmt.Errorf("encode event body %d: %w", e.Seq, err)
	}
	return core.KeyedBlake3(journalDomainKey, prev[:], data), nil
}

// Seal assigns the journal position of e directly after (seq-1, prev).
func Seal(e *Event, seq uint64, prev core.Digest) error {
	e.Seq = seq
	e.ID = IDForSeq(seq)
	e.Prev = prev
	digest, err := ComputeDigest(prev, e)
	if err != nil {
		return err
	}
	e.Digest = digest
	return nil
}

// ChainError reports the first journal entry that does not link or hash correctly.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("journal broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyChain checks a contiguous run of events that starts right after an entry
// with digest prev (the zero digest for the start of the journal).
func VerifyChain(prev core.Digest, evs []Event) error {
	for i := range evs {
		e := &evs[i]
		if i > 0 && e.Seq != evs[i-1].Seq+1 {
			return &ChainError{Seq: e.Seq, Reason: fmt.Sprintf("gap after seq %d", evs[i-1].Seq)}
		}
		if e.Prev != prev {
			return &ChainError{Seq: e.Seq, Reason: "prev does not match preceding digest"}
		}
		digest, err := ComputeDigest(prev, e)
		if err != nil {
			return err
		}
		if digest != e.Digest {
			return &ChainError{Seq: e.Seq, Reason: "digest does not match contents"}
		}
		prev = e.Digest
	}
	return nil
}

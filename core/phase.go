package core

import (
	"fmt"
	"time"
)

// Phase is the position of an auction in its commit-reveal lifecycle.
type Phase uint8

const (
	PhaseNotStarted Phase = iota
	PhaseCommit
	PhaseReveal
	// PhaseExpired means the reveal window closed and finalize has not run yet.
	PhaseExpired
	PhaseFinalized
)

var phaseNames = [...]string{"not_started", "commit", "reveal", "expired", "finalized"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return Errorf(ErrMalformedInput, "unknown phase %q", b)
}

// PhaseOf computes the phase of a (possibly absent) auction at now. Finalized
// overrides every time-based answer.
func PhaseOf(a *Auction, now time.Time) Phase {
	switch {
	case a == nil:
		return PhaseNotStarted
	case a.Finalized:
		return PhaseFinalized
	case now.Before(a.CommitEnd):
		return PhaseCommit
	case now.Before(a.RevealEnd):
		return PhaseReveal
	default:
		return PhaseExpired
	}
}

// Windows holds the fixed commit and reveal durations applied at creation.
type Windows struct {
	Commit time.Duration
	Reveal time.Duration
}

// DefaultWindows gives five minutes to commit and two to reveal.
var DefaultWindows = Windows{Commit: 5 * time.Minute, Reveal: 2 * time.Minute}

// Schedule fills the timing fields of a fresh auction created at now.
func (w Windows) Schedule(id AuctionID, now time.Time) *Auction {
	commitEnd := now.Add(w.Commit)
	return &Auction{
		ID:          id,
		CommitStart: now,
		CommitEnd:   commitEnd,
		RevealEnd:   commitEnd.Add(w.Reveal),
	}
}

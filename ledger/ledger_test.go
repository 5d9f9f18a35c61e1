package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/sebdah/goldie/v2"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

const units = 18

var (
	t0 = time.Date(2026, 1, 24, 9, 0, 0, 0, time.UTC)

	owner    = core.Address{0x01}
	bidderA  = core.Address{0x0a}
	bidderB  = core.Address{0x0b}
	bidderC  = core.Address{0x0c}
	outsider = core.Address{0x0d}
	recorder = core.Address{0xee}

	scenarioID = core.AuctionIDFromBundle("scenario-a")
	paymentRef = bytes.Repeat([]byte{0x5e}, 32)
)

type fixture struct {
	*Ledger
	st    store.Store
	clock *FixedClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemory()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := New(st, opts)
	applied, err := l.Access.Bootstrap(context.Background(), owner, []core.Address{bidderA, bidderB, bidderC}, []core.Address{recorder}, t0)
	assert.NoError(t, err)
	assert.True(t, applied)
	return &fixture{Ledger: l, st: st, clock: NewFixedClock(t0)}
}

func scaled(s string) core.Amount { return core.MustParseUnits(s, units) }

func flipBit(t *testing.T, a core.Amount, bit int) core.Amount {
	t.Helper()
	b := a.Big()
	b.SetBit(b, bit, b.Bit(bit)^1)
	flipped, err := core.AmountFromBig(b)
	assert.NoError(t, err)
	return flipped
}

func saltFor(b core.Address) core.Salt { return core.Salt{b[0] - 0x09} }

// commit seals amount with the bidder's salt and commits it now.
func (f *fixture) commit(t *testing.T, id core.AuctionID, bidder core.Address, amount string) {
	t.Helper()
	hash := f.ComputeCommitmentHash(id, bidder, scaled(amount), saltFor(bidder))
	_, err := f.Commitments.Commit(context.Background(), bidder, id, hash, f.clock.Now())
	assert.NoError(t, err)
}

func (f *fixture) reveal(t *testing.T, id core.AuctionID, bidder core.Address, amount string) *core.BidCommitment {
	t.Helper()
	c, err := f.Commitments.Reveal(context.Background(), bidder, id, scaled(amount), saltFor(bidder), f.clock.Now())
	assert.NoError(t, err)
	return c
}

func (f *fixture) create(t *testing.T, id core.AuctionID) *core.Auction {
	t.Helper()
	a, err := f.Auctions.Create(context.Background(), owner, id, f.clock.Now())
	assert.NoError(t, err)
	return a
}

// runScenarioA commits 0.8, 0.6 and 0.7, reveals all three and finalizes.
func runScenarioA(t *testing.T, f *fixture) core.Outcome {
	t.Helper()
	ctx := context.Background()
	a := f.create(t, scenarioID)

	f.clock.Advance(time.Minute)
	f.commit(t, scenarioID, bidderA, "0.8")
	f.commit(t, scenarioID, bidderB, "0.6")
	f.commit(t, scenarioID, bidderC, "0.7")

	f.clock.Set(a.CommitEnd)
	f.reveal(t, scenarioID, bidderA, "0.8")
	f.reveal(t, scenarioID, bidderB, "0.6")
	f.reveal(t, scenarioID, bidderC, "0.7")

	f.clock.Advance(time.Minute)
	outcome, err := f.Finalizer.Finalize(ctx, owner, scenarioID, f.clock.Now())
	assert.NoError(t, err)
	return outcome
}

func TestScenarioA_LowestWins(t *testing.T) {
	f := newFixture(t, Options{})
	outcome := runScenarioA(t, f)

	check.True(t, outcome.Sold)
	check.Equal(t, bidderB, outcome.Winner)
	check.Equal(t, scaled("0.6"), outcome.Amount)
	check.Equal(t, uint64(2), outcome.RevealOrder)
	check.Equal(t, 3, outcome.Committed)
	check.Equal(t, 3, outcome.Revealed)

	a, err := f.Auctions.Get(context.Background(), scenarioID)
	assert.NoError(t, err)
	check.True(t, a.Finalized)
	check.Equal(t, bidderB, a.Winner)
	check.Equal(t, scaled("0.6"), a.WinningAmount)
	check.Equal(t, uint64(3), a.RevealCounter)
	check.Equal(t, []core.Address{bidderA, bidderB, bidderC}, a.BidderOrder)

	phase, err := f.Auctions.Phase(context.Background(), scenarioID, f.clock.Now())
	assert.NoError(t, err)
	check.Equal(t, core.PhaseFinalized, phase)
}

func TestScenarioA_CommitmentHashes(t *testing.T) {
	// keccak256(abi.encode(id, bidder, amount, salt)) as EVM tooling computes it.
	cases := map[core.Address]string{
		bidderA: "0xc8605ef6f989fca2ed8f8ec412dcca16798a1c5583590f5f6873936ee322e9a0",
		bidderB: "0x6905464c761f9870bdf87221425ec0444044825e5a7a0144268bad2ae2efe63d",
		bidderC: "0x21c0d1c39f13b65a6c4ca8bf31d24827d7d8938ee690c20c5bc4cf20f981ac24",
	}
	amounts := map[core.Address]string{bidderA: "0.8", bidderB: "0.6", bidderC: "0.7"}

	l := New(store.NewMemory(), Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	for bidder, want := range cases {
		got := l.ComputeCommitmentHash(scenarioID, bidder, scaled(amounts[bidder]), saltFor(bidder))
		check.Equal(t, want, got.String())
	}
}

func TestScenarioA_GoldenJournal(t *testing.T) {
	f := newFixture(t, Options{})
	runScenarioA(t, f)
	_, err := f.Payments.Record(context.Background(), recorder, scenarioID, bidderB, scaled("0.6"), paymentRef, f.clock.Now())
	assert.NoError(t, err)

	evs, err := f.Events(context.Background(), 1, 0, events.Filter{})
	assert.NoError(t, err)
	assert.NoError(t, events.VerifyChain(core.Digest{}, evs))

	var buf bytes.Buffer
	assert.NoError(t, events.WriteText(&buf, evs, units))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenario_a_journal", buf.Bytes())
}

func TestScenarioB_Unsold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("scenario-b")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "1.0")

	// Reveal window still open with an unrevealed commitment.
	_, err := f.Finalizer.Finalize(ctx, owner, id, a.CommitEnd)
	check.True(t, errors.Is(err, core.ErrNotReady))

	outcome, err := f.Finalizer.Finalize(ctx, owner, id, a.RevealEnd)
	assert.NoError(t, err)
	check.False(t, outcome.Sold)
	check.Equal(t, 1, outcome.Committed)
	check.Equal(t, 0, outcome.Revealed)

	got, err := f.Auctions.Get(ctx, id)
	assert.NoError(t, err)
	check.True(t, got.Finalized)
	check.True(t, got.Winner.IsZero())
	check.True(t, got.WinningAmount.IsZero())
	check.False(t, got.HasWinner())

	unsold, err := f.Events(ctx, 0, 0, events.Filter{Types: []events.Type{events.AuctionUnsold, events.AuctionFinalized}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(unsold))
	check.Equal(t, events.AuctionUnsold, unsold[0].Type)
	check.Equal(t, id, unsold[0].Auction)
}

func TestScenarioC_PartialReveal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("scenario-c")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "1.0")
	f.commit(t, id, bidderB, "0.5")

	f.clock.Set(a.CommitEnd)
	f.reveal(t, id, bidderB, "0.5")

	outcome, err := f.Finalizer.Finalize(ctx, owner, id, a.RevealEnd.Add(time.Second))
	assert.NoError(t, err)
	check.True(t, outcome.Sold)
	check.Equal(t, bidderB, outcome.Winner)
	check.Equal(t, scaled("0.5"), outcome.Amount)
	check.Equal(t, 2, outcome.Committed)
	check.Equal(t, 1, outcome.Revealed)
}

func TestScenarioD_EarlyFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("scenario-d")
	a := f.create(t, id)
	f.commit(t, id, bidderC, "0.42")

	// Commit window still open.
	_, err := f.Finalizer.Finalize(ctx, owner, id, a.CommitEnd.Add(-time.Second))
	check.True(t, errors.Is(err, core.ErrNotReady))
	check.True(t, errors.Is(err, core.ErrPhaseViolation))

	f.clock.Set(a.CommitEnd.Add(10 * time.Second))
	f.reveal(t, id, bidderC, "0.42")

	// Anyone may finalize; every committed bidder has revealed.
	outcome, err := f.Finalizer.Finalize(ctx, outsider, id, f.clock.Now())
	assert.NoError(t, err)
	check.True(t, f.clock.Now().Before(a.RevealEnd))
	check.Equal(t, bidderC, outcome.Winner)
	check.Equal(t, scaled("0.42"), outcome.Amount)
}

func TestScenarioE_PaymentAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	outcome := runScenarioA(t, f)

	recorded, err := f.Payments.IsRecorded(ctx, scenarioID)
	assert.NoError(t, err)
	check.False(t, recorded)
	_, err = f.Payments.Get(ctx, scenarioID)
	check.True(t, errors.Is(err, core.ErrNoPayment))

	rec, err := f.Payments.Record(ctx, recorder, scenarioID, outcome.Winner, outcome.Amount, paymentRef, f.clock.Now())
	assert.NoError(t, err)
	check.True(t, rec.Recorded)
	check.Equal(t, paymentRef, rec.ExternalReference)

	recorded, err = f.Payments.IsRecorded(ctx, scenarioID)
	assert.NoError(t, err)
	check.True(t, recorded)

	_, err = f.Payments.Record(ctx, recorder, scenarioID, outcome.Winner, outcome.Amount, []byte("again"), f.clock.Now())
	check.True(t, errors.Is(err, core.ErrAlreadyRecorded))
	check.True(t, errors.Is(err, core.ErrConflict))

	got, err := f.Payments.Get(ctx, scenarioID)
	assert.NoError(t, err)
	check.Equal(t, paymentRef, got.ExternalReference)
	check.Equal(t, bidderB, got.Winner)
	check.Equal(t, scaled("0.6"), got.AmountPaid)
}

func TestCreateAuction_IDIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	id := core.AuctionIDFromBundle("open")
	f.create(t, id)
	_, err := f.Auctions.Create(ctx, owner, id, t0.Add(time.Minute))
	check.True(t, errors.Is(err, core.ErrAlreadyExists))
	check.True(t, errors.Is(err, core.ErrConflict))

	runScenarioA(t, f)
	_, err = f.Auctions.Create(ctx, owner, scenarioID, f.clock.Now().Add(time.Hour))
	check.True(t, errors.Is(err, core.ErrAlreadyExists))

	a, err := f.Auctions.Get(ctx, scenarioID)
	assert.NoError(t, err)
	check.True(t, a.Finalized)
	check.Equal(t, bidderB, a.Winner)
}

func TestCreateAuction_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.Auctions.Create(ctx, bidderA, core.AuctionID{1}, t0)
	check.True(t, errors.Is(err, core.ErrNotOwner))

	_, err = f.Auctions.Create(ctx, owner, core.AuctionID{}, t0)
	check.True(t, errors.Is(err, core.ErrMalformedInput))

	_, err = f.Auctions.Get(ctx, core.AuctionID{1})
	check.True(t, errors.Is(err, core.ErrUnknownAuction))

	phase, err := f.Auctions.Phase(ctx, core.AuctionID{1}, t0)
	assert.NoError(t, err)
	check.Equal(t, core.PhaseNotStarted, phase)
}

func TestCommit_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("commit")
	hash := core.Digest{0xaa}

	_, err := f.Commitments.Commit(ctx, bidderA, id, hash, t0)
	check.True(t, errors.Is(err, core.ErrUnknownAuction))

	a := f.create(t, id)

	for _, addr := range []core.Address{outsider, owner, recorder} {
		_, err = f.Commitments.Commit(ctx, addr, id, hash, t0)
		check.True(t, errors.Is(err, core.ErrNotWhitelisted))
	}
	kind, ok := core.KindOf(err)
	check.True(t, ok)
	check.Equal(t, core.Escalate, kind.Disposition())

	_, err = f.Commitments.Commit(ctx, bidderA, id, hash, a.CommitEnd)
	check.True(t, errors.Is(err, core.ErrWrongPhase))
	kind, _ = core.KindOf(err)
	check.Equal(t, core.RetryLater, kind.Disposition())

	// Whitelist is checked before the auction lookup.
	_, err = f.Commitments.Commit(ctx, outsider, core.AuctionID{0x99}, hash, t0)
	check.True(t, errors.Is(err, core.ErrNotWhitelisted))
}

func TestCommit_RemovedBidderIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("removed")
	f.create(t, id)

	assert.NoError(t, f.Access.RemoveBidder(ctx, owner, bidderA, t0))
	_, err := f.Commitments.Commit(ctx, bidderA, id, core.Digest{1}, t0)
	check.True(t, errors.Is(err, core.ErrNotWhitelisted))

	assert.NoError(t, f.Access.AddBidder(ctx, owner, bidderA, t0))
	f.commit(t, id, bidderA, "1")
}

func TestCommit_OverwriteKeepsPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("overwrite")
	a := f.create(t, id)

	f.commit(t, id, bidderA, "0.9")
	f.commit(t, id, bidderB, "0.8")
	f.commit(t, id, bidderA, "0.3")

	got, err := f.Auctions.Get(ctx, id)
	assert.NoError(t, err)
	check.Equal(t, uint32(2), got.BidCount)
	check.Equal(t, []core.Address{bidderA, bidderB}, got.BidderOrder)

	f.clock.Set(a.CommitEnd)
	_, err = f.Commitments.Reveal(ctx, bidderA, id, scaled("0.9"), saltFor(bidderA), f.clock.Now())
	check.True(t, errors.Is(err, core.ErrProofMismatch))
	c := f.reveal(t, id, bidderA, "0.3")
	check.Equal(t, uint64(1), c.RevealOrder)
}

func TestCommit_Capacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxBidders: 2})
	id := core.AuctionIDFromBundle("capacity")
	f.create(t, id)

	f.commit(t, id, bidderA, "1")
	f.commit(t, id, bidderB, "1")
	_, err := f.Commitments.Commit(ctx, bidderC, id, core.Digest{1}, t0)
	check.True(t, errors.Is(err, core.ErrCapacityExceeded))
	check.True(t, errors.Is(err, core.ErrValidation))

	// Existing bidders may still replace their commitments.
	f.commit(t, id, bidderB, "2")
}

func TestFinalize_LoweredCapKeepsCommittedBidders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxBidders: 3})
	id := core.AuctionIDFromBundle("lowered-cap")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "0.9")
	f.commit(t, id, bidderB, "0.8")
	f.commit(t, id, bidderC, "0.3")
	f.clock.Set(a.CommitEnd)
	f.reveal(t, id, bidderA, "0.9")
	f.reveal(t, id, bidderB, "0.8")
	f.reveal(t, id, bidderC, "0.3")

	// A restart over the same store with a lower cap.
	restarted := New(f.st, Options{MaxBidders: 1, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ranking, err := restarted.Finalizer.Ranking(ctx, id)
	assert.NoError(t, err)
	check.Equal(t, 3, len(ranking.Ordered))

	outcome, err := restarted.Finalizer.Finalize(ctx, owner, id, a.RevealEnd)
	assert.NoError(t, err)
	check.Equal(t, bidderC, outcome.Winner)
	check.Equal(t, scaled("0.3"), outcome.Amount)
	check.Equal(t, 3, outcome.Revealed)
}

func TestReveal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("roundtrip")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "0.75")

	_, err := f.Commitments.Reveal(ctx, bidderA, id, scaled("0.75"), saltFor(bidderA), t0)
	check.True(t, errors.Is(err, core.ErrWrongPhase))

	f.clock.Set(a.CommitEnd)
	now := f.clock.Now()
	amount := scaled("0.75")
	salt := saltFor(bidderA)

	for bit := 0; bit < 256; bit++ {
		flipped := salt
		flipped[bit/8] ^= 1 << (bit % 8)
		_, err := f.Commitments.Reveal(ctx, bidderA, id, amount, flipped, now)
		check.True(t, errors.Is(err, core.ErrProofMismatch))
	}
	for bit := 0; bit < 64; bit++ {
		_, err := f.Commitments.Reveal(ctx, bidderA, id, flipBit(t, amount, bit), salt, now)
		check.True(t, errors.Is(err, core.ErrProofMismatch))
	}

	// Another bidder cannot reveal A's commitment.
	_, err = f.Commitments.Reveal(ctx, bidderB, id, amount, salt, now)
	check.True(t, errors.Is(err, core.ErrNoCommitment))

	c := f.reveal(t, id, bidderA, "0.75")
	check.True(t, c.Revealed)
	check.Equal(t, amount, c.RevealedAmount)
	check.Equal(t, uint64(1), c.RevealOrder)

	_, err = f.Commitments.Reveal(ctx, bidderA, id, amount, salt, now)
	check.True(t, errors.Is(err, core.ErrAlreadyRevealed))

	_, err = f.Commitments.Reveal(ctx, bidderA, id, amount, salt, a.RevealEnd)
	check.True(t, errors.Is(err, core.ErrWrongPhase))

	got, err := f.Commitments.Get(ctx, id, bidderA)
	assert.NoError(t, err)
	check.Equal(t, c, got)
}

func TestReveal_ZeroAmount(t *testing.T) {
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("free")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "0.1")
	f.commit(t, id, bidderB, "0")

	f.clock.Set(a.CommitEnd)
	f.reveal(t, id, bidderA, "0.1")
	f.reveal(t, id, bidderB, "0")

	outcome, err := f.Finalizer.Finalize(context.Background(), owner, id, f.clock.Now())
	assert.NoError(t, err)
	check.Equal(t, bidderB, outcome.Winner)
	check.True(t, outcome.Amount.IsZero())
}

func TestFinalize_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	first := runScenarioA(t, f)
	head, digest, err := f.Head(ctx)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.Finalizer.Finalize(ctx, outsider, scenarioID, f.clock.Now().Add(time.Hour))
		check.True(t, errors.Is(err, core.ErrAlreadyFinalized))
		check.True(t, errors.Is(err, core.ErrConflict))
	}

	a, err := f.Auctions.Get(ctx, scenarioID)
	assert.NoError(t, err)
	check.Equal(t, first.Winner, a.Winner)
	check.Equal(t, first.Amount, a.WinningAmount)

	gotHead, gotDigest, err := f.Head(ctx)
	assert.NoError(t, err)
	check.Equal(t, head, gotHead)
	check.Equal(t, digest, gotDigest)

	_, err = f.Finalizer.Finalize(ctx, owner, core.AuctionID{0x42}, t0)
	check.True(t, errors.Is(err, core.ErrUnknownAuction))
}

func TestFinalize_TieGoesToFirstReveal(t *testing.T) {
	ctx := context.Background()
	for _, order := range [][]core.Address{{bidderA, bidderC}, {bidderC, bidderA}} {
		f := newFixture(t, Options{})
		id := core.AuctionIDFromBundle(fmt.Sprintf("tie-%s", order[0]))
		a := f.create(t, id)

		// Commit order is the reverse of reveal order.
		f.commit(t, id, order[1], "0.5")
		f.commit(t, id, order[0], "0.5")

		f.clock.Set(a.CommitEnd)
		f.reveal(t, id, order[0], "0.5")
		f.reveal(t, id, order[1], "0.5")

		outcome, err := f.Finalizer.Finalize(ctx, owner, id, f.clock.Now())
		assert.NoError(t, err)
		check.Equal(t, order[0], outcome.Winner)
		check.Equal(t, uint64(1), outcome.RevealOrder)

		ranking, err := f.Finalizer.Ranking(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, 2, len(ranking.Ordered))
		check.Equal(t, order[0], ranking.Ordered[0].Bidder)
		check.Equal(t, order[1], ranking.Ordered[1].Bidder)
	}
}

func TestPayment_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("pay")
	amount := scaled("1")

	_, err := f.Payments.Record(ctx, owner, id, bidderA, amount, nil, t0)
	check.True(t, errors.Is(err, core.ErrNotRecorder))

	_, err = f.Payments.Record(ctx, recorder, id, core.Address{}, amount, nil, t0)
	check.True(t, errors.Is(err, core.ErrNullWinner))

	_, err = f.Payments.Record(ctx, recorder, id, bidderA, core.Amount{}, nil, t0)
	check.True(t, errors.Is(err, core.ErrInvalidAmount))

	assert.NoError(t, f.Access.RevokeRecorder(ctx, owner, recorder, t0))
	_, err = f.Payments.Record(ctx, recorder, id, bidderA, amount, nil, t0)
	check.True(t, errors.Is(err, core.ErrNotRecorder))

	recorded, err := f.Payments.IsRecorded(ctx, id)
	assert.NoError(t, err)
	check.False(t, recorded)
}

func TestPayment_NotCrossChecked(t *testing.T) {
	// The recorder is trusted: a record for an auction the ledger never saw is
	// accepted as given.
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("elsewhere")
	rec, err := f.Payments.Record(context.Background(), recorder, id, bidderC, scaled("3"), []byte{1}, t0)
	assert.NoError(t, err)
	check.Equal(t, bidderC, rec.Winner)
}

func TestBootstrap_RejectsZeroMembers(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory(), Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err := l.Access.Bootstrap(ctx, owner, []core.Address{bidderA, {}}, nil, t0)
	check.True(t, errors.Is(err, core.ErrMalformedInput))
	_, err = l.Access.Bootstrap(ctx, owner, nil, []core.Address{{}}, t0)
	check.True(t, errors.Is(err, core.ErrMalformedInput))

	// Nothing was applied, so a valid bootstrap still goes through.
	head, _, err := l.Head(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), head)
	applied, err := l.Access.Bootstrap(ctx, owner, []core.Address{bidderA}, nil, t0)
	assert.NoError(t, err)
	check.True(t, applied)
	member, err := l.Access.IsBidder(ctx, core.Address{})
	assert.NoError(t, err)
	check.False(t, member)
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	applied, err := f.Access.Bootstrap(ctx, outsider, nil, nil, t0)
	assert.NoError(t, err)
	check.False(t, applied)

	snap, err := f.Access.Snapshot(ctx)
	assert.NoError(t, err)
	check.Equal(t, owner, snap.Owner)
	check.Equal(t, []core.Address{bidderA, bidderB, bidderC}, snap.Bidders)
	check.Equal(t, []core.Address{recorder}, snap.Recorders)

	check.True(t, errors.Is(f.Access.AddBidder(ctx, bidderA, outsider, t0), core.ErrNotOwner))
	check.True(t, errors.Is(f.Access.AuthorizeRecorder(ctx, recorder, outsider, t0), core.ErrNotOwner))
	check.True(t, errors.Is(f.Access.TransferOwnership(ctx, bidderA, bidderA, t0), core.ErrNotOwner))
	check.True(t, errors.Is(f.Access.AddBidder(ctx, owner, core.Address{}, t0), core.ErrMalformedInput))
	check.True(t, errors.Is(f.Access.TransferOwnership(ctx, owner, core.Address{}, t0), core.ErrMalformedInput))

	assert.NoError(t, f.Access.TransferOwnership(ctx, owner, outsider, t0))
	got, err := f.Access.Owner(ctx)
	assert.NoError(t, err)
	check.Equal(t, outsider, got)

	// The previous owner lost every privilege.
	check.True(t, errors.Is(f.Access.AddBidder(ctx, owner, core.Address{0x77}, t0), core.ErrNotOwner))
	_, err = f.Auctions.Create(ctx, owner, core.AuctionID{7}, t0)
	check.True(t, errors.Is(err, core.ErrNotOwner))

	assert.NoError(t, f.Access.AddBidder(ctx, outsider, core.Address{0x77}, t0))
	isBidder, err := f.Access.IsBidder(ctx, core.Address{0x77})
	assert.NoError(t, err)
	check.True(t, isBidder)

	isRecorder, err := f.Access.IsRecorder(ctx, recorder)
	assert.NoError(t, err)
	check.True(t, isRecorder)
}

func TestAccessControl_RepeatedChangesAreJournaled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	assert.NoError(t, f.Access.AddBidder(ctx, owner, bidderA, t0))
	assert.NoError(t, f.Access.RemoveBidder(ctx, owner, outsider, t0))

	evs, err := f.Events(ctx, 0, 0, events.Filter{Types: []events.Type{events.BidderAdded, events.BidderRemoved}})
	assert.NoError(t, err)
	assert.Equal(t, 5, len(evs))
	check.Equal(t, bidderA, evs[3].Subject)
	check.Equal(t, events.BidderRemoved, evs[4].Type)
	check.Equal(t, outsider, evs[4].Subject)
}

func TestRejectedOperationsWriteNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	id := core.AuctionIDFromBundle("atomic")
	a := f.create(t, id)
	f.commit(t, id, bidderA, "1")

	head, digest, err := f.Head(ctx)
	assert.NoError(t, err)

	_, err = f.Commitments.Commit(ctx, bidderA, id, core.Digest{1}, a.CommitEnd)
	check.Error(t, err)
	_, err = f.Commitments.Reveal(ctx, bidderA, id, scaled("2"), saltFor(bidderA), a.CommitEnd)
	check.Error(t, err)
	_, err = f.Finalizer.Finalize(ctx, owner, id, a.CommitEnd)
	check.Error(t, err)
	_, err = f.Payments.Record(ctx, bidderA, id, bidderA, scaled("1"), nil, t0)
	check.Error(t, err)

	gotHead, gotDigest, err := f.Head(ctx)
	assert.NoError(t, err)
	check.Equal(t, head, gotHead)
	check.Equal(t, digest, gotDigest)

	c, err := f.Commitments.Get(ctx, id, bidderA)
	assert.NoError(t, err)
	check.False(t, c.Revealed)
	got, err := f.Auctions.Get(ctx, id)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), got.RevealCounter)
}

func TestFeedSeesCommittedEvents(t *testing.T) {
	st := store.NewMemory()
	feed := events.NewFeed(st, time.Hour)
	l := New(st, Options{Feed: feed, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := feed.Subscribe(0, events.Filter{Types: []events.Type{events.AuctionCreated}})
	done := make(chan events.Event, 1)
	go func() {
		e, err := sub.Next(ctx)
		if err == nil {
			done <- e
		}
		close(done)
	}()

	_, err := l.Access.Bootstrap(ctx, owner, nil, nil, t0)
	assert.NoError(t, err)
	_, err = l.Auctions.Create(ctx, owner, scenarioID, t0)
	assert.NoError(t, err)

	e, ok := <-done
	assert.True(t, ok)
	check.Equal(t, events.AuctionCreated, e.Type)
	check.Equal(t, scenarioID, e.Auction)
	check.Equal(t, uint64(2), e.Seq)
}

func TestConcurrentAuctions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	const n = 16

	ids := make([]core.AuctionID, n)
	for i := range ids {
		ids[i] = core.AuctionIDFromBundle(fmt.Sprintf("parallel-%d", i))
		f.create(t, ids[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*3)
	for _, id := range ids {
		for _, bidder := range []core.Address{bidderA, bidderB, bidderC} {
			id, bidder := id, bidder
			wg.Add(1)
			go func() {
				defer wg.Done()
				hash := f.ComputeCommitmentHash(id, bidder, scaled("1"), saltFor(bidder))
				_, err := f.Commitments.Commit(ctx, bidder, id, hash, t0)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		check.NoError(t, err)
	}

	for _, id := range ids {
		a, err := f.Auctions.Get(ctx, id)
		assert.NoError(t, err)
		check.Equal(t, uint32(3), a.BidCount)
		check.Equal(t, 3, len(a.BidderOrder))
	}

	evs, err := f.Events(ctx, 0, 0, events.Filter{})
	assert.NoError(t, err)
	check.NoError(t, events.VerifyChain(core.Digest{}, evs))
	check.Equal(t, 5+n+3*n, len(evs))
}

func TestScheme_Blake3(t *testing.T) {
	f := newFixture(t, Options{Scheme: core.Blake3Keyed{}})
	id := core.AuctionIDFromBundle("blake3")
	a := f.create(t, id)

	keccak := core.KeccakABI{}.Commit(id, bidderA, scaled("1"), saltFor(bidderA))
	_, err := f.Commitments.Commit(context.Background(), bidderA, id, keccak, t0)
	assert.NoError(t, err)

	f.clock.Set(a.CommitEnd)
	_, err = f.Commitments.Reveal(context.Background(), bidderA, id, scaled("1"), saltFor(bidderA), f.clock.Now())
	check.True(t, errors.Is(err, core.ErrProofMismatch))
	check.Equal(t, core.SchemeBlake3, f.Scheme().Name())
}

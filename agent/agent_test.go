package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledger"
	"github.com/cloudx-io/sealbid/store"
)

var (
	t0 = time.Date(2026, 1, 24, 9, 0, 0, 0, time.UTC)

	owner    = core.Address{0x01}
	bidderA  = core.Address{0x0a}
	bidderB  = core.Address{0x0b}
	recorder = core.Address{0xee}
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastOptions() Options {
	return Options{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Logger: quiet}
}

type env struct {
	l    *ledger.Ledger
	feed *events.Feed
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemory()
	feed := events.NewFeed(st, 10*time.Millisecond)
	l := ledger.New(st, ledger.Options{Logger: quiet, Feed: feed})
	_, err := l.Access.Bootstrap(context.Background(), owner, []core.Address{bidderA, bidderB}, []core.Address{recorder}, t0)
	assert.NoError(t, err)
	return &env{l: l, feed: feed}
}

// finalize runs an auction in which the given bidders commit and reveal, and
// returns its finalize notification.
func (e *env) finalize(t *testing.T, bundle string, bids map[core.Address]string) events.Event {
	t.Helper()
	ctx := context.Background()
	id := core.AuctionIDFromBundle(bundle)
	a, err := e.l.Auctions.Create(ctx, owner, id, t0)
	assert.NoError(t, err)
	for bidder, amount := range bids {
		hash := e.l.ComputeCommitmentHash(id, bidder, core.MustParseUnits(amount, 18), core.Salt{bidder[0]})
		_, err := e.l.Commitments.Commit(ctx, bidder, id, hash, t0)
		assert.NoError(t, err)
	}
	for bidder, amount := range bids {
		_, err := e.l.Commitments.Reveal(ctx, bidder, id, core.MustParseUnits(amount, 18), core.Salt{bidder[0]}, a.CommitEnd)
		assert.NoError(t, err)
	}
	_, err = e.l.Finalizer.Finalize(ctx, owner, id, a.RevealEnd)
	assert.NoError(t, err)

	evs, err := e.l.Events(ctx, 1, 0, events.Filter{Auction: &id, Types: []events.Type{events.AuctionFinalized, events.AuctionUnsold}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(evs))
	return evs[0]
}

// flakyRail fails the first failures calls.
type flakyRail struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRail) Pay(ctx context.Context, id core.AuctionID, winner core.Address, amount core.Amount) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return nil, errors.New("rail timeout")
	}
	return []byte{0xab, 0xcd}, nil
}

func (r *flakyRail) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// scriptedPayments returns the queued errors from Record, then succeeds.
type scriptedPayments struct {
	recordErrs  []error
	records     int
	recorded    bool
	notRecorder bool
	references  [][]byte
}

func (p *scriptedPayments) Record(ctx context.Context, caller core.Address, id core.AuctionID, winner core.Address, amount core.Amount, reference []byte, now time.Time) (*core.PaymentRecord, error) {
	p.records++
	p.references = append(p.references, reference)
	if len(p.recordErrs) > 0 {
		err := p.recordErrs[0]
		p.recordErrs = p.recordErrs[1:]
		return nil, err
	}
	return &core.PaymentRecord{AuctionID: id, Winner: winner, AmountPaid: amount, ExternalReference: reference, Recorded: true}, nil
}

func (p *scriptedPayments) IsRecorded(ctx context.Context, id core.AuctionID) (bool, error) {
	return p.recorded, nil
}

func (p *scriptedPayments) IsRecorder(ctx context.Context, addr core.Address) (bool, error) {
	return !p.notRecorder, nil
}

func TestRun_SettlesFinalizedAuction(t *testing.T) {
	e := newEnv(t)
	rail := &SimulatedRail{}
	a := New(e.feed, rail, e.l.Payments, recorder, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, 1) }()

	final := e.finalize(t, "settle", map[core.Address]string{bidderA: "0.8", bidderB: "0.6"})
	check.Equal(t, events.AuctionFinalized, final.Type)

	deadline := time.Now().Add(5 * time.Second)
	var rec *core.PaymentRecord
	for time.Now().Before(deadline) {
		var err error
		if rec, err = e.l.Payments.Get(context.Background(), final.Auction); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	check.NoError(t, <-done)

	assert.NotNil(t, rec)
	check.Equal(t, bidderB, rec.Winner)
	check.Equal(t, core.MustParseUnits("0.6", 18), rec.AmountPaid)
	check.Equal(t, 32, len(rec.ExternalReference))
	check.Equal(t, 1, rail.Payments())

	payments, err := e.l.Events(context.Background(), 1, 0, events.Filter{Types: []events.Type{events.PaymentRecorded}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(payments))
	check.Equal(t, recorder, payments[0].Actor)
}

func TestHandle_SkipsUnsold(t *testing.T) {
	e := newEnv(t)
	rail := &SimulatedRail{}
	a := New(e.feed, rail, e.l.Payments, recorder, fastOptions())

	final := e.finalize(t, "unsold", nil)
	check.Equal(t, events.AuctionUnsold, final.Type)
	check.NoError(t, a.Handle(context.Background(), final))
	check.Equal(t, 0, rail.Payments())

	recorded, err := e.l.Payments.IsRecorded(context.Background(), final.Auction)
	assert.NoError(t, err)
	check.False(t, recorded)
}

func TestHandle_RetriesRail(t *testing.T) {
	e := newEnv(t)
	rail := &flakyRail{failures: 2}
	a := New(e.feed, rail, e.l.Payments, recorder, fastOptions())

	final := e.finalize(t, "flaky", map[core.Address]string{bidderA: "0.5"})
	check.NoError(t, a.Handle(context.Background(), final))
	check.Equal(t, 3, rail.Calls())

	rec, err := e.l.Payments.Get(context.Background(), final.Auction)
	assert.NoError(t, err)
	check.Equal(t, []byte{0xab, 0xcd}, rec.ExternalReference)
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	e := newEnv(t)
	rail := &flakyRail{failures: 10}
	a := New(e.feed, rail, e.l.Payments, recorder, fastOptions())

	final := e.finalize(t, "down", map[core.Address]string{bidderA: "0.5"})
	check.Error(t, a.Handle(context.Background(), final))
	check.Equal(t, 3, rail.Calls())

	recorded, err := e.l.Payments.IsRecorded(context.Background(), final.Auction)
	assert.NoError(t, err)
	check.False(t, recorded)
}

func TestHandle_AlreadyRecordedIsNotPaidTwice(t *testing.T) {
	e := newEnv(t)
	rail := &SimulatedRail{}
	a := New(e.feed, rail, e.l.Payments, recorder, fastOptions())

	final := e.finalize(t, "twice", map[core.Address]string{bidderB: "0.4"})
	check.NoError(t, a.Handle(context.Background(), final))
	check.NoError(t, a.Handle(context.Background(), final))
	check.Equal(t, 1, rail.Payments())
}

func TestHandle_ConflictEndsProcessing(t *testing.T) {
	rail := &SimulatedRail{}
	payments := &scriptedPayments{recordErrs: []error{core.Errorf(core.ErrAlreadyRecorded, "raced")}}
	a := New(nil, rail, payments, recorder, fastOptions())

	final := events.Event{Type: events.AuctionFinalized, Auction: core.AuctionIDFromBundle("race"), Winner: bidderA, Amount: core.NewAmount(7)}
	check.NoError(t, a.Handle(context.Background(), final))
	check.Equal(t, 1, payments.records)
}

func TestHandle_TransientRecordFailure(t *testing.T) {
	rail := &SimulatedRail{}
	payments := &scriptedPayments{recordErrs: []error{errors.New("connection reset")}}
	a := New(nil, rail, payments, recorder, fastOptions())

	final := events.Event{Type: events.AuctionFinalized, Auction: core.AuctionIDFromBundle("reset"), Winner: bidderA, Amount: core.NewAmount(7)}
	check.NoError(t, a.Handle(context.Background(), final))
	check.Equal(t, 2, payments.records)
	// The rail is paid once even though recording was retried.
	check.Equal(t, 1, rail.Payments())
}

func TestHandle_NotARecorder(t *testing.T) {
	e := newEnv(t)
	rail := &SimulatedRail{}
	a := New(e.feed, rail, e.l.Payments, bidderA, fastOptions())

	final := e.finalize(t, "impostor", map[core.Address]string{bidderB: "0.4"})
	err := a.Handle(context.Background(), final)
	check.True(t, errors.Is(err, core.ErrNotRecorder))
	check.Equal(t, 0, rail.Payments())
}

func TestHandle_RevokedRecorderPaysOnceAfterRestart(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	rail := &SimulatedRail{}
	final := e.finalize(t, "revoked", map[core.Address]string{bidderA: "0.7"})

	assert.NoError(t, e.l.Access.RevokeRecorder(ctx, owner, recorder, t0))
	first := New(e.feed, rail, e.l.Payments, recorder, fastOptions())
	for i := 0; i < 3; i++ {
		check.True(t, errors.Is(first.Handle(ctx, final), core.ErrNotRecorder))
	}
	check.Equal(t, 0, rail.Payments())

	assert.NoError(t, e.l.Access.AuthorizeRecorder(ctx, owner, recorder, t0))
	restarted := New(e.feed, rail, e.l.Payments, recorder, fastOptions())
	check.NoError(t, restarted.Handle(ctx, final))
	check.NoError(t, restarted.Handle(ctx, final))
	check.Equal(t, 1, rail.Payments())

	recorded, err := e.l.Payments.IsRecorded(ctx, final.Auction)
	assert.NoError(t, err)
	check.True(t, recorded)
}

func TestHandle_AbandonedRecordIsNotPaidAgain(t *testing.T) {
	ctx := context.Background()
	rail := &SimulatedRail{}
	transient := errors.New("connection reset")
	payments := &scriptedPayments{recordErrs: []error{transient, transient, transient}}
	final := events.Event{Type: events.AuctionFinalized, Auction: core.AuctionIDFromBundle("abandoned"), Winner: bidderA, Amount: core.NewAmount(7)}

	first := New(nil, rail, payments, recorder, fastOptions())
	check.Error(t, first.Handle(ctx, final))
	check.Equal(t, 3, payments.records)
	check.Equal(t, 1, rail.Payments())

	// A restarted agent replays the same notification from the journal.
	restarted := New(nil, rail, payments, recorder, fastOptions())
	check.NoError(t, restarted.Handle(ctx, final))
	check.Equal(t, 4, payments.records)
	check.Equal(t, 1, rail.Payments())
	check.Equal(t, payments.references[0], payments.references[3])
}

func TestSimulatedRail_IdempotentPerAuction(t *testing.T) {
	ctx := context.Background()
	rail := &SimulatedRail{}
	idA, idB := core.AuctionIDFromBundle("a"), core.AuctionIDFromBundle("b")

	ref1, err := rail.Pay(ctx, idA, bidderA, core.NewAmount(1))
	assert.NoError(t, err)
	ref2, err := rail.Pay(ctx, idA, bidderA, core.NewAmount(1))
	assert.NoError(t, err)
	check.Equal(t, ref1, ref2)
	check.Equal(t, 1, rail.Payments())

	ref3, err := rail.Pay(ctx, idB, bidderB, core.NewAmount(2))
	assert.NoError(t, err)
	check.NotEqual(t, ref1, ref3)
	check.Equal(t, 2, rail.Payments())
}

func TestHandle_NotARecorderNeverPays(t *testing.T) {
	rail := &SimulatedRail{}
	payments := &scriptedPayments{notRecorder: true}
	a := New(nil, rail, payments, recorder, fastOptions())

	final := events.Event{Type: events.AuctionFinalized, Auction: core.AuctionIDFromBundle("unauthorized"), Winner: bidderA, Amount: core.NewAmount(7)}
	check.True(t, errors.Is(a.Handle(context.Background(), final), core.ErrNotRecorder))
	check.Equal(t, 0, rail.Payments())
	check.Equal(t, 0, payments.records)
}

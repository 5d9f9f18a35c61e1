// Package agent implements the external payment agent: it follows the journal,
// pays each auction winner through a Rail, and records the payment in the audit
// ledger under its recorder identity.
//
// Payments are keyed by auction id at the rail, so replaying the journal after
// a failed record step recovers the original transfer instead of paying again.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledger"
)

// Payments is the part of the payment audit ledger the agent uses.
type Payments interface {
	Record(ctx context.Context, caller core.Address, id core.AuctionID, winner core.Address, amount core.Amount, reference []byte, now time.Time) (*core.PaymentRecord, error)
	IsRecorded(ctx context.Context, id core.AuctionID) (bool, error)
	IsRecorder(ctx context.Context, addr core.Address) (bool, error)
}

// Options configures an Agent. Zero values select the defaults.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Clock       ledger.Clock
	Logger      *slog.Logger
}

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

// Agent settles finalized auctions. It is not safe for concurrent Run calls.
type Agent struct {
	feed     *events.Feed
	rail     Rail
	payments Payments
	identity core.Address

	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	clock       ledger.Clock
	log         *slog.Logger
}

// New creates an agent that records payments as identity, which must be an
// authorized recorder.
func New(feed *events.Feed, rail Rail, payments Payments, identity core.Address, opts Options) *Agent {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.Backoff)
	}
	if opts.Clock == nil {
		opts.Clock = ledger.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		feed:        feed,
		rail:        rail,
		payments:    payments,
		identity:    identity,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		maxBackoff:  opts.MaxBackoff,
		clock:       opts.Clock,
		log:         opts.Logger.With(slog.String("component", "payment-agent"), slog.String("recorder", identity.String())),
	}
}

// Run follows the journal from seq from until ctx is done. Settlement failures
// are logged and do not stop the agent; only a journal read error does.
func (a *Agent) Run(ctx context.Context, from uint64) error {
	sub := a.feed.Subscribe(from, events.Filter{Types: []events.Type{events.AuctionFinalized, events.AuctionUnsold}})
	a.log.Info("payment agent started", slog.Uint64("from", from))
	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.log.Info("payment agent stopped", slog.Uint64("cursor", sub.Cursor()))
				return nil
			}
			return fmt.Errorf("read journal: %w", err)
		}
		if err := a.Handle(ctx, e); err != nil && ctx.Err() == nil {
			a.log.Error("settlement abandoned", slog.String("auction", e.Auction.Short()), slog.Any("error", err))
		}
	}
}

// Handle settles one finalize notification. Unsold auctions and auctions whose
// payment is already recorded are skipped.
func (a *Agent) Handle(ctx context.Context, e events.Event) error {
	log := a.log.With(slog.String("auction", e.Auction.Short()), slog.Uint64("seq", e.Seq))
	switch {
	case e.Type == events.AuctionUnsold:
		log.Debug("auction unsold, nothing to pay")
		return nil
	case e.Type != events.AuctionFinalized:
		return nil
	case e.Winner.IsZero():
		log.Warn("finalized auction names no winner, skipping")
		return nil
	}

	recorded, err := a.payments.IsRecorded(ctx, e.Auction)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if recorded {
		log.Debug("payment already recorded")
		return nil
	}
	// Funds never move for a payment this agent cannot record.
	authorized, err := a.payments.IsRecorder(ctx, a.identity)
	if err != nil {
		return fmt.Errorf("check recorder: %w", err)
	}
	if !authorized {
		return core.Errorf(core.ErrNotRecorder, "%s is not an authorized recorder, not paying", a.identity)
	}

	var reference []byte
	err = a.retry(ctx, log, "pay", func() error {
		var err error
		reference, err = a.rail.Pay(ctx, e.Auction, e.Winner, e.Amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("pay %s: %w", e.Winner, err)
	}

	err = a.retry(ctx, log, "record_payment", func() error {
		_, err := a.payments.Record(ctx, a.identity, e.Auction, e.Winner, e.Amount, reference, a.clock.Now())
		return err
	})
	switch {
	case errors.Is(err, core.ErrAlreadyRecorded):
		log.Info("payment recorded elsewhere")
		return nil
	case err != nil:
		return fmt.Errorf("record payment: %w", err)
	}
	log.Info("payment settled",
		slog.String("winner", e.Winner.String()),
		slog.String("amount", e.Amount.Format(core.DefaultDecimals)),
		slog.String("reference", fmt.Sprintf("0x%x", reference)),
	)
	return nil
}

// retry runs fn until it succeeds, fails terminally or runs out of attempts.
// Ledger rejections are terminal unless their disposition is retry-later; any
// other error is treated as transient. The delay doubles after each failure up
// to maxBackoff.
func (a *Agent) retry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	backoff := a.backoff
	var err error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if kind, ok := core.KindOf(err); ok && kind.Disposition() != core.RetryLater {
			return err
		}
		if attempt == a.maxAttempts {
			break
		}
		log.Warn("attempt failed, will retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, a.maxBackoff)
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, a.maxAttempts, err)
}

// Package ledger implements the sealed-bid auction and payment audit operations
// on top of a store.Store.
//
// Every operation takes the caller identity and the current time explicitly.
// Authentication and the clock live at the service boundary.
package ledger

import (
	"context"
	"log/slog"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// Options configures a Ledger. Zero values select the defaults.
type Options struct {
	Windows    core.Windows
	MaxBidders int
	Scheme     core.CommitmentScheme
	Logger     *slog.Logger
	// Feed, when set, is notified after every committed operation.
	Feed *events.Feed
}

func (o Options) withDefaults() Options {
	if o.Windows.Commit <= 0 || o.Windows.Reveal <= 0 {
		o.Windows = core.DefaultWindows
	}
	if o.MaxBidders <= 0 {
		o.MaxBidders = core.DefaultMaxBidders
	}
	if o.Scheme == nil {
		o.Scheme = core.DefaultScheme
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Ledger wires the five components to one store.
type Ledger struct {
	Access      *AccessControl
	Auctions    *AuctionStore
	Commitments *CommitmentLedger
	Finalizer   *Finalizer
	Payments    *PaymentAuditLedger

	store  store.Store
	scheme core.CommitmentScheme
}

// New builds a Ledger over st.
func New(st store.Store, opts Options) *Ledger {
	opts = opts.withDefaults()
	b := base{store: st, feed: opts.Feed, log: opts.Logger}
	return &Ledger{
		Access:      &AccessControl{base: b.named("access")},
		Auctions:    &AuctionStore{base: b.named("auctions"), windows: opts.Windows},
		Commitments: &CommitmentLedger{base: b.named("commitments"), maxBidders: opts.MaxBidders, scheme: opts.Scheme},
		Finalizer:   &Finalizer{base: b.named("finalizer")},
		Payments:    &PaymentAuditLedger{base: b.named("payments")},
		store:       st,
		scheme:      opts.Scheme,
	}
}

// Scheme returns the commitment scheme reveals are verified against.
func (l *Ledger) Scheme() core.CommitmentScheme { return l.scheme }

// ComputeCommitmentHash computes a commitment with the ledger's scheme. It is a
// pure function; bidders call it off-path to build their commitments.
func (l *Ledger) ComputeCommitmentHash(id core.AuctionID, bidder core.Address, amount core.Amount, salt core.Salt) core.Digest {
	return l.scheme.Commit(id, bidder, amount, salt)
}

// Events replays the journal from seq, filtered.
func (l *Ledger) Events(ctx context.Context, from uint64, limit int, filter events.Filter) ([]events.Event, error) {
	evs, err := l.store.Events(ctx, from, limit)
	if err != nil {
		return nil, err
	}
	out := evs[:0]
	for _, e := range evs {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AuctionEvents returns the journal entries of one auction, optionally
// restricted to the given types.
func (l *Ledger) AuctionEvents(ctx context.Context, id core.AuctionID, types ...events.Type) ([]events.Event, error) {
	evs, err := l.store.AuctionEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	filter := events.Filter{Auction: &id, Types: types}
	out := evs[:0]
	for _, e := range evs {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Head returns the journal head.
func (l *Ledger) Head(ctx context.Context) (uint64, core.Digest, error) {
	return l.store.Head(ctx)
}

// base carries what every component shares.
type base struct {
	store store.Store
	feed  *events.Feed
	log   *slog.Logger
}

func (b base) named(component string) base {
	b.log = b.log.With(slog.String("component", component))
	return b
}

// update runs fn on key, logs the result and wakes the feed on success.
func (b base) update(ctx context.Context, op string, key store.Key, fn func(store.Tx) error, attrs ...slog.Attr) ([]events.Event, error) {
	evs, err := b.store.Update(ctx, key, fn)
	attrs = append(attrs, slog.String("op", op))
	if err != nil {
		if kind, ok := core.KindOf(err); ok {
			attrs = append(attrs,
				slog.String("kind", kind.String()),
				slog.String("code", core.CodeOf(err)),
				slog.String("disposition", string(kind.Disposition())))
			b.log.LogAttrs(ctx, slog.LevelWarn, "operation rejected", append(attrs, slog.String("error", err.Error()))...)
		} else {
			b.log.LogAttrs(ctx, slog.LevelError, "operation failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return nil, err
	}
	if len(evs) > 0 {
		attrs = append(attrs, slog.Uint64("seq", evs[len(evs)-1].Seq))
		if b.feed != nil {
			b.feed.Notify()
		}
	}
	b.log.LogAttrs(ctx, slog.LevelInfo, "operation committed", attrs...)
	return evs, nil
}

func (b base) view(ctx context.Context, fn func(store.Reader) error) error {
	return b.store.View(ctx, fn)
}

func auctionAttr(id core.AuctionID) slog.Attr { return slog.String("auction", id.Short()) }

func addrAttr(key string, a core.Address) slog.Attr { return slog.String(key, a.String()) }

func requireOwner(r store.Reader, caller core.Address) error {
	owner, err := r.Owner()
	if err != nil {
		return err
	}
	if owner.IsZero() || owner != caller {
		return core.Errorf(core.ErrNotOwner, "%s is not the owner", caller)
	}
	return nil
}

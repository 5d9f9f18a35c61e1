package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
)

// dialect captures what differs between the SQL backings.
type dialect struct {
	name string
	// numbered selects $1-style placeholders instead of ?.
	numbered bool
	// lock takes a transaction-scoped exclusive lock on name. A nil lock means
	// the backing already serializes transactions.
	lock func(ctx context.Context, tx *sql.Tx, name string) error
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// journalLockName orders journal appends across concurrent transactions.
const journalLockName = "sealbid:journal"

// SQL is a Store over database/sql, shared by the SQLite and PostgreSQL backings.
type SQL struct {
	db      *sql.DB
	dialect *dialect
}

var _ Store = (*SQL)(nil)

// DB returns the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) Update(ctx context.Context, key Key, fn func(Tx) error) ([]events.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.dialect.lock != nil {
		if err := s.dialect.lock(ctx, tx, string(key)); err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
	}

	stx := &sqlTx{ctx: ctx, tx: tx, d: s.dialect}
	if err := fn(stx); err != nil {
		return nil, err
	}

	sealed, err := s.appendJournal(ctx, tx, stx.emitted)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return sealed, nil
}

func (s *SQL) appendJournal(ctx context.Context, tx *sql.Tx, emitted []events.Event) ([]events.Event, error) {
	if len(emitted) == 0 {
		return nil, nil
	}
	if s.dialect.lock != nil {
		if err := s.dialect.lock(ctx, tx, journalLockName); err != nil {
			return nil, fmt.Errorf("lock journal: %w", err)
		}
	}

	seq, prev, err := head(ctx, tx, s.dialect)
	if err != nil {
		return nil, err
	}

	insert := s.dialect.rebind(`INSERT INTO journal (seq, type, auction_id, record, digest) VALUES (?, ?, ?, ?, ?)`)
	sealed := make([]events.Event, len(emitted))
	for i, e := range emitted {
		seq++
		if err := events.Seal(&e, seq, prev); err != nil {
			return nil, err
		}
		record, err := events.Encode(e)
		if err != nil {
			return nil, err
		}
		var auctionID sql.NullString
		if e.Type.AuctionScoped() {
			auctionID = sql.NullString{String: e.Auction.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, int64(e.Seq), string(e.Type), auctionID, record, e.Digest.String()); err != nil {
			return nil, fmt.Errorf("append journal seq %d: %w", e.Seq, err)
		}
		prev = e.Digest
		sealed[i] = e
	}
	return sealed, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func head(ctx context.Context, q queryRower, d *dialect) (uint64, core.Digest, error) {
	var (
		seq    int64
		digest string
	)
	err := q.QueryRowContext(ctx, d.rebind(`SELECT seq, digest FROM journal ORDER BY seq DESC LIMIT 1`)).Scan(&seq, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.Digest{}, nil
	}
	if err != nil {
		return 0, core.Digest{}, fmt.Errorf("read journal head: %w", err)
	}
	d32, err := core.ParseDigest(digest)
	if err != nil {
		return 0, core.Digest{}, fmt.Errorf("journal head digest: %w", err)
	}
	return uint64(seq), d32, nil
}

func (s *SQL) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqlTx{ctx: ctx, tx: tx, d: s.dialect})
}

func (s *SQL) Events(ctx context.Context, from uint64, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	return s.queryJournal(ctx, `SELECT record FROM journal WHERE seq >= ? ORDER BY seq LIMIT ?`, int64(from), limit)
}

// AuctionEvents reads through idx_journal_auction.
func (s *SQL) AuctionEvents(ctx context.Context, id core.AuctionID) ([]events.Event, error) {
	return s.queryJournal(ctx, `SELECT record FROM journal WHERE auction_id = ? ORDER BY seq`, id.String())
}

func (s *SQL) queryJournal(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e, err := events.Decode(record)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) Head(ctx context.Context) (uint64, core.Digest, error) {
	return head(ctx, s.db, s.dialect)
}

// sqlTx implements Tx over one database transaction.
type sqlTx struct {
	ctx     context.Context
	tx      *sql.Tx
	d       *dialect
	emitted []events.Event
}

func (t *sqlTx) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, t.d.rebind(query), args...)
	return err
}

func (t *sqlTx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) Auction(id core.AuctionID) (*core.Auction, error) {
	var (
		commitStart, commitEnd, revealEnd, finalizedAt int64
		finalized                                      bool
		winner, winningAmount                          string
		revealCounter, bidCount                        int64
	)
	err := t.queryRow(`SELECT commit_start, commit_end, reveal_end, finalized, finalized_at, winner, winning_amount, reveal_counter, bid_count
		FROM auctions WHERE id = ?`, id.String()).
		Scan(&commitStart, &commitEnd, &revealEnd, &finalized, &finalizedAt, &winner, &winningAmount, &revealCounter, &bidCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auction %s: %w", id.Short(), err)
	}

	a := &core.Auction{
		ID:            id,
		CommitStart:   fromNanos(commitStart),
		CommitEnd:     fromNanos(commitEnd),
		RevealEnd:     fromNanos(revealEnd),
		Finalized:     finalized,
		FinalizedAt:   fromNanos(finalizedAt),
		RevealCounter: uint64(revealCounter),
		BidCount:      uint32(bidCount),
	}
	if a.Winner, err = core.ParseAddress(winner); err != nil {
		return nil, fmt.Errorf("auction %s winner: %w", id.Short(), err)
	}
	if a.WinningAmount, err = core.ParseAmount(winningAmount); err != nil {
		return nil, fmt.Errorf("auction %s winning amount: %w", id.Short(), err)
	}

	rows, err := t.tx.QueryContext(t.ctx, t.d.rebind(`SELECT bidder FROM auction_bidders WHERE auction_id = ? ORDER BY position`), id.String())
	if err != nil {
		return nil, fmt.Errorf("read bidders of %s: %w", id.Short(), err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan bidder: %w", err)
		}
		bidder, err := core.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		a.BidderOrder = append(a.BidderOrder, bidder)
	}
	return a, rows.Err()
}

func (t *sqlTx) PutAuction(a *core.Auction) error {
	err := t.exec(`INSERT INTO auctions
		(id, commit_start, commit_end, reveal_end, finalized, finalized_at, winner, winning_amount, reveal_counter, bid_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			finalized = excluded.finalized,
			finalized_at = excluded.finalized_at,
			winner = excluded.winner,
			winning_amount = excluded.winning_amount,
			reveal_counter = excluded.reveal_counter,
			bid_count = excluded.bid_count`,
		a.ID.String(), toNanos(a.CommitStart), toNanos(a.CommitEnd), toNanos(a.RevealEnd),
		a.Finalized, toNanos(a.FinalizedAt), a.Winner.String(), a.WinningAmount.String(),
		int64(a.RevealCounter), int64(a.BidCount))
	if err != nil {
		return fmt.Errorf("write auction %s: %w", a.ID.Short(), err)
	}

	// Bidder order is append-only: existing positions never change.
	for i, bidder := range a.BidderOrder {
		err := t.exec(`INSERT INTO auction_bidders (auction_id, position, bidder) VALUES (?, ?, ?)
			ON CONFLICT (auction_id, position) DO NOTHING`, a.ID.String(), i, bidder.String())
		if err != nil {
			return fmt.Errorf("write bidder order of %s: %w", a.ID.Short(), err)
		}
	}
	return nil
}

func scanCommitment(id core.AuctionID, bidder, hash string, revealed bool, amount string, order int64) (*core.BidCommitment, error) {
	c := &core.BidCommitment{AuctionID: id, Revealed: revealed, RevealOrder: uint64(order)}
	var err error
	if c.Bidder, err = core.ParseAddress(bidder); err != nil {
		return nil, err
	}
	if c.Hash, err = core.ParseDigest(hash); err != nil {
		return nil, err
	}
	if c.RevealedAmount, err = core.ParseAmount(amount); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *sqlTx) Commitment(id core.AuctionID, bidder core.Address) (*core.BidCommitment, error) {
	var (
		hash, amount string
		revealed     bool
		order        int64
	)
	err := t.queryRow(`SELECT hash, revealed, revealed_amount, reveal_order FROM commitments WHERE auction_id = ? AND bidder = ?`,
		id.String(), bidder.String()).Scan(&hash, &revealed, &amount, &order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read commitment: %w", err)
	}
	return scanCommitment(id, bidder.String(), hash, revealed, amount, order)
}

func (t *sqlTx) Commitments(id core.AuctionID) (map[core.Address]*core.BidCommitment, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.d.rebind(`SELECT bidder, hash, revealed, revealed_amount, reveal_order FROM commitments WHERE auction_id = ?`), id.String())
	if err != nil {
		return nil, fmt.Errorf("read commitments: %w", err)
	}
	defer rows.Close()

	out := make(map[core.Address]*core.BidCommitment)
	for rows.Next() {
		var (
			bidder, hash, amount string
			revealed             bool
			order                int64
		)
		if err := rows.Scan(&bidder, &hash, &revealed, &amount, &order); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		c, err := scanCommitment(id, bidder, hash, revealed, amount, order)
		if err != nil {
			return nil, err
		}
		out[c.Bidder] = c
	}
	return out, rows.Err()
}

func (t *sqlTx) PutCommitment(c *core.BidCommitment) error {
	err := t.exec(`INSERT INTO commitments (auction_id, bidder, hash, revealed, revealed_amount, reveal_order)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (auction_id, bidder) DO UPDATE SET
			hash = excluded.hash,
			revealed = excluded.revealed,
			revealed_amount = excluded.revealed_amount,
			reveal_order = excluded.reveal_order`,
		c.AuctionID.String(), c.Bidder.String(), c.Hash.String(), c.Revealed, c.RevealedAmount.String(), int64(c.RevealOrder))
	if err != nil {
		return fmt.Errorf("write commitment: %w", err)
	}
	return nil
}

func (t *sqlTx) Payment(id core.AuctionID) (*core.PaymentRecord, error) {
	var (
		winner, amount string
		ref            []byte
		recordedAt     int64
		recorded       bool
	)
	err := t.queryRow(`SELECT winner, amount_paid, external_reference, recorded_at, recorded FROM payments WHERE auction_id = ?`, id.String()).
		Scan(&winner, &amount, &ref, &recordedAt, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payment: %w", err)
	}

	p := &core.PaymentRecord{AuctionID: id, ExternalReference: ref, Timestamp: fromNanos(recordedAt), Recorded: recorded}
	if p.Winner, err = core.ParseAddress(winner); err != nil {
		return nil, err
	}
	if p.AmountPaid, err = core.ParseAmount(amount); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *sqlTx) PutPayment(p *core.PaymentRecord) error {
	err := t.exec(`INSERT INTO payments (auction_id, winner, amount_paid, external_reference, recorded_at, recorded)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (auction_id) DO UPDATE SET
			winner = excluded.winner,
			amount_paid = excluded.amount_paid,
			external_reference = excluded.external_reference,
			recorded_at = excluded.recorded_at,
			recorded = excluded.recorded`,
		p.AuctionID.String(), p.Winner.String(), p.AmountPaid.String(), p.ExternalReference, toNanos(p.Timestamp), p.Recorded)
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}
	return nil
}

func (t *sqlTx) Owner() (core.Address, error) {
	var owner string
	err := t.queryRow(`SELECT owner FROM access_owner WHERE id = 1`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Address{}, nil
	}
	if err != nil {
		return core.Address{}, fmt.Errorf("read owner: %w", err)
	}
	return core.ParseAddress(owner)
}

func (t *sqlTx) SetOwner(owner core.Address) error {
	err := t.exec(`INSERT INTO access_owner (id, owner) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET owner = excluded.owner`, owner.String())
	if err != nil {
		return fmt.Errorf("write owner: %w", err)
	}
	return nil
}

func (t *sqlTx) HasRole(role Role, addr core.Address) (bool, error) {
	var n int
	err := t.queryRow(`SELECT COUNT(*) FROM access_roles WHERE role = ? AND address = ?`, string(role), addr.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read %s membership: %w", role, err)
	}
	return n > 0, nil
}

func (t *sqlTx) Members(role Role) ([]core.Address, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.d.rebind(`SELECT address FROM access_roles WHERE role = ? ORDER BY address`), string(role))
	if err != nil {
		return nil, fmt.Errorf("read %s members: %w", role, err)
	}
	defer rows.Close()

	out := []core.Address{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		addr, err := core.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (t *sqlTx) SetRole(role Role, addr core.Address, member bool) error {
	var err error
	if member {
		err = t.exec(`INSERT INTO access_roles (role, address) VALUES (?, ?) ON CONFLICT (role, address) DO NOTHING`, string(role), addr.String())
	} else {
		err = t.exec(`DELETE FROM access_roles WHERE role = ? AND address = ?`, string(role), addr.String())
	}
	if err != nil {
		return fmt.Errorf("write %s membership: %w", role, err)
	}
	return nil
}

func (t *sqlTx) Emit(e events.Event) {
	t.emitted = append(t.emitted, e)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func sortAddresses(addrs []core.Address) {
	slices.SortFunc(addrs, func(a, b core.Address) int { return bytes.Compare(a[:], b[:]) })
}

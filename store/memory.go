package store

import (
	"context"
	"slices"
	"sync"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
)

// Memory is an in-process Store. Transactions on the same key run one at a time;
// transactions on different keys only contend for the short commit step.
type Memory struct {
	locks keyLocks

	mu          sync.RWMutex
	auctions    map[core.AuctionID]*core.Auction
	commitments map[core.AuctionID]map[core.Address]*core.BidCommitment
	payments    map[core.AuctionID]*core.PaymentRecord
	owner       core.Address
	roles       map[Role]map[core.Address]bool
	journal     []events.Event
	byAuction   map[core.AuctionID][]int // journal indexes
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		locks:       keyLocks{held: make(map[Key]*keyLock)},
		auctions:    make(map[core.AuctionID]*core.Auction),
		commitments: make(map[core.AuctionID]map[core.Address]*core.BidCommitment),
		payments:    make(map[core.AuctionID]*core.PaymentRecord),
		byAuction:   make(map[core.AuctionID][]int),
		roles: map[Role]map[core.Address]bool{
			RoleBidder:   {},
			RoleRecorder: {},
		},
	}
}

func (m *Memory) Update(ctx context.Context, key Key, fn func(Tx) error) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.locks.lock(key)
	defer unlock()

	tx := newMemTx(m)
	if err := fn(tx); err != nil {
		return nil, err
	}
	return m.apply(tx)
}

func (m *Memory) apply(tx *memTx) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Seal first so an encoding failure leaves committed state untouched.
	seq := uint64(len(m.journal))
	var prev core.Digest
	if seq > 0 {
		prev = m.journal[seq-1].Digest
	}
	sealed := make([]events.Event, len(tx.emitted))
	for i, e := range tx.emitted {
		seq++
		if err := events.Seal(&e, seq, prev); err != nil {
			return nil, err
		}
		prev = e.Digest
		sealed[i] = e
	}

	for id, a := range tx.auctions {
		m.auctions[id] = a
	}
	for k, c := range tx.commitments {
		byBidder := m.commitments[k.auction]
		if byBidder == nil {
			byBidder = make(map[core.Address]*core.BidCommitment)
			m.commitments[k.auction] = byBidder
		}
		byBidder[k.bidder] = c
	}
	for id, p := range tx.payments {
		m.payments[id] = p
	}
	if tx.owner != nil {
		m.owner = *tx.owner
	}
	for k, member := range tx.roles {
		if member {
			m.roles[k.role][k.addr] = true
		} else {
			delete(m.roles[k.role], k.addr)
		}
	}
	for _, e := range sealed {
		if e.Type.AuctionScoped() {
			m.byAuction[e.Auction] = append(m.byAuction[e.Auction], len(m.journal))
		}
		m.journal = append(m.journal, e)
	}
	return sealed, nil
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memReader{m})
}

func (m *Memory) Events(ctx context.Context, from uint64, limit int) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	if from > uint64(len(m.journal)) {
		return nil, nil
	}
	out := m.journal[from-1:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return slices.Clone(out), nil
}

func (m *Memory) AuctionEvents(ctx context.Context, id core.AuctionID) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byAuction[id]
	out := make([]events.Event, len(idx))
	for i, j := range idx {
		out[i] = m.journal[j]
	}
	return out, nil
}

func (m *Memory) Head(ctx context.Context) (uint64, core.Digest, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.Digest{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.journal)
	if n == 0 {
		return 0, core.Digest{}, nil
	}
	return uint64(n), m.journal[n-1].Digest, nil
}

func (m *Memory) Close() error { return nil }

// memReader reads committed state. Callers hold m.mu.
type memReader struct{ m *Memory }

func (r memReader) Auction(id core.AuctionID) (*core.Auction, error) {
	if a := r.m.auctions[id]; a != nil {
		return a.Clone(), nil
	}
	return nil, nil
}

func (r memReader) Commitment(id core.AuctionID, bidder core.Address) (*core.BidCommitment, error) {
	if c := r.m.commitments[id][bidder]; c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r memReader) Commitments(id core.AuctionID) (map[core.Address]*core.BidCommitment, error) {
	out := make(map[core.Address]*core.BidCommitment, len(r.m.commitments[id]))
	for bidder, c := range r.m.commitments[id] {
		cp := *c
		out[bidder] = &cp
	}
	return out, nil
}

func (r memReader) Payment(id core.AuctionID) (*core.PaymentRecord, error) {
	if p := r.m.payments[id]; p != nil {
		return clonePayment(p), nil
	}
	return nil, nil
}

func (r memReader) Owner() (core.Address, error) { return r.m.owner, nil }

func (r memReader) HasRole(role Role, addr core.Address) (bool, error) {
	return r.m.roles[role][addr], nil
}

func (r memReader) Members(role Role) ([]core.Address, error) {
	out := make([]core.Address, 0, len(r.m.roles[role]))
	for addr := range r.m.roles[role] {
		out = append(out, addr)
	}
	sortAddresses(out)
	return out, nil
}

type commitKey struct {
	auction core.AuctionID
	bidder  core.Address
}

type roleKey struct {
	role Role
	addr core.Address
}

// memTx overlays staged writes on committed state.
type memTx struct {
	m *Memory

	auctions    map[core.AuctionID]*core.Auction
	commitments map[commitKey]*core.BidCommitment
	payments    map[core.AuctionID]*core.PaymentRecord
	owner       *core.Address
	roles       map[roleKey]bool
	emitted     []events.Event
}

func newMemTx(m *Memory) *memTx {
	return &memTx{
		m:           m,
		auctions:    make(map[core.AuctionID]*core.Auction),
		commitments: make(map[commitKey]*core.BidCommitment),
		payments:    make(map[core.AuctionID]*core.PaymentRecord),
		roles:       make(map[roleKey]bool),
	}
}

func (tx *memTx) committed(fn func(memReader)) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	fn(memReader{tx.m})
}

func (tx *memTx) Auction(id core.AuctionID) (a *core.Auction, err error) {
	if staged, ok := tx.auctions[id]; ok {
		return staged.Clone(), nil
	}
	tx.committed(func(r memReader) { a, err = r.Auction(id) })
	return a, err
}

func (tx *memTx) Commitment(id core.AuctionID, bidder core.Address) (c *core.BidCommitment, err error) {
	if staged, ok := tx.commitments[commitKey{id, bidder}]; ok {
		cp := *staged
		return &cp, nil
	}
	tx.committed(func(r memReader) { c, err = r.Commitment(id, bidder) })
	return c, err
}

func (tx *memTx) Commitments(id core.AuctionID) (out map[core.Address]*core.BidCommitment, err error) {
	tx.committed(func(r memReader) { out, err = r.Commitments(id) })
	for k, c := range tx.commitments {
		if k.auction == id {
			cp := *c
			out[k.bidder] = &cp
		}
	}
	return out, err
}

func (tx *memTx) Payment(id core.AuctionID) (p *core.PaymentRecord, err error) {
	if staged, ok := tx.payments[id]; ok {
		return clonePayment(staged), nil
	}
	tx.committed(func(r memReader) { p, err = r.Payment(id) })
	return p, err
}

func (tx *memTx) Owner() (owner core.Address, err error) {
	if tx.owner != nil {
		return *tx.owner, nil
	}
	tx.committed(func(r memReader) { owner, err = r.Owner() })
	return owner, err
}

func (tx *memTx) HasRole(role Role, addr core.Address) (member bool, err error) {
	if staged, ok := tx.roles[roleKey{role, addr}]; ok {
		return staged, nil
	}
	tx.committed(func(r memReader) { member, err = r.HasRole(role, addr) })
	return member, err
}

func (tx *memTx) Members(role Role) ([]core.Address, error) {
	set := make(map[core.Address]bool)
	tx.committed(func(r memReader) {
		for addr := range r.m.roles[role] {
			set[addr] = true
		}
	})
	for k, member := range tx.roles {
		if k.role == role {
			set[k.addr] = member
		}
	}
	out := make([]core.Address, 0, len(set))
	for addr, member := range set {
		if member {
			out = append(out, addr)
		}
	}
	sortAddresses(out)
	return out, nil
}

func (tx *memTx) PutAuction(a *core.Auction) error {
	tx.auctions[a.ID] = a.Clone()
	return nil
}

func (tx *memTx) PutCommitment(c *core.BidCommitment) error {
	cp := *c
	tx.commitments[commitKey{c.AuctionID, c.Bidder}] = &cp
	return nil
}

func (tx *memTx) PutPayment(p *core.PaymentRecord) error {
	tx.payments[p.AuctionID] = clonePayment(p)
	return nil
}

func (tx *memTx) SetOwner(owner core.Address) error {
	tx.owner = &owner
	return nil
}

func (tx *memTx) SetRole(role Role, addr core.Address, member bool) error {
	tx.roles[roleKey{role, addr}] = member
	return nil
}

func (tx *memTx) Emit(e events.Event) {
	tx.emitted = append(tx.emitted, e)
}

func clonePayment(p *core.PaymentRecord) *core.PaymentRecord {
	cp := *p
	cp.ExternalReference = slices.Clone(p.ExternalReference)
	return &cp
}

// keyLocks hands out one mutex per key, dropping it once nobody holds or waits
// on it.
type keyLocks struct {
	mu   sync.Mutex
	held map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) lock(key Key) (unlock func()) {
	l.mu.Lock()
	kl := l.held[key]
	if kl == nil {
		kl = &keyLock{}
		l.held[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}

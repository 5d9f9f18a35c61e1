package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// AccessControl holds the owner identity, the bidder whitelist and the set of
// authorized payment recorders. Every change requires the caller to be the
// current owner.
type AccessControl struct {
	base
}

// Bootstrap installs the initial owner and memberships on a store that has no
// owner yet. It reports whether anything was applied.
func (ac *AccessControl) Bootstrap(ctx context.Context, owner core.Address, bidders, recorders []core.Address, now time.Time) (bool, error) {
	if owner.IsZero() {
		return false, core.Errorf(core.ErrMalformedInput, "bootstrap owner must not be the zero address")
	}
	for _, members := range [][]core.Address{bidders, recorders} {
		for _, m := range members {
			if m.IsZero() {
				return false, core.Errorf(core.ErrMalformedInput, "bootstrap members must not be the zero address")
			}
		}
	}
	applied := false
	_, err := ac.update(ctx, "bootstrap", store.AccessKey, func(tx store.Tx) error {
		current, err := tx.Owner()
		if err != nil {
			return err
		}
		if !current.IsZero() {
			return nil
		}
		applied = true

		if err := tx.SetOwner(owner); err != nil {
			return err
		}
		tx.Emit(events.Event{Type: events.OwnershipTransferred, At: now, Subject: owner})
		for _, b := range bidders {
			if err := tx.SetRole(store.RoleBidder, b, true); err != nil {
				return err
			}
			tx.Emit(events.Event{Type: events.BidderAdded, At: now, Actor: owner, Subject: b})
		}
		for _, r := range recorders {
			if err := tx.SetRole(store.RoleRecorder, r, true); err != nil {
				return err
			}
			tx.Emit(events.Event{Type: events.RecorderAuthorized, At: now, Actor: owner, Subject: r})
		}
		return nil
	}, addrAttr("owner", owner))
	return applied, err
}

// TransferOwnership hands ownership to newOwner in a single step. There is no
// acceptance handshake: a transfer to an unreachable identity cannot be undone.
func (ac *AccessControl) TransferOwnership(ctx context.Context, caller, newOwner core.Address, now time.Time) error {
	_, err := ac.update(ctx, "transfer_ownership", store.AccessKey, func(tx store.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if newOwner.IsZero() {
			return core.Errorf(core.ErrMalformedInput, "new owner must not be the zero address")
		}
		if err := tx.SetOwner(newOwner); err != nil {
			return err
		}
		tx.Emit(events.Event{Type: events.OwnershipTransferred, At: now, Actor: caller, Subject: newOwner})
		return nil
	}, addrAttr("caller", caller), addrAttr("new_owner", newOwner))
	return err
}

func (ac *AccessControl) AddBidder(ctx context.Context, caller, bidder core.Address, now time.Time) error {
	return ac.setRole(ctx, "add_bidder", caller, store.RoleBidder, bidder, true, events.BidderAdded, now)
}

func (ac *AccessControl) RemoveBidder(ctx context.Context, caller, bidder core.Address, now time.Time) error {
	return ac.setRole(ctx, "remove_bidder", caller, store.RoleBidder, bidder, false, events.BidderRemoved, now)
}

func (ac *AccessControl) AuthorizeRecorder(ctx context.Context, caller, recorder core.Address, now time.Time) error {
	return ac.setRole(ctx, "authorize_recorder", caller, store.RoleRecorder, recorder, true, events.RecorderAuthorized, now)
}

func (ac *AccessControl) RevokeRecorder(ctx context.Context, caller, recorder core.Address, now time.Time) error {
	return ac.setRole(ctx, "revoke_recorder", caller, store.RoleRecorder, recorder, false, events.RecorderRevoked, now)
}

func (ac *AccessControl) setRole(ctx context.Context, op string, caller core.Address, role store.Role, subject core.Address, member bool, typ events.Type, now time.Time) error {
	_, err := ac.update(ctx, op, store.AccessKey, func(tx store.Tx) error {
		if err := requireOwner(tx, caller); err != nil {
			return err
		}
		if subject.IsZero() {
			return core.Errorf(core.ErrMalformedInput, "%s must not be the zero address", role)
		}
		if err := tx.SetRole(role, subject, member); err != nil {
			return err
		}
		tx.Emit(events.Event{Type: typ, At: now, Actor: caller, Subject: subject})
		return nil
	}, addrAttr("caller", caller), addrAttr(string(role), subject))
	return err
}

// Owner returns the current owner; the zero address before bootstrap.
func (ac *AccessControl) Owner(ctx context.Context) (owner core.Address, err error) {
	err = ac.view(ctx, func(r store.Reader) error {
		owner, err = r.Owner()
		return err
	})
	return owner, err
}

func (ac *AccessControl) IsBidder(ctx context.Context, addr core.Address) (bool, error) {
	return ac.hasRole(ctx, store.RoleBidder, addr)
}

func (ac *AccessControl) IsRecorder(ctx context.Context, addr core.Address) (bool, error) {
	return ac.hasRole(ctx, store.RoleRecorder, addr)
}

func (ac *AccessControl) hasRole(ctx context.Context, role store.Role, addr core.Address) (member bool, err error) {
	err = ac.view(ctx, func(r store.Reader) error {
		member, err = r.HasRole(role, addr)
		return err
	})
	return member, err
}

// Snapshot is the full membership state.
type Snapshot struct {
	Owner     core.Address   `json:"owner"`
	Bidders   []core.Address `json:"bidders"`
	Recorders []core.Address `json:"recorders"`
}

// Snapshot reads owner and both membership sets consistently.
func (ac *AccessControl) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	err := ac.view(ctx, func(r store.Reader) error {
		var err error
		if s.Owner, err = r.Owner(); err != nil {
			return err
		}
		if s.Bidders, err = r.Members(store.RoleBidder); err != nil {
			return err
		}
		s.Recorders, err = r.Members(store.RoleRecorder)
		return err
	})
	if err != nil {
		ac.log.LogAttrs(ctx, slog.LevelError, "read access snapshot", slog.String("error", err.Error()))
		return nil, err
	}
	return &s, nil
}

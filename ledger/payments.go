package ledger

import (
	"context"
	"slices"
	"time"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/store"
)

// PaymentAuditLedger keeps one write-once record per auction id proving that an
// out-of-band payment happened.
//
// The winner and amount are taken from the authorized recorder as given; they are
// not checked against the auction's finalized outcome.
type PaymentAuditLedger struct {
	base
}

// Record stores the payment record for id.
func (p *PaymentAuditLedger) Record(ctx context.Context, caller core.Address, id core.AuctionID, winner core.Address, amount core.Amount, reference []byte, now time.Time) (*core.PaymentRecord, error) {
	var rec *core.PaymentRecord
	_, err := p.update(ctx, "record_payment", store.PaymentKey(id), func(tx store.Tx) error {
		authorized, err := tx.HasRole(store.RoleRecorder, caller)
		if err != nil {
			return err
		}
		if !authorized {
			return core.Errorf(core.ErrNotRecorder, "%s is not an authorized recorder", caller)
		}
		if winner.IsZero() {
			return core.Errorf(core.ErrNullWinner, "payment for auction %s names no winner", id.Short())
		}
		if amount.IsZero() {
			return core.Errorf(core.ErrInvalidAmount, "payment for auction %s has zero amount", id.Short())
		}

		existing, err := tx.Payment(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return core.Errorf(core.ErrAlreadyRecorded, "payment for auction %s recorded at %s", id.Short(), existing.Timestamp.Format(time.RFC3339))
		}

		rec = &core.PaymentRecord{
			AuctionID:         id,
			Winner:            winner,
			AmountPaid:        amount,
			ExternalReference: slices.Clone(reference),
			Timestamp:         now,
			Recorded:          true,
		}
		if err := tx.PutPayment(rec); err != nil {
			return err
		}
		tx.Emit(events.Event{
			Type:      events.PaymentRecorded,
			At:        now,
			Actor:     caller,
			Auction:   id,
			Winner:    winner,
			Amount:    amount,
			Reference: rec.ExternalReference,
		})
		return nil
	}, auctionAttr(id), addrAttr("recorder", caller), addrAttr("winner", winner))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the payment record for id.
func (p *PaymentAuditLedger) Get(ctx context.Context, id core.AuctionID) (*core.PaymentRecord, error) {
	rec, err := p.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, core.Errorf(core.ErrNoPayment, "no payment recorded for auction %s", id.Short())
	}
	return rec, nil
}

// IsRecorded reports whether a payment record exists for id.
func (p *PaymentAuditLedger) IsRecorded(ctx context.Context, id core.AuctionID) (bool, error) {
	rec, err := p.lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Recorded, nil
}

// IsRecorder reports whether addr may record payments.
func (p *PaymentAuditLedger) IsRecorder(ctx context.Context, addr core.Address) (member bool, err error) {
	err = p.view(ctx, func(r store.Reader) error {
		member, err = r.HasRole(store.RoleRecorder, addr)
		return err
	})
	return member, err
}

func (p *PaymentAuditLedger) lookup(ctx context.Context, id core.AuctionID) (rec *core.PaymentRecord, err error) {
	err = p.view(ctx, func(r store.Reader) error {
		rec, err = r.Payment(id)
		return err
	})
	return rec, err
}

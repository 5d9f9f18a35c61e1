package agent

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/cloudx-io/sealbid/core"
)

// Rail is the external payment system the agent settles winners on. The ledger
// never moves funds; it only records what a Rail reports.
type Rail interface {
	// Pay transfers amount to winner for auction id and returns the rail's
	// reference for the transfer (a transaction hash, for example).
	//
	// The auction id is the idempotency key: once a transfer for id succeeded,
	// later calls return its reference without moving funds again.
	Pay(ctx context.Context, id core.AuctionID, winner core.Address, amount core.Amount) (reference []byte, err error)
}

// SimulatedRail pretends to pay and returns a random 32-byte reference.
type SimulatedRail struct {
	// Rand defaults to crypto/rand.
	Rand   io.Reader
	Logger *slog.Logger

	mu   sync.Mutex
	paid map[core.AuctionID][]byte
}

func (r *SimulatedRail) Pay(ctx context.Context, id core.AuctionID, winner core.Address, amount core.Amount) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.paid[id]; ok {
		if r.Logger != nil {
			r.Logger.Info("simulated payment already sent", slog.String("auction", id.Short()))
		}
		return slices.Clone(ref), nil
	}

	src := r.Rand
	if src == nil {
		src = rand.Reader
	}
	ref := make([]byte, 32)
	if _, err := io.ReadFull(src, ref); err != nil {
		return nil, fmt.Errorf("simulated rail: generate reference: %w", err)
	}

	if r.paid == nil {
		r.paid = make(map[core.AuctionID][]byte)
	}
	r.paid[id] = ref

	if r.Logger != nil {
		r.Logger.Info("simulated payment sent",
			slog.String("auction", id.Short()),
			slog.String("winner", winner.String()),
			slog.String("amount", amount.Format(core.DefaultDecimals)),
			slog.String("reference", fmt.Sprintf("0x%x", ref)),
		)
	}
	return slices.Clone(ref), nil
}

// Payments returns how many transfers the rail has made.
func (r *SimulatedRail) Payments() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paid)
}

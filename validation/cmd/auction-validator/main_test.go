package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledger"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/receipt"
	"github.com/cloudx-io/sealbid/store"
)

var t0 = time.Date(2026, 1, 24, 9, 0, 0, 0, time.UTC)

// writeScenario runs a two-bidder auction and writes the journal, receipt and
// receipt key into dir, the way an auditor would save them from the API.
func writeScenario(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	owner, a, b := core.Address{0x01}, core.Address{0x0a}, core.Address{0x0b}

	l := ledger.New(store.NewMemory(), ledger.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := l.Access.Bootstrap(ctx, owner, []core.Address{a, b}, nil, t0)
	assert.NoError(t, err)
	id := core.AuctionIDFromBundle("cli")
	auction, err := l.Auctions.Create(ctx, owner, id, t0)
	assert.NoError(t, err)

	bids := map[core.Address]string{a: "0.9", b: "0.4"}
	for _, bidder := range []core.Address{a, b} {
		hash := l.ComputeCommitmentHash(id, bidder, core.MustParseUnits(bids[bidder], 18), core.Salt{bidder[0]})
		_, err := l.Commitments.Commit(ctx, bidder, id, hash, t0)
		assert.NoError(t, err)
	}
	for _, bidder := range []core.Address{a, b} {
		_, err := l.Commitments.Reveal(ctx, bidder, id, core.MustParseUnits(bids[bidder], 18), core.Salt{bidder[0]}, auction.CommitEnd)
		assert.NoError(t, err)
	}
	_, err = l.Finalizer.Finalize(ctx, owner, id, auction.RevealEnd)
	assert.NoError(t, err)

	evs, err := l.Events(ctx, 1, 0, events.Filter{})
	assert.NoError(t, err)
	journal, err := json.Marshal(ledgerapi.EventsResponse{Events: evs, Next: uint64(len(evs)) + 1, Head: uint64(len(evs))})
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "journal.json"), journal, 0o600))

	signer, err := receipt.GenerateSigner()
	assert.NoError(t, err)
	final := evs[len(evs)-1]
	finalized, err := l.Auctions.Get(ctx, id)
	assert.NoError(t, err)
	r, err := receipt.FromAuction(finalized, final.Seq, final.Digest)
	assert.NoError(t, err)
	signed, err := signer.Sign(r)
	assert.NoError(t, err)
	resp, err := json.Marshal(ledgerapi.ReceiptResponse{Receipt: r, Signed: ledgerapi.EncodeCOSE(signed)})
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "receipt.json"), resp, 0o600))

	pemKey, err := signer.PublicKeyPEM()
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), []byte(pemKey), 0o600))
}

func TestRun_Passes(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"--journal", filepath.Join(dir, "journal.json"),
		"--bundle", "cli",
		"--receipt", filepath.Join(dir, "receipt.json"),
		"--receipt-key", filepath.Join(dir, "key.pem"),
		"--bidder", core.Address{0x0b}.String(),
		"--expect-winner",
		"--expect-amount", "0.4",
	}, &stdout, &stderr)

	check.Equal(t, exitValid, code)
	check.Equal(t, "", stderr.String())
	check.True(t, strings.Contains(stdout.String(), "VALIDATION: ✓ PASSED"))
	check.True(t, strings.Contains(stdout.String(), "won at 0.4"))
}

func TestRun_FailedExpectationJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"--journal", filepath.Join(dir, "journal.json"),
		"--bundle", "cli",
		"--bidder", core.Address{0x0a}.String(),
		"--expect-winner",
		"--format", "json",
	}, &stdout, &stderr)
	check.Equal(t, exitInvalid, code)

	var out map[string]any
	assert.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	check.Equal(t, any(false), out["valid"])
	check.Equal(t, any(false), out["winner_valid"])
	check.Equal(t, any(true), out["chain_valid"])
}

func TestRun_InputErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	check.Equal(t, exitInvalid, run(nil, &stdout, &stderr))
	check.Equal(t, exitValid, run([]string{"--help"}, &stdout, &stderr))
	check.Equal(t, exitInvalid, run([]string{"--journal", "[]", "--bundle", "x", "--receipt", "{}"}, &stdout, &stderr))
	check.Equal(t, exitError, run([]string{"--journal", "not json", "--bundle", "x"}, &stdout, &stderr))
	check.Equal(t, exitError, run([]string{"--journal", `{"events":[]}`, "--bundle", "x"}, &stdout, &stderr))

	dir := t.TempDir()
	writeScenario(t, dir)
	check.Equal(t, exitError, run([]string{"--journal", filepath.Join(dir, "journal.json"), "--bundle", "unknown"}, &stdout, &stderr))
}

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/receipt"
)

// ErrNoSigner is returned by the receipt endpoint when no signing key is
// configured.
var ErrNoSigner = errors.New("receipt signing is not configured")

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

func auctionParam(r *http.Request) (core.AuctionID, error) {
	id, err := core.ParseAuctionID(chi.URLParam(r, "auctionID"))
	if err != nil {
		return id, core.Errorf(core.ErrMalformedInput, "auction id: %v", err)
	}
	return id, nil
}

func addressParam(r *http.Request, name string) (core.Address, error) {
	addr, err := core.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return addr, core.Errorf(core.ErrMalformedInput, "%s: %v", name, err)
	}
	return addr, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	head, digest, err := s.ledger.Head(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.HealthResponse{
		Status:    "ok",
		Head:      head,
		Digest:    digest,
		Scheme:    s.ledger.Scheme().Name(),
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledgerapi.CreateAuctionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := req.ID()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.clock.Now()
	a, err := s.ledger.Auctions.Create(r.Context(), caller, id, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledgerapi.AuctionResponse{Auction: a, Phase: core.PhaseOf(a, now)})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.ledger.Auctions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.AuctionResponse{Auction: a, Phase: core.PhaseOf(a, s.clock.Now())})
}

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.clock.Now()
	phase, err := s.ledger.Auctions.Phase(r.Context(), id, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.PhaseResponse{Auction: id, Phase: phase, At: now})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledgerapi.CommitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.Commitments.Commit(r.Context(), caller, id, req.Hash, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bidder, err := addressParam(r, "bidder")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.Commitments.Get(r.Context(), id, bidder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledgerapi.RevealRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.Commitments.Reveal(r.Context(), caller, id, req.Amount, req.Salt, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome, err := s.ledger.Finalizer.Finalize(r.Context(), caller, id, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.NewFinalizeResponse(id, outcome))
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranking, err := s.ledger.Finalizer.Ranking(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.NewRankingResponse(id, ranking))
}

// handleReceipt signs the receipt of a finalized auction, anchored to the
// journal entry that froze its outcome.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		s.writeError(w, r, ErrNoSigner)
		return
	}
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.ledger.Auctions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !a.Finalized {
		s.writeError(w, r, core.Errorf(core.ErrNotReady, "auction %s is not finalized", id.Short()))
		return
	}
	finals, err := s.ledger.AuctionEvents(r.Context(), id, events.AuctionFinalized, events.AuctionUnsold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(finals) == 0 {
		s.writeError(w, r, errors.New("finalized auction has no finalize event in the journal"))
		return
	}
	final := finals[0]

	rec, err := receipt.FromAuction(a, final.Seq, final.Digest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := s.signer.Sign(rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pemKey, err := s.signer.PublicKeyPEM()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.ReceiptResponse{
		Receipt:   rec,
		Signed:    ledgerapi.EncodeCOSE(signed),
		KeyID:     s.signer.KeyID(),
		PublicKey: pemKey,
	})
}

func (s *Server) handleCommitmentHash(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.CommitmentHashRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	scheme := s.ledger.Scheme()
	if req.Scheme != "" {
		var err error
		if scheme, err = core.SchemeByName(req.Scheme); err != nil {
			s.writeError(w, r, core.Errorf(core.ErrMalformedInput, "%v", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, ledgerapi.CommitmentHashResponse{
		Hash:   scheme.Commit(req.AuctionID, req.Bidder, req.Amount, req.Salt),
		Scheme: scheme.Name(),
	})
}

func (s *Server) handleSetBidder(member bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		addr, err := addressParam(r, "address")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if member {
			err = s.ledger.Access.AddBidder(r.Context(), caller, addr, s.clock.Now())
		} else {
			err = s.ledger.Access.RemoveBidder(r.Context(), caller, addr, s.clock.Now())
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeMembership(w, r, addr)
	}
}

func (s *Server) handleSetRecorder(member bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		addr, err := addressParam(r, "address")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if member {
			err = s.ledger.Access.AuthorizeRecorder(r.Context(), caller, addr, s.clock.Now())
		} else {
			err = s.ledger.Access.RevokeRecorder(r.Context(), caller, addr, s.clock.Now())
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeMembership(w, r, addr)
	}
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledgerapi.OwnerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Access.TransferOwnership(r.Context(), caller, req.Owner, s.clock.Now()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMembership(w, r, req.Owner)
}

// handleAccess lists every role; ?address= also reports that address's roles.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var addr core.Address
	if v := r.URL.Query().Get("address"); v != "" {
		var err error
		if addr, err = core.ParseAddress(v); err != nil {
			s.writeError(w, r, core.Errorf(core.ErrMalformedInput, "address: %v", err))
			return
		}
	}
	s.writeMembership(w, r, addr)
}

func (s *Server) writeMembership(w http.ResponseWriter, r *http.Request, addr core.Address) {
	snap, err := s.ledger.Access.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ledgerapi.AccessResponse{Owner: snap.Owner, Bidders: snap.Bidders, Recorders: snap.Recorders}
	if !addr.IsZero() {
		m := &ledgerapi.Membership{Address: addr, Owner: addr == snap.Owner}
		for _, b := range snap.Bidders {
			m.Bidder = m.Bidder || b == addr
		}
		for _, rec := range snap.Recorders {
			m.Recorder = m.Recorder || rec == addr
		}
		resp.Member = m
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledgerapi.PaymentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.ledger.Payments.Record(r.Context(), caller, id, req.Winner, req.Amount, req.Reference, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledgerapi.PaymentResponse{Auction: id, Recorded: true, Payment: rec})
}

// handleGetPayment answers isRecorded with 200 either way; Payment is set only
// when a record exists.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := auctionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.ledger.Payments.Get(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrNoPayment):
		writeJSON(w, http.StatusOK, ledgerapi.PaymentResponse{Auction: id})
	case err != nil:
		s.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, ledgerapi.PaymentResponse{Auction: id, Recorded: rec.Recorded, Payment: rec})
	}
}

// handleEvents pages through the journal. The page is read unfiltered so Next
// advances past entries the auction/type filters drop.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := uint64(1)
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			s.writeError(w, r, core.Errorf(core.ErrMalformedInput, "from must be a positive integer, got %q", v))
			return
		}
		from = n
	}
	limit := defaultEventsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, core.Errorf(core.ErrMalformedInput, "limit must be a positive integer, got %q", v))
			return
		}
		limit = min(n, maxEventsLimit)
	}

	var filter events.Filter
	if v := q.Get("auction"); v != "" {
		id, err := core.ParseAuctionID(v)
		if err != nil {
			s.writeError(w, r, core.Errorf(core.ErrMalformedInput, "auction: %v", err))
			return
		}
		filter.Auction = &id
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, events.Type(t))
	}

	page, err := s.ledger.Events(r.Context(), from, limit, events.Filter{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	head, headDigest, err := s.ledger.Head(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	next := from
	if len(page) > 0 {
		next = page[len(page)-1].Seq + 1
	}
	matched := make([]events.Event, 0, len(page))
	for _, e := range page {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}
	writeJSON(w, http.StatusOK, ledgerapi.EventsResponse{Events: matched, Next: next, Head: head, HeadDigest: headDigest})
}

// handleAttestation returns an NSM attestation whose user data carries the
// receipt verification key.
func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		s.writeError(w, r, ErrNoSigner)
		return
	}
	der, err := s.signer.PublicKeyDER()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := attest.AttestKey(s.attester, der, s.signer.KeyID())
	if err != nil {
		if errors.Is(err, attest.ErrUnavailable) {
			s.log.LogAttrs(r.Context(), slog.LevelDebug, "attestation requested outside an enclave")
		}
		s.writeError(w, r, err)
		return
	}
	pemKey, err := s.signer.PublicKeyPEM()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.AttestationResponse{
		Attestation: ledgerapi.EncodeCOSE(doc),
		PublicKey:   pemKey,
		KeyID:       s.signer.KeyID(),
	})
}

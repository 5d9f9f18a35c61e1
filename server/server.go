// Package server exposes the ledger over HTTP.
//
// Callers are identified once, at the boundary, by an Authenticator; every
// ledger call receives the resolved address and the server clock's reading
// explicitly.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/config"
	"github.com/cloudx-io/sealbid/ledger"
	"github.com/cloudx-io/sealbid/receipt"
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	Clock ledger.Clock
	Auth  Authenticator
	// Signer signs finalization receipts. Without one the receipt endpoint
	// reports unavailability.
	Signer *receipt.Signer
	// Attester attests the receipt key; nil outside an enclave.
	Attester   attest.Attester
	MaxWorkers int
	Logger     *slog.Logger
}

// DefaultMaxWorkers bounds in-flight requests when Options.MaxWorkers is unset.
const DefaultMaxWorkers = 64

// Server is the HTTP face of a ledger.
type Server struct {
	ledger   *ledger.Ledger
	clock    ledger.Clock
	auth     Authenticator
	signer   *receipt.Signer
	attester attest.Attester
	log      *slog.Logger
	router   chi.Router
}

// New builds the router for l.
func New(l *ledger.Ledger, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = ledger.NewMonotonicClock(ledger.SystemClock{})
	}
	if opts.Auth == nil {
		opts.Auth = HeaderAuthenticator{}
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		ledger:   l,
		clock:    opts.Clock,
		auth:     opts.Auth,
		signer:   opts.Signer,
		attester: opts.Attester,
		log:      opts.Logger.With(slog.String("component", "http")),
	}
	s.router = s.routes(opts.MaxWorkers)
	return s
}

func (s *Server) routes(maxWorkers int) chi.Router {
	r := chi.NewRouter()
	r.Use(correlate)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(limitWorkers(maxWorkers, s.log))
		r.Use(s.authenticate)

		r.Route("/v1/auctions", func(r chi.Router) {
			r.Post("/", s.handleCreateAuction)
			r.Route("/{auctionID}", func(r chi.Router) {
				r.Get("/", s.handleGetAuction)
				r.Get("/phase", s.handleGetPhase)
				r.Post("/commitments", s.handleCommit)
				r.Get("/commitments/{bidder}", s.handleGetCommitment)
				r.Post("/reveals", s.handleReveal)
				r.Post("/finalize", s.handleFinalize)
				r.Get("/ranking", s.handleRanking)
				r.Get("/receipt", s.handleReceipt)
			})
		})
		r.Post("/v1/commitments/hash", s.handleCommitmentHash)

		r.Put("/v1/bidders/{address}", s.handleSetBidder(true))
		r.Delete("/v1/bidders/{address}", s.handleSetBidder(false))
		r.Put("/v1/recorders/{address}", s.handleSetRecorder(true))
		r.Delete("/v1/recorders/{address}", s.handleSetRecorder(false))
		r.Put("/v1/owner", s.handleTransferOwnership)
		r.Get("/v1/access", s.handleAccess)

		r.Post("/v1/payments/{auctionID}", s.handleRecordPayment)
		r.Get("/v1/payments/{auctionID}", s.handleGetPayment)

		r.Get("/v1/events", s.handleEvents)
		r.Get("/v1/attestation", s.handleAttestation)
	})
	return r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Listen opens the configured listener: tcp, or vsock inside an enclave.
func Listen(cfg config.ListenConfig) (net.Listener, error) {
	switch cfg.Network {
	case "", "tcp":
		ln, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return ln, nil
	case "vsock":
		ln, err := vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("unknown listen network %q", cfg.Network)
	}
}

// Serve serves on ln until ctx is done, then drains in-flight requests for up
// to ten seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

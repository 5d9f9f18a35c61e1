package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/ledgerapi"
)

// Authenticator resolves the caller of a request. It runs once at the
// boundary; the ledger only ever sees the resolved address.
type Authenticator interface {
	// Authenticate returns the zero address for anonymous requests.
	Authenticate(r *http.Request) (core.Address, error)
}

// HeaderAuthenticator trusts the caller header. It is meant for deployments
// where a fronting proxy authenticates clients and sets the header.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (core.Address, error) {
	v := strings.TrimSpace(r.Header.Get(ledgerapi.CallerHeader))
	if v == "" {
		return core.Address{}, nil
	}
	addr, err := core.ParseAddress(v)
	if err != nil {
		return core.Address{}, core.Errorf(core.ErrAccessDenied, "%s header: %v", ledgerapi.CallerHeader, err)
	}
	return addr, nil
}

type callerKey struct{}

// authenticate stores the caller in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// callerFrom returns the authenticated caller. Mutating routes require one.
func callerFrom(r *http.Request) (core.Address, error) {
	caller, _ := r.Context().Value(callerKey{}).(core.Address)
	if caller.IsZero() {
		return core.Address{}, core.Errorf(core.ErrAccessDenied, "missing %s header", ledgerapi.CallerHeader)
	}
	return caller, nil
}

// limitWorkers rejects requests with 503 while n requests are in flight.
func limitWorkers(n int, log *slog.Logger) func(http.Handler) http.Handler {
	semaphore := make(chan struct{}, n)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Acquire worker slot - immediate rejection if pool full
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
				next.ServeHTTP(w, r)
			default:
				log.LogAttrs(r.Context(), slog.LevelWarn, "no workers available, rejecting request",
					slog.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, ledgerapi.ErrorResponse{
					Disposition: core.RetryLater,
					Message:     "server busy",
				})
			}
		})
	}
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// correlate assigns a UUID request id when the client sent none, so the id
// chi's RequestID picks up is unique across server instances.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

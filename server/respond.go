package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/ledgerapi"
)

// StatusTooEarly is returned for phase violations: the same request may succeed
// once the auction reaches the right phase.
const StatusTooEarly = http.StatusTooEarly

// statusFor maps a ledger rejection kind to an HTTP status. Errors without a
// kind are infrastructure failures.
func statusFor(err error) int {
	if errors.Is(err, attest.ErrUnavailable) || errors.Is(err, ErrNoSigner) {
		return http.StatusServiceUnavailable
	}
	kind, ok := core.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case core.KindAccessDenied:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindPhaseViolation:
		return StatusTooEarly
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ledgerapi.ErrorResponse {
	var e *core.Error
	if !errors.As(err, &e) {
		resp := ledgerapi.ErrorResponse{Message: err.Error()}
		if statusFor(err) == http.StatusServiceUnavailable {
			resp.Disposition = core.NeverRetry
		}
		return resp
	}
	return ledgerapi.ErrorResponse{
		Kind:        e.Kind.String(),
		Code:        e.Code,
		Disposition: e.Kind.Disposition(),
		Message:     e.Error(),
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody(err)
	if status == http.StatusInternalServerError {
		s.log.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Errorf(core.ErrMalformedInput, "request body: %v", err)
	}
	return nil
}

const maxBodyBytes = 1 << 20

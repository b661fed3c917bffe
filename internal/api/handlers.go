package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// ─── Profile ────────────────────────────────────────────────────────────────

// handleGetProfile returns the caller's profile, bootstrapping it if new.
// GET /api/userinfo, GET /api/profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.identities.Profile(r.Context(), AnonIDFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProfile applies a partial update of display fields. An empty
// string clears a field to null.
// POST /api/profile {displayName?, avatarUrl?}
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd domain.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if upd.AvatarURL != nil && *upd.AvatarURL != "" && !isHTTPURL(*upd.AvatarURL) {
		s.writeDomainError(w, r, domain.Validationf("avatarUrl must be an absolute http(s) URL"))
		return
	}

	p, err := s.identities.UpdateProfile(r.Context(), AnonIDFrom(r.Context()), upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ─── Credits ────────────────────────────────────────────────────────────────

// handleGetCredits returns balance and recent ledger entries.
// GET /api/credits?limit=N
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	limit := s.credits.LedgerLimit()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.credits.LedgerLimit() {
			s.writeDomainError(w, r, domain.Validationf("limit must be an integer between 1 and %d", s.credits.LedgerLimit()))
			return
		}
		limit = n
	}
	s.writeSnapshot(w, r, limit)
}

// handleDailyAward claims the daily bonus.
// POST /api/credits/daily-award
func (s *Server) handleDailyAward(w http.ResponseWriter, r *http.Request) {
	if _, err := s.bonus.Claim(r.Context(), AnonIDFrom(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, 0)
}

type deltaRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// handleAdjust applies an administrative delta.
// POST /api/credits/adjust {amount, reason}
func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if _, err := s.credits.Adjust(r.Context(), AnonIDFrom(r.Context()), req.Amount, req.Reason); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, 0)
}

// handleSpend debits credits; it never drives the balance below zero.
// POST /api/credits/spend {amount, reason}
func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if _, err := s.credits.Spend(r.Context(), AnonIDFrom(r.Context()), req.Amount, req.Reason); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, 0)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, limit int) {
	snap, err := s.credits.Snapshot(r.Context(), AnonIDFrom(r.Context()), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if snap.Ledger == nil {
		snap.Ledger = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// statusFor maps a domain error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a single JSON object into v. Malformed bodies and
// mistyped fields are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return domain.Validationf("request body is required")
		case errors.As(err, &typeErr):
			return domain.Validationf("field %q must be of type %s", typeErr.Field, jsonKind(typeErr.Type))
		case errors.As(err, &maxErr):
			return domain.Validationf("request body exceeds %d bytes", maxBodyBytes)
		default:
			return domain.Validationf("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return domain.Validationf("request body must contain a single JSON object")
	}
	return nil
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.String:
		return "string"
	default:
		return t.Kind().String()
	}
}

// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"replybot/internal/domain"
)

// CycleRunner starts a reconciliation cycle unless one is running.
type CycleRunner interface {
	TryStart(ctx context.Context) bool
}

type Handlers struct {
	Runner CycleRunner
	Store  domain.ReplyStore
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Post("/v1/cycles", h.runCycle)
	s.mux.Get("/v1/cycles/latest", h.latestCycle)
	s.mux.Get("/v1/replies", h.listReplies)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// runCycle is the manual trigger. The cycle slot is claimed before
// responding, so two rapid POSTs cannot start two cycles; the cycle
// itself runs detached from the request deadline.
func (h *Handlers) runCycle(w http.ResponseWriter, r *http.Request) {
	if !h.Runner.TryStart(context.WithoutCancel(r.Context())) {
		writeProblem(w, http.StatusConflict, "Busy", "a reconciliation cycle is already in progress")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

func (h *Handlers) latestCycle(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Store.LatestCycle(r.Context())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeProblem(w, http.StatusNotFound, "Not Found", "no cycle has run yet")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Internal", "cycle lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		log.Error().Err(err).Msg("failed to write latestCycle body")
	}
}

func (h *Handlers) listReplies(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}

	recs, err := h.Store.ListReplies(r.Context(), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal", "reply lookup failed")
		return
	}

	etag, body := calcETagAndBody(recs)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write listReplies body")
	}
}

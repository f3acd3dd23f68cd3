package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/database"
)

// SessionReader is the slice of the session store the read API needs.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*database.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]database.Session, error)
}

// SessionsHandler serves read access to transcription sessions.
type SessionsHandler struct {
	store SessionReader
	log   zerolog.Logger
}

func NewSessionsHandler(store SessionReader, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{store: store, log: log.With().Str("component", "api.sessions").Logger()}
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/sessions", h.List)
	r.Get("/sessions/{id}", h.Get)
}

// List serves GET /api/v1/sessions with limit/offset pagination.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), p.Limit, p.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list sessions failed")
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []database.Session{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    p.Limit,
		"offset":   p.Offset,
	})
}

// Get serves GET /api/v1/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("get session failed")
		WriteError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

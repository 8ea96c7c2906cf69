package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/jotter/internal/apperr"
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/search"
)

// NoteStore is the persistence the handlers need.
type NoteStore interface {
	Create(ctx context.Context, title *string, content string) (models.Note, error)
	Get(ctx context.Context, id int64) (models.Note, error)
	List(ctx context.Context) ([]models.Note, error)
	UpdateIfMatch(ctx context.Context, id int64, revisions []string, title *string, content string) (models.Note, error)
	Delete(ctx context.Context, id int64) error
}

// Searcher runs note searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// Pinger reports backend availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds API route handlers.
type Handler struct {
	notes    NoteStore
	searcher Searcher
}

// NewHandler creates a new Handler.
func NewHandler(notes NoteStore, searcher Searcher) *Handler {
	return &Handler{notes: notes, searcher: searcher}
}

// noteID parses the {id} URL parameter.
func noteID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("invalid note id %q", raw)
	}
	return id, nil
}

func etag(n models.Note) string {
	return `"` + n.Revision() + `"`
}

// ifMatch returns the revisions listed in If-Match headers. The header may
// carry a comma-separated list; the update proceeds if any entry matches.
// "*" and an absent header match any revision and yield nil.
func ifMatch(r *http.Request) []string {
	var revs []string
	for _, line := range r.Header.Values("If-Match") {
		for _, v := range strings.Split(line, ",") {
			v = strings.TrimSpace(v)
			if v == "*" {
				return nil
			}
			v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
			if v != "" {
				revs = append(revs, v)
			}
		}
	}
	return revs
}

// parseLimit reads the optional "limit" query parameter. Zero or an absent
// parameter means no limit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid limit %q", raw)
	}
	return n, nil
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes, newest first
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int		false	"Max notes (0 = all)"
//	@Success		200		{array}		Note
//	@Failure		400		{object}	errResponse
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, "list notes", err)
		return
	}
	notes, err := h.notes.List(r.Context())
	if err != nil {
		writeError(w, r, "list notes", err)
		return
	}
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	writeJSON(w, http.StatusOK, notes)
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Note id"
//	@Success		200	{object}	Note
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, "get note", err)
		return
	}
	note, err := h.notes.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "get note", err)
		return
	}
	w.Header().Set("ETag", etag(note))
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NoteRequest	true	"Note to create"
//	@Success		201		{object}	Note
//	@Failure		400		{object}	errResponse
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create note", err)
		return
	}
	note, err := h.notes.Create(r.Context(), req.Title, req.Content)
	if err != nil {
		writeError(w, r, "create note", err)
		return
	}
	slog.Debug("note created", slog.Int64("id", note.ID))
	w.Header().Set("Location", "/api/notes/"+strconv.FormatInt(note.ID, 10))
	w.Header().Set("ETag", etag(note))
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Replace title and content of a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		int			true	"Note id"
//	@Param			If-Match	header		string		false	"ETag from a previous read"
//	@Param			body		body		NoteRequest	true	"New title and content"
//	@Success		200			{object}	Note
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, "update note", err)
		return
	}
	var req NoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "update note", err)
		return
	}
	note, err := h.notes.UpdateIfMatch(r.Context(), id, ifMatch(r), req.Title, req.Content)
	if err != nil {
		writeError(w, r, "update note", err)
		return
	}
	w.Header().Set("ETag", etag(note))
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	int	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, "delete note", err)
		return
	}
	if err := h.notes.Delete(r.Context(), id); err != nil {
		writeError(w, r, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/notes/search.
//
//	@Summary		Case-insensitive substring search with snippets
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	false	"Search text; blank returns every note"
//	@Param			limit	query		int		false	"Max results (0 = all)"
//	@Success		200		{array}		SearchResult
//	@Failure		400		{object}	errResponse
//	@Router			/notes/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	results, err := h.searcher.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Live handles GET /health/live.
func Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready returns the GET /health/ready handler. It fails with 503 while the
// store backend cannot be reached.
func Ready(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

package api

import (
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/search"
)

// NoteRequest is the request body for creating or updating a note. The
// server-managed fields (id, summary, created_at, updated_at) are not
// accepted.
type NoteRequest struct {
	Title   *string `json:"title" example:"Groceries"`
	Content string  `json:"content" example:"milk, eggs, bread" validate:"required"`
}

// Note is the note response type (aliased from the domain layer).
type Note = models.Note

// SearchResult is a single search hit (aliased from the search layer).
type SearchResult = search.Result

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

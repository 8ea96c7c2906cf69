// Package storage defines the durable medium behind the note store.
package storage

import (
	"context"

	"github.com/starford/jotter/internal/models"
)

// Backend persists notes and hands out note ids. Implementations must be safe
// for concurrent use; the store guarantees that calls for one id never overlap.
type Backend interface {
	// Load returns every persisted note in no particular order.
	Load(ctx context.Context) ([]models.Note, error)
	// NextID allocates a new id. Ids strictly increase and are never handed
	// out twice, even after the note holding them is deleted.
	NextID(ctx context.Context) (int64, error)
	// Reserve marks every id up to and including id as used, so NextID
	// afterwards returns ids greater than id.
	Reserve(ctx context.Context, id int64) error
	// Insert stores a note whose id came from NextID.
	Insert(ctx context.Context, n models.Note) error
	// Replace overwrites an existing note.
	Replace(ctx context.Context, n models.Note) error
	// Delete removes a note permanently.
	Delete(ctx context.Context, id int64) error
	// Close releases the medium.
	Close() error
}

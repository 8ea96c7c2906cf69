// Package store owns the canonical collection of notes.
//
// Concurrency model: a store-level RWMutex guards the id → record map. Each
// record has its own mutex that serialises writers of that id, and publishes
// its current note through an atomic pointer so readers never block on a
// writer and never observe a partially applied update. A write goes to the
// backend first; the in-memory value changes only after the backend accepted
// it, so a failed write leaves the store untouched.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/starford/jotter/internal/apperr"
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/storage"
	"github.com/starford/jotter/internal/summary"
)

// Change kinds passed to a ChangeFunc.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// ChangeFunc is called after a mutation has been committed.
type ChangeFunc func(kind string, n models.Note)

type record struct {
	mu      sync.Mutex // held by the single writer of this id
	note    atomic.Pointer[models.Note]
	deleted bool // guarded by mu
}

// Store is the persistence store. The zero value is not usable; call Open.
type Store struct {
	backend storage.Backend
	clock   models.Clock

	mu      sync.RWMutex
	records map[int64]*record

	onChange ChangeFunc
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(c models.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithChangeFunc registers a callback for committed mutations.
func WithChangeFunc(fn ChangeFunc) Option {
	return func(s *Store) { s.onChange = fn }
}

// Open loads every note from backend and returns a ready store. Summaries are
// recomputed on load so that a stored summary can never be stale, and the
// backend sequence is raised past the highest loaded id so a lost or stale
// sequence cannot hand out an id that is still in use.
func Open(ctx context.Context, backend storage.Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		clock:   models.SystemClock{},
		records: make(map[int64]*record),
	}
	for _, opt := range opts {
		opt(s)
	}

	notes, err := backend.Load(ctx)
	if err != nil {
		return nil, apperr.Storage("load notes", err)
	}
	var maxID int64
	for _, n := range notes {
		n.Summary = summary.Derive(n.Content)
		r := &record{}
		r.note.Store(&n)
		s.records[n.ID] = r
		maxID = max(maxID, n.ID)
	}
	if err := backend.Reserve(ctx, maxID); err != nil {
		return nil, apperr.Storage("reserve ids", err)
	}
	return s, nil
}

// Len returns the number of active notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Create validates input, allocates an id and persists a new note.
func (s *Store) Create(ctx context.Context, title *string, content string) (models.Note, error) {
	// Validate before allocating so invalid requests do not burn ids.
	if _, _, err := models.Validate(title, content); err != nil {
		return models.Note{}, err
	}
	id, err := s.backend.NextID(ctx)
	if err != nil {
		return models.Note{}, apperr.Storage("allocate id", err)
	}
	n, err := models.New(id, title, content, s.clock)
	if err != nil {
		return models.Note{}, err
	}

	if err := s.backend.Insert(ctx, n); err != nil {
		return models.Note{}, apperr.Storage("insert note", err)
	}

	// The id is fresh, so no other writer can race for it until it is
	// published in the map.
	r := &record{}
	r.note.Store(&n)
	s.mu.Lock()
	s.records[id] = r
	s.mu.Unlock()

	s.notify(Created, n)
	return n.Clone(), nil
}

// Get returns the note with the given id.
func (s *Store) Get(_ context.Context, id int64) (models.Note, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return models.Note{}, apperr.NotFound(id)
	}
	return r.note.Load().Clone(), nil
}

// List returns every note ordered by creation time, newest first. Notes with
// the same creation time are ordered by id, highest first.
func (s *Store) List(_ context.Context) ([]models.Note, error) {
	s.mu.RLock()
	out := make([]models.Note, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.note.Load().Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Note) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Update replaces title and content of an existing note.
func (s *Store) Update(ctx context.Context, id int64, title *string, content string) (models.Note, error) {
	return s.UpdateIfMatch(ctx, id, nil, title, content)
}

// UpdateIfMatch is Update guarded by a revision precondition: the current
// revision must equal one of revisions. An empty list always matches.
func (s *Store) UpdateIfMatch(ctx context.Context, id int64, revisions []string, title *string, content string) (models.Note, error) {
	r, err := s.lock(id)
	if err != nil {
		return models.Note{}, err
	}
	defer r.mu.Unlock()

	cur := *r.note.Load()
	if len(revisions) > 0 && !slices.Contains(revisions, cur.Revision()) {
		return models.Note{}, apperr.Conflict(id)
	}
	n, err := models.ApplyUpdate(cur, title, content, s.clock)
	if err != nil {
		return models.Note{}, err
	}
	if err := s.backend.Replace(ctx, n); err != nil {
		return models.Note{}, apperr.Storage("update note", err)
	}
	r.note.Store(&n)

	s.notify(Updated, n)
	return n.Clone(), nil
}

// Delete removes a note permanently. Deleting an id that is already gone
// fails with a not-found error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	r, err := s.lock(id)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := s.backend.Delete(ctx, id); err != nil {
		return apperr.Storage("delete note", err)
	}
	r.deleted = true
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()

	s.notify(Deleted, *r.note.Load())
	return nil
}

// lock acquires the writer lock of id. The caller must unlock r.mu.
func (s *Store) lock(id int64) (*record, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound(id)
	}
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return nil, apperr.NotFound(id)
	}
	return r, nil
}

func (s *Store) notify(kind string, n models.Note) {
	if s.onChange != nil {
		s.onChange(kind, n.Clone())
	}
}

// Ping reports whether the backend is reachable, for backends that can tell.
func (s *Store) Ping(ctx context.Context) error {
	p, ok := s.backend.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return apperr.Storage("ping", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/starford/jotter/internal/models"
)

// Memory is a Backend that keeps notes in process memory only. Everything is
// lost when the process exits.
type Memory struct {
	mu    sync.Mutex
	seq   int64
	notes map[int64]models.Note
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{notes: make(map[int64]models.Note)}
}

// Load returns a copy of every note.
func (m *Memory) Load(_ context.Context) ([]models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Note, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n.Clone())
	}
	return out, nil
}

// NextID increments the in-memory sequence.
func (m *Memory) NextID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

// Reserve raises the sequence to id if it is behind.
func (m *Memory) Reserve(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = max(m.seq, id)
	return nil
}

// Insert stores n.
func (m *Memory) Insert(_ context.Context, n models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[n.ID]; ok {
		return fmt.Errorf("storage: insert %d: already exists", n.ID)
	}
	m.notes[n.ID] = n.Clone()
	return nil
}

// Replace overwrites an existing note.
func (m *Memory) Replace(_ context.Context, n models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[n.ID]; !ok {
		return fmt.Errorf("storage: replace %d: no such note", n.ID)
	}
	m.notes[n.ID] = n.Clone()
	return nil
}

// Delete removes a note.
func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return fmt.Errorf("storage: delete %d: no such note", id)
	}
	delete(m.notes, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

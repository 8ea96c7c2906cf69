// Package testutil provides shared test helpers for setting up stores and backends.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/jotter/internal/storage"
	"github.com/starford/jotter/internal/storage/sqlite"
	"github.com/starford/jotter/internal/store"
)

// TestDB creates a temporary SQLite backend that is closed on cleanup.
func TestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jotter-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDataDir creates a temporary data directory with a file backend that is
// closed on cleanup.
func TestDataDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fs.Close() })
	return dir, fs
}

// TestStore opens a store over backend, or over a fresh in-memory backend
// when backend is nil.
func TestStore(t *testing.T, backend storage.Backend, opts ...store.Option) *store.Store {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemory()
	}
	st, err := store.Open(t.Context(), backend, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

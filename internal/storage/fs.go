package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/starford/jotter/internal/models"
)

const (
	notesDir     = "notes"
	sequenceFile = "sequence"
	lockName     = ".lock"
	tmpPrefix    = ".jotter-tmp-"
)

// FS is a Backend that keeps one JSON file per note under <root>/notes and
// the id sequence in <root>/sequence. Every write is atomic.
type FS struct {
	root string // absolute path to data directory
	lock *FileLock

	seqMu sync.Mutex
	seq   int64
}

// NewFS opens a file backend rooted at root, creating the directory layout if
// needed. The directory stays locked until Close; a second NewFS on the same
// root fails with ErrLocked.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, notesDir), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	lock, err := AcquireLock(filepath.Join(abs, lockName))
	if err != nil {
		return nil, err
	}
	f := &FS{root: abs, lock: lock}
	seq, err := f.readSequence()
	if err != nil {
		lock.Release()
		return nil, err
	}
	f.seq = seq
	return f, nil
}

func (f *FS) notePath(id int64) string {
	return filepath.Join(f.root, notesDir, strconv.FormatInt(id, 10)+".json")
}

func (f *FS) readSequence() (int64, error) {
	data, err := os.ReadFile(filepath.Join(f.root, sequenceFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: read sequence: %w", err)
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("storage: parse sequence: %w", err)
	}
	return seq, nil
}

// Load reads every note file.
func (f *FS) Load(_ context.Context) ([]models.Note, error) {
	var out []models.Note
	err := filepath.WalkDir(filepath.Join(f.root, notesDir), func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var n models.Note
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode %s: %w", d.Name(), err)
		}
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load: %w", err)
	}
	return out, nil
}

// NextID advances the sequence and persists it before returning, so an id is
// never reused after a restart.
func (f *FS) NextID(_ context.Context) (int64, error) {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()
	next := f.seq + 1
	if err := f.write(filepath.Join(f.root, sequenceFile), []byte(strconv.FormatInt(next, 10)+"\n")); err != nil {
		return 0, err
	}
	f.seq = next
	return next, nil
}

// Reserve raises the sequence to id if it is behind.
func (f *FS) Reserve(_ context.Context, id int64) error {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()
	if f.seq >= id {
		return nil
	}
	if err := f.write(filepath.Join(f.root, sequenceFile), []byte(strconv.FormatInt(id, 10)+"\n")); err != nil {
		return err
	}
	f.seq = id
	return nil
}

// Insert writes a new note file.
func (f *FS) Insert(_ context.Context, n models.Note) error {
	p := f.notePath(n.ID)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("storage: insert %d: already exists", n.ID)
	}
	return f.writeNote(p, n)
}

// Replace overwrites an existing note file.
func (f *FS) Replace(_ context.Context, n models.Note) error {
	p := f.notePath(n.ID)
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("storage: replace %d: %w", n.ID, err)
	}
	return f.writeNote(p, n)
}

// Delete removes a note file.
func (f *FS) Delete(_ context.Context, id int64) error {
	if err := os.Remove(f.notePath(id)); err != nil {
		return fmt.Errorf("storage: delete %d: %w", id, err)
	}
	return nil
}

// Close releases the directory lock. Every write is already durable.
func (f *FS) Close() error { return f.lock.Release() }

func (f *FS) writeNote(p string, n models.Note) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %d: %w", n.ID, err)
	}
	return f.write(p, data)
}

// write atomically writes content: tmp file → fsync → rename.
func (f *FS) write(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

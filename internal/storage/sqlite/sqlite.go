// Package sqlite provides a SQLite-backed storage.Backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY,
	title      TEXT,
	content    TEXT    NOT NULL,
	summary    TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS id_sequence (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO id_sequence (name, value) VALUES ('notes', 0);
`

var _ storage.Backend = (*DB)(nil)

// DB wraps a sql.DB holding the notes table and the id sequence.
type DB struct {
	conn *sql.DB
	lock *storage.FileLock // nil for in-memory databases
}

// Open opens (or creates) the SQLite database and applies the schema. A
// database file is locked via a sibling "<dsn>.lock" file until Close, so a
// second Open of the same file fails with storage.ErrLocked.
func Open(dsn string) (*DB, error) {
	var lock *storage.FileLock
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		l, err := storage.AcquireLock(dsn + ".lock")
		if err != nil {
			return nil, err
		}
		lock = l
	}
	db, err := open(dsn)
	if err != nil {
		if lock != nil {
			lock.Release()
		}
		return nil, err
	}
	db.lock = lock
	return db, nil
}

func open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection and releases the file lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	if db.lock != nil {
		if lerr := db.lock.Release(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Load returns every stored note.
func (db *DB) Load(ctx context.Context) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, content, summary, created_at, updated_at FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		var (
			n                models.Note
			title            sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&n.ID, &title, &n.Content, &n.Summary, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if title.Valid {
			t := title.String
			n.Title = &t
		}
		n.CreatedAt = time.Unix(0, created).UTC()
		n.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// NextID advances the persistent sequence inside a transaction.
func (db *DB) NextID(ctx context.Context) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `UPDATE id_sequence SET value = value + 1 WHERE name = 'notes'`); err != nil {
		return 0, fmt.Errorf("sqlite: advance sequence: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM id_sequence WHERE name = 'notes'`).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlite: read sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit sequence: %w", err)
	}
	return id, nil
}

// Reserve raises the persistent sequence to id if it is behind.
func (db *DB) Reserve(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE id_sequence SET value = MAX(value, ?) WHERE name = 'notes'`, id); err != nil {
		return fmt.Errorf("sqlite: reserve sequence: %w", err)
	}
	return nil
}

// Insert stores a new note.
func (db *DB) Insert(ctx context.Context, n models.Note) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, nullable(n.Title), n.Content, n.Summary, n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: insert note: %w", err)
	}
	return nil
}

// Replace overwrites an existing note.
func (db *DB) Replace(ctx context.Context, n models.Note) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notes SET
			title      = ?,
			content    = ?,
			summary    = ?,
			updated_at = ?
		WHERE id = ?
	`, nullable(n.Title), n.Content, n.Summary, n.UpdatedAt.UnixNano(), n.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update note: %w", err)
	}
	return expectOneRow(res, "update", n.ID)
}

// Delete removes a note.
func (db *DB) Delete(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete note: %w", err)
	}
	return expectOneRow(res, "delete", id)
}

func expectOneRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s note: %w", op, err)
	}
	if n != 1 {
		return fmt.Errorf("sqlite: %s note %d: %d rows affected", op, id, n)
	}
	return nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

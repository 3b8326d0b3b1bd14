// Package index is the durable store behind the session manager:
// one row per tracked transcript file, one row per indexed message,
// an FTS5 shadow of message content, and the user-owned overlay
// tables (custom titles, settings) that survive re-indexing.
package index

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// Store manages a write connection and a read-only pool.
type Store struct {
	path   string
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens the index database at the given path.
// It configures WAL mode, applies pending migrations, and returns
// a Store with separate writer and reader connections.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	s := &Store{path: path, writer: writer, reader: reader}
	if err := s.init(); err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Scratch space in memory; the go-sqlite3 DSN has no parameter
	// for this pragma.
	if _, err := s.writer.Exec("PRAGMA temp_store=MEMORY"); err != nil {
		return fmt.Errorf("setting temp_store: %w", err)
	}

	if _, err := s.writer.Exec(schemaSQL); err != nil {
		return err
	}

	// Check if FTS table exists before trying to create it.
	var ftsCount int
	if err := s.writer.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='messages_fts'",
	).Scan(&ftsCount); err != nil {
		return fmt.Errorf("checking fts table: %w", err)
	}
	hadFTS := ftsCount > 0

	// Attempt to initialize FTS. Failure is non-fatal (might be
	// missing module); search then degrades to no results.
	if _, err := s.writer.Exec(schemaFTS); err != nil {
		if !strings.Contains(err.Error(), "no such module") {
			return fmt.Errorf("initializing FTS: %w", err)
		}
	} else if !hadFTS {
		// Schema init succeeded and we didn't have FTS before, so
		// backfill the index for existing messages.
		if _, err := s.writer.Exec(
			"INSERT INTO messages_fts(messages_fts) VALUES('rebuild')",
		); err != nil {
			return fmt.Errorf("backfilling FTS: %w", err)
		}
	}

	return s.migrate()
}

// HasFTS checks if full-text search is available.
func (s *Store) HasFTS() bool {
	// Actually query the table: it might exist in sqlite_master but
	// fail to load if the fts5 module is missing in this runtime.
	_, err := s.reader.Exec("SELECT 1 FROM messages_fts LIMIT 1")
	return err == nil
}

// ensureColumn adds a column if it doesn't already exist. Callers
// must hold s.mu.
func (s *Store) ensureColumn(table, column, definition string) error {
	var count int
	err := s.writer.QueryRow(
		fmt.Sprintf(
			"SELECT count(*) FROM pragma_table_info('%s')"+
				" WHERE name='%s'",
			table, column,
		),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf(
			"checking column %s.%s: %w", table, column, err,
		)
	}
	if count > 0 {
		return nil
	}
	_, err = s.writer.Exec(fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s",
		table, column, definition,
	))
	if err == nil {
		return nil
	}
	// If ALTER TABLE failed, check if the column exists now. This
	// handles another process adding it concurrently, without
	// relying on brittle error string matching.
	var check int
	if checkErr := s.writer.QueryRow(
		fmt.Sprintf(
			"SELECT count(*) FROM pragma_table_info('%s')"+
				" WHERE name='%s'",
			table, column,
		),
	).Scan(&check); checkErr == nil && check > 0 {
		return nil
	}
	return err
}

// Close closes both writer and reader connections.
func (s *Store) Close() error {
	return errors.Join(s.writer.Close(), s.reader.Close())
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (s *Store) Update(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(fn)
}

// updateLocked is Update without taking s.mu; for callers that
// already hold the lock.
func (s *Store) updateLocked(fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read-only connection pool.
func (s *Store) Reader() *sql.DB {
	return s.reader
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

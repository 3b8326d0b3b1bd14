package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wesm/sessionvault/internal/timeutil"
)

// latestVersion is the schema version a fully-migrated database
// reports. Migrations are forward-only and additive; the recorded
// version never decreases.
const latestVersion = 4

// migrate applies any pending schema migrations. Each step is
// idempotent (ensureColumn, CREATE IF NOT EXISTS) so a crash
// between DDL and the version record is harmless. Callers must
// hold s.mu.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	steps := []struct {
		version int
		apply   func() error
	}{
		{2, s.migrateSoftDelete},
		{3, s.migrateArchive},
		{4, s.migrateSettings},
	}

	for _, step := range steps {
		if version >= step.version {
			continue
		}
		if err := step.apply(); err != nil {
			return fmt.Errorf("migrating to v%d: %w", step.version, err)
		}
		if err := s.recordVersion(step.version); err != nil {
			return err
		}
	}

	if version < 1 {
		return s.recordVersion(1)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var v sql.NullInt64
	err := s.writer.QueryRow(
		"SELECT MAX(version) FROM schema_info",
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

func (s *Store) recordVersion(v int) error {
	_, err := s.writer.Exec(
		"INSERT OR IGNORE INTO schema_info (version) VALUES (?)", v,
	)
	if err != nil {
		return fmt.Errorf("recording schema version %d: %w", v, err)
	}
	return nil
}

func (s *Store) migrateSoftDelete() error {
	if err := s.ensureColumn(
		"files", "is_deleted", "INTEGER NOT NULL DEFAULT 0",
	); err != nil {
		return err
	}
	return s.ensureColumn("files", "deleted_at", "TEXT")
}

func (s *Store) migrateArchive() error {
	if err := s.ensureColumn(
		"files", "is_archived", "INTEGER NOT NULL DEFAULT 0",
	); err != nil {
		return err
	}
	return s.ensureColumn("files", "archived_at", "TEXT")
}

func (s *Store) migrateSettings() error {
	_, err := s.writer.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT
		)`)
	return err
}

// ImportLegacyTitles migrates a pre-index rename file (a flat JSON
// object of session id to title) into the session_titles table,
// then renames the file to a .migrated sibling so the import runs
// once but the original data stays recoverable. Missing file is a
// no-op. Titles already present in the table win over legacy ones.
func (s *Store) ImportLegacyTitles(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading legacy titles: %w", err)
	}

	var titles map[string]string
	if err := json.Unmarshal(data, &titles); err != nil {
		return fmt.Errorf("parsing legacy titles: %w", err)
	}

	err = s.Update(func(tx *sql.Tx) error {
		for id, title := range titles {
			if id == "" || title == "" {
				continue
			}
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO session_titles
					(session_id, title, renamed_at)
				VALUES (?, ?, ?)`,
				id, title, timeutil.Format(time.Now()),
			); err != nil {
				return fmt.Errorf("importing title for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := os.Rename(path, path+".migrated"); err != nil {
		return fmt.Errorf("retiring legacy titles file: %w", err)
	}
	return nil
}

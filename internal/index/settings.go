package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wesm/sessionvault/internal/timeutil"
)

// SetSetting stores a JSON value under key.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, timeutil.Format(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the JSON value stored under key. ok is false
// when the key is unset.
func (s *Store) GetSetting(key string) (value string, ok bool, err error) {
	err = s.reader.QueryRow(
		"SELECT value FROM settings WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting %s: %w", key, err)
	}
	return value, true, nil
}

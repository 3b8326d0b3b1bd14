package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/sessionvault/internal/timeutil"
)

// FileInfo identifies a transcript file on disk. MtimeMs and
// SizeBytes are the change-detection pair cached on the row.
type FileInfo struct {
	SessionID  string
	Path       string
	EncodedDir string
	MtimeMs    int64
	SizeBytes  int64
}

// Derived holds the session attributes computed from a parsed
// transcript, cached on the file row.
type Derived struct {
	CreatedAt      string
	LastAccessedAt string
	MessageCount   int
	UserCount      int
	AssistantCount int
	InputTokens    int64
	OutputTokens   int64
	Model          string
	GitBranch      string
	Slug           string
	Cwd            string
	FirstMessage   string
}

// Message is one indexable message row for a file.
type Message struct {
	UUID      string
	Ordinal   int
	Role      string
	Timestamp string
	Content   string
}

// Overlays is the user-owned state captured by DeleteSessionByKey
// and restored by UpsertFile, so re-indexing a session at a new
// path keeps its archive flag and custom title.
type Overlays struct {
	Title      string
	IsArchived bool
	ArchivedAt *string
}

// Session is a file row joined with its custom title.
type Session struct {
	RowID          int64   `json:"-"`
	SessionID      string  `json:"sessionId"`
	FilePath       string  `json:"filePath"`
	EncodedDir     string  `json:"encodedDir"`
	Cwd            *string `json:"cwd,omitempty"`
	MtimeMs        int64   `json:"-"`
	SizeBytes      int64   `json:"sizeBytes"`
	CreatedAt      *string `json:"createdAt,omitempty"`
	LastAccessedAt *string `json:"lastAccessedAt,omitempty"`
	MessageCount   int     `json:"messageCount"`
	UserCount      int     `json:"userCount"`
	AssistantCount int     `json:"assistantCount"`
	InputTokens    int64   `json:"inputTokens"`
	OutputTokens   int64   `json:"outputTokens"`
	Model          *string `json:"model,omitempty"`
	GitBranch      *string `json:"gitBranch,omitempty"`
	Slug           *string `json:"slug,omitempty"`
	FirstMessage   *string `json:"firstMessage,omitempty"`
	Title          *string `json:"title,omitempty"`
	IsDeleted      bool    `json:"isDeleted"`
	DeletedAt      *string `json:"deletedAt,omitempty"`
	IsArchived     bool    `json:"isArchived"`
	ArchivedAt     *string `json:"archivedAt,omitempty"`
}

// Filter specifies how to list sessions.
type Filter struct {
	MinMessages     int  // message_count >= N (0 = no filter)
	ExcludeEmpty    bool // drop message_count = 0 rows
	IncludeDeleted  bool
	IncludeArchived bool
	ArchivedOnly    bool
}

// sessionCols is the column list for session queries. Keep in
// sync with scanSessionRow.
const sessionCols = `f.id, f.session_id, f.file_path, f.encoded_dir,
	f.cwd, f.mtime_ms, f.size_bytes, f.created_at, f.last_accessed_at,
	f.message_count, f.user_count, f.assistant_count,
	f.input_tokens, f.output_tokens,
	f.model, f.git_branch, f.slug, f.first_message, t.title,
	f.is_deleted, f.deleted_at, f.is_archived, f.archived_at`

const sessionFrom = ` FROM files f
	LEFT JOIN session_titles t ON t.session_id = f.session_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(rs rowScanner) (Session, error) {
	var s Session
	err := rs.Scan(
		&s.RowID, &s.SessionID, &s.FilePath, &s.EncodedDir,
		&s.Cwd, &s.MtimeMs, &s.SizeBytes, &s.CreatedAt,
		&s.LastAccessedAt,
		&s.MessageCount, &s.UserCount, &s.AssistantCount,
		&s.InputTokens, &s.OutputTokens,
		&s.Model, &s.GitBranch, &s.Slug, &s.FirstMessage, &s.Title,
		&s.IsDeleted, &s.DeletedAt, &s.IsArchived, &s.ArchivedAt,
	)
	return s, err
}

// UpsertFile inserts a file row with its messages, replacing any
// existing row at the same path (messages and FTS rows cascade
// away with the old row). Overlays captured by a prior
// DeleteSessionByKey are restored onto the new row. Returns the
// new row id.
func (s *Store) UpsertFile(
	info FileInfo, d Derived, msgs []Message, overlays *Overlays,
) (int64, error) {
	var rowID int64
	err := s.Update(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM files WHERE file_path = ?", info.Path,
		); err != nil {
			return fmt.Errorf("removing old row: %w", err)
		}

		archived := 0
		var archivedAt *string
		if overlays != nil && overlays.IsArchived {
			archived = 1
			archivedAt = overlays.ArchivedAt
			if archivedAt == nil {
				now := timeutil.Format(time.Now())
				archivedAt = &now
			}
		}

		res, err := tx.Exec(`
			INSERT INTO files (
				session_id, file_path, encoded_dir, cwd,
				mtime_ms, size_bytes,
				created_at, last_accessed_at,
				message_count, user_count, assistant_count,
				input_tokens, output_tokens,
				model, git_branch, slug, first_message,
				is_deleted, deleted_at, is_archived, archived_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
			info.SessionID, info.Path, info.EncodedDir,
			nilIfEmpty(d.Cwd),
			info.MtimeMs, info.SizeBytes,
			nilIfEmpty(d.CreatedAt), nilIfEmpty(d.LastAccessedAt),
			d.MessageCount, d.UserCount, d.AssistantCount,
			d.InputTokens, d.OutputTokens,
			nilIfEmpty(d.Model), nilIfEmpty(d.GitBranch),
			nilIfEmpty(d.Slug), nilIfEmpty(d.FirstMessage),
			archived, archivedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting file row: %w", err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("file row id: %w", err)
		}

		if err := insertMessagesTx(tx, rowID, msgs); err != nil {
			return err
		}

		if overlays != nil && overlays.Title != "" {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO session_titles
					(session_id, title, renamed_at)
				VALUES (?, ?, ?)`,
				info.SessionID, overlays.Title,
				timeutil.Format(time.Now()),
			); err != nil {
				return fmt.Errorf("restoring title: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upserting %s: %w", info.Path, err)
	}
	return rowID, nil
}

func insertMessagesTx(tx *sql.Tx, fileID int64, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages
			(file_id, record_uuid, ordinal, role, timestamp, content)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			fileID, nilIfEmpty(m.UUID), m.Ordinal, m.Role,
			nilIfEmpty(m.Timestamp), m.Content,
		); err != nil {
			return fmt.Errorf(
				"inserting message ord=%d: %w", m.Ordinal, err,
			)
		}
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MarkDeleted soft-deletes a file row. No-op when already deleted,
// so the original deleted_at is preserved.
func (s *Store) MarkDeleted(rowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(`
		UPDATE files SET is_deleted = 1, deleted_at = ?
		WHERE id = ? AND is_deleted = 0`,
		timeutil.Format(time.Now()), rowID,
	)
	return err
}

// MarkRestored clears the soft-delete flag on a file row.
func (s *Store) MarkRestored(rowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(`
		UPDATE files SET is_deleted = 0, deleted_at = NULL
		WHERE id = ?`, rowID,
	)
	return err
}

// SetArchived sets or clears the archive overlay for a session.
func (s *Store) SetArchived(sessionID string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if archived {
		_, err := s.writer.Exec(`
			UPDATE files SET is_archived = 1, archived_at = ?
			WHERE session_id = ? AND is_archived = 0`,
			timeutil.Format(time.Now()), sessionID,
		)
		return err
	}
	_, err := s.writer.Exec(`
		UPDATE files SET is_archived = 0, archived_at = NULL
		WHERE session_id = ?`, sessionID,
	)
	return err
}

// IsArchived reports whether any file row for the session carries
// the archive flag.
func (s *Store) IsArchived(sessionID string) (bool, error) {
	var n int
	err := s.reader.QueryRow(
		"SELECT count(*) FROM files WHERE session_id = ? AND is_archived = 1",
		sessionID,
	).Scan(&n)
	return n > 0, err
}

// ArchivedSessionIDs returns the ids of all archived sessions.
func (s *Store) ArchivedSessionIDs() ([]string, error) {
	rows, err := s.reader.Query(
		"SELECT DISTINCT session_id FROM files WHERE is_archived = 1",
	)
	if err != nil {
		return nil, fmt.Errorf("querying archived sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetTitle sets the custom title for a session. An empty title
// clears it.
func (s *Store) SetTitle(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		_, err := s.writer.Exec(
			"DELETE FROM session_titles WHERE session_id = ?",
			sessionID,
		)
		return err
	}
	_, err := s.writer.Exec(`
		INSERT INTO session_titles (session_id, title, renamed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			title = excluded.title,
			renamed_at = excluded.renamed_at`,
		sessionID, title, timeutil.Format(time.Now()),
	)
	return err
}

// GetTitle returns the custom title for a session, or "" when
// none is set.
func (s *Store) GetTitle(sessionID string) (string, error) {
	var title string
	err := s.reader.QueryRow(
		"SELECT title FROM session_titles WHERE session_id = ?",
		sessionID,
	).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return title, err
}

// Titles returns all custom titles keyed by session id.
func (s *Store) Titles() (map[string]string, error) {
	rows, err := s.reader.Query(
		"SELECT session_id, title FROM session_titles",
	)
	if err != nil {
		return nil, fmt.Errorf("querying titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]string)
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// DeleteSessionByKey hard-removes the file rows for a session
// (messages and FTS rows cascade) and returns the overlay
// snapshot so the caller can immediately re-index the same
// session id at a new path. Returns nil when the session has no
// file row.
func (s *Store) DeleteSessionByKey(sessionID string) (*Overlays, error) {
	var ov *Overlays
	err := s.Update(func(tx *sql.Tx) error {
		var archived int
		var archivedAt *string
		err := tx.QueryRow(`
			SELECT is_archived, archived_at FROM files
			WHERE session_id = ?
			ORDER BY is_archived DESC LIMIT 1`,
			sessionID,
		).Scan(&archived, &archivedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("capturing overlays: %w", err)
		}

		title, err := titleTx(tx, sessionID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			"DELETE FROM files WHERE session_id = ?", sessionID,
		); err != nil {
			return fmt.Errorf("deleting file rows: %w", err)
		}

		ov = &Overlays{
			Title:      title,
			IsArchived: archived == 1,
			ArchivedAt: archivedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return ov, nil
}

func titleTx(tx *sql.Tx, sessionID string) (string, error) {
	var title string
	err := tx.QueryRow(
		"SELECT title FROM session_titles WHERE session_id = ?",
		sessionID,
	).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("capturing title: %w", err)
	}
	return title, nil
}

// ListSessions returns file rows joined with titles. Active rows
// come first ordered by last-accessed descending; soft-deleted
// rows follow ordered by deleted-at descending.
func (s *Store) ListSessions(
	ctx context.Context, f Filter,
) ([]Session, error) {
	preds := []string{"1=1"}
	var args []any

	if !f.IncludeDeleted {
		preds = append(preds, "f.is_deleted = 0")
	}
	if f.ArchivedOnly {
		preds = append(preds, "f.is_archived = 1")
	} else if !f.IncludeArchived {
		preds = append(preds, "f.is_archived = 0")
	}
	if f.MinMessages > 0 {
		preds = append(preds, "f.message_count >= ?")
		args = append(args, f.MinMessages)
	}
	if f.ExcludeEmpty {
		preds = append(preds, "f.message_count > 0")
	}

	query := "SELECT " + sessionCols + sessionFrom +
		" WHERE " + strings.Join(preds, " AND ") + `
		ORDER BY f.is_deleted ASC,
			CASE WHEN f.is_deleted = 1
				THEN f.deleted_at
				ELSE f.last_accessed_at
			END DESC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns the file row for a session id, or nil when
// unknown.
func (s *Store) GetSession(
	ctx context.Context, sessionID string,
) (*Session, error) {
	row := s.reader.QueryRowContext(ctx,
		"SELECT "+sessionCols+sessionFrom+
			" WHERE f.session_id = ? LIMIT 1",
		sessionID,
	)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// MessagesForFile returns the message rows of one file in file
// order.
func (s *Store) MessagesForFile(
	ctx context.Context, fileRowID int64,
) ([]Message, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT record_uuid, ordinal, role, timestamp, content
		FROM messages
		WHERE file_id = ?
		ORDER BY ordinal`,
		fileRowID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		// record_uuid and timestamp are NULL for records that
		// never carried them; they come back as empty strings.
		var uuid, ts sql.NullString
		if err := rows.Scan(
			&uuid, &m.Ordinal, &m.Role, &ts, &m.Content,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.UUID = uuid.String
		m.Timestamp = ts.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// TrackedFile is the minimal row state the sync engine diffs
// against the filesystem.
type TrackedFile struct {
	RowID      int64
	SessionID  string
	Path       string
	MtimeMs    int64
	SizeBytes  int64
	IsDeleted  bool
	IsArchived bool
	ArchivedAt *string
}

// TrackedFiles returns the change-detection state of every file
// row, keyed by path in the result map.
func (s *Store) TrackedFiles() (map[string]TrackedFile, error) {
	rows, err := s.reader.Query(`
		SELECT id, session_id, file_path, mtime_ms, size_bytes,
			is_deleted, is_archived, archived_at
		FROM files`)
	if err != nil {
		return nil, fmt.Errorf("querying tracked files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]TrackedFile)
	for rows.Next() {
		var tf TrackedFile
		if err := rows.Scan(
			&tf.RowID, &tf.SessionID, &tf.Path,
			&tf.MtimeMs, &tf.SizeBytes,
			&tf.IsDeleted, &tf.IsArchived, &tf.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning tracked file: %w", err)
		}
		files[tf.Path] = tf
	}
	return files, rows.Err()
}

// WipeFiles removes every file row (messages and FTS rows
// cascade). Titles and settings survive; rebuild depends on that.
func (s *Store) WipeFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec("DELETE FROM files")
	return err
}

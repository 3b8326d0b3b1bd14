package index

import (
	"context"
	"fmt"
	"os"
)

// Stats summarizes what the index holds.
type Stats struct {
	SessionCount    int   `json:"sessionCount"`
	DeletedCount    int   `json:"deletedCount"`
	ArchivedCount   int   `json:"archivedCount"`
	MessageCount    int   `json:"messageCount"`
	TranscriptBytes int64 `json:"transcriptBytes"`
	DatabaseBytes   int64 `json:"databaseBytes"`
}

// Stats returns index-wide counts and sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(is_deleted), 0),
			COALESCE(SUM(is_archived), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM files`).Scan(
		&st.SessionCount, &st.DeletedCount,
		&st.ArchivedCount, &st.TranscriptBytes,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("counting files: %w", err)
	}

	if err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages",
	).Scan(&st.MessageCount); err != nil {
		return Stats{}, fmt.Errorf("counting messages: %w", err)
	}

	if fi, err := os.Stat(s.path); err == nil {
		st.DatabaseBytes = fi.Size()
	}
	return st, nil
}

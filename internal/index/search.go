package index

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DefaultMaxPerSession caps snippets per session in grouped
	// search results.
	DefaultMaxPerSession = 5
	// DefaultMaxSessions caps the number of sessions returned.
	DefaultMaxSessions = 20

	snippetTokenLength = 32
	searchScanLimit    = 500
)

// SearchMatch is one matching message with its snippet. Matched
// tokens are delimited by >> and <<.
type SearchMatch struct {
	Ordinal   int     `json:"ordinal"`
	Role      string  `json:"role"`
	Timestamp *string `json:"timestamp,omitempty"`
	Snippet   string  `json:"snippet"`
	Rank      float64 `json:"-"`
}

// SearchHit groups a session's matches, best match first.
type SearchHit struct {
	Session Session       `json:"session"`
	Matches []SearchMatch `json:"matches"`
}

// SearchOptions caps grouped search output. Zero values take the
// package defaults.
type SearchOptions struct {
	MaxPerSession   int
	MaxSessions     int
	IncludeDeleted  bool
	IncludeArchived bool
}

// normalizeQuery turns free text into an FTS5 match expression.
// Queries carrying explicit operators pass through untouched; a
// bare single term becomes a prefix match; multiple bare terms
// join with implicit AND.
func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	if strings.ContainsAny(q, `"*-`) ||
		strings.Contains(q, " OR ") ||
		strings.Contains(q, " AND ") {
		return q
	}

	cleaned := strings.NewReplacer("(", " ", ")", " ", ":", " ").Replace(q)
	terms := strings.Fields(cleaned)
	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0] + "*"
	default:
		return strings.Join(terms, " ")
	}
}

// Search runs an FTS5 query over message content and groups the
// matches by session, ordered by best BM25 rank. A whitespace-only
// query returns no results without error.
func (s *Store) Search(
	ctx context.Context, query string, opts SearchOptions,
) ([]SearchHit, error) {
	match := normalizeQuery(query)
	if match == "" {
		return nil, nil
	}
	if opts.MaxPerSession <= 0 {
		opts.MaxPerSession = DefaultMaxPerSession
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}

	preds := []string{"messages_fts MATCH ?"}
	args := []any{match}
	if !opts.IncludeDeleted {
		preds = append(preds, "f.is_deleted = 0")
	}
	if !opts.IncludeArchived {
		preds = append(preds, "f.is_archived = 0")
	}

	q := fmt.Sprintf(`
		SELECT %s,
			m.ordinal, m.role, m.timestamp,
			snippet(messages_fts, 0, '>>', '<<', '...', %d),
			rank
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.id
		JOIN files f ON m.file_id = f.id
		LEFT JOIN session_titles t ON t.session_id = f.session_id
		WHERE %s
		ORDER BY rank
		LIMIT %d`,
		sessionCols, snippetTokenLength,
		strings.Join(preds, " AND "), searchScanLimit,
	)

	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer rows.Close()

	var hits []SearchHit
	byRow := make(map[int64]int)
	for rows.Next() {
		var sess Session
		var m SearchMatch
		if err := rows.Scan(
			&sess.RowID, &sess.SessionID, &sess.FilePath,
			&sess.EncodedDir, &sess.Cwd, &sess.MtimeMs,
			&sess.SizeBytes, &sess.CreatedAt, &sess.LastAccessedAt,
			&sess.MessageCount, &sess.UserCount, &sess.AssistantCount,
			&sess.InputTokens, &sess.OutputTokens,
			&sess.Model, &sess.GitBranch, &sess.Slug,
			&sess.FirstMessage, &sess.Title,
			&sess.IsDeleted, &sess.DeletedAt,
			&sess.IsArchived, &sess.ArchivedAt,
			&m.Ordinal, &m.Role, &m.Timestamp, &m.Snippet, &m.Rank,
		); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}

		idx, seen := byRow[sess.RowID]
		if !seen {
			if len(hits) >= opts.MaxSessions {
				continue
			}
			idx = len(hits)
			byRow[sess.RowID] = idx
			hits = append(hits, SearchHit{Session: sess})
		}
		if len(hits[idx].Matches) < opts.MaxPerSession {
			hits[idx].Matches = append(hits[idx].Matches, m)
		}
	}
	return hits, rows.Err()
}

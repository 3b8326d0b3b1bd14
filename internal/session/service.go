// Package session is the typed facade over the index store and
// sync engine: discovery, lookup, lifecycle mutations, atomic
// moves, and launching the external assistant.
package session

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/sessionvault/internal/index"
	syncpkg "github.com/wesm/sessionvault/internal/sync"
	"github.com/wesm/sessionvault/internal/timeutil"
	"github.com/wesm/sessionvault/internal/transcript"
)

// ErrNotFound is returned when no session matches a lookup.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned when a move would land on an existing
// transcript path.
var ErrConflict = errors.New("target session path already exists")

// Service wraps the store and engine behind a session-oriented
// API. Callers see sessions with resolved titles, never raw rows.
type Service struct {
	store  *index.Store
	engine *syncpkg.Engine
}

// NewService creates a session service.
func NewService(store *index.Store, engine *syncpkg.Engine) *Service {
	return &Service{store: store, engine: engine}
}

// Resolved is a session row with its display title resolved.
type Resolved struct {
	index.Session
	Title string `json:"title"`
}

// shortIDLen is how much of the session id is used as a
// last-resort title.
const shortIDLen = 8

// ResolveTitle picks the display title for a session: custom
// title, then first user message, then slug, then a short id
// prefix.
func ResolveTitle(s index.Session) string {
	if s.Title != nil && *s.Title != "" {
		return *s.Title
	}
	if s.FirstMessage != nil && *s.FirstMessage != "" {
		return *s.FirstMessage
	}
	if s.Slug != nil && *s.Slug != "" {
		return *s.Slug
	}
	if len(s.SessionID) > shortIDLen {
		return s.SessionID[:shortIDLen]
	}
	return s.SessionID
}

func resolve(rows []index.Session) []Resolved {
	out := make([]Resolved, 0, len(rows))
	for _, s := range rows {
		out = append(out, Resolved{Session: s, Title: ResolveTitle(s)})
	}
	return out
}

// Discover lists sessions from the index. If the store query
// fails it falls back to a direct filesystem scan so listings
// keep working with a broken database.
func (s *Service) Discover(
	ctx context.Context, filter index.Filter,
) ([]Resolved, error) {
	rows, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		log.Printf("discover: index query failed, scanning filesystem: %v", err)
		return s.scanProjects()
	}
	return resolve(rows), nil
}

// Get returns one session by exact id.
func (s *Service) Get(ctx context.Context, sessionID string) (*Resolved, error) {
	row, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	r := Resolved{Session: *row, Title: ResolveTitle(*row)}
	return &r, nil
}

// Find resolves a free-form query to a single session. Matching
// order: exact id, exact slug, id prefix, case-insensitive slug
// substring, case-insensitive title substring.
func (s *Service) Find(ctx context.Context, query string) (*Resolved, error) {
	sessions, err := s.Discover(ctx, index.Filter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	passes := []func(r Resolved) bool{
		func(r Resolved) bool { return r.SessionID == query },
		func(r Resolved) bool {
			return r.Slug != nil && *r.Slug == query
		},
		func(r Resolved) bool {
			return strings.HasPrefix(r.SessionID, query)
		},
		func(r Resolved) bool {
			return r.Slug != nil &&
				strings.Contains(strings.ToLower(*r.Slug), lower)
		},
		func(r Resolved) bool {
			return strings.Contains(strings.ToLower(r.Title), lower)
		},
	}
	for _, match := range passes {
		for i := range sessions {
			if match(sessions[i]) {
				return &sessions[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// scanProjects builds session listings straight from the
// transcript tree. Slower than the index and without overlays,
// but it needs nothing beyond the filesystem.
func (s *Service) scanProjects() ([]Resolved, error) {
	projectsDir := s.engine.ProjectsDir()
	dirs, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Resolved
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dirPath := filepath.Join(projectsDir, d.Name())
		entries, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() ||
				!strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(dirPath, entry.Name())
			records, _, err := transcript.ParseFile(path)
			if err != nil {
				log.Printf("discover: skipping %s: %v", path, err)
				continue
			}
			meta := transcript.ComputeMeta(records)
			row := scannedSession(
				strings.TrimSuffix(entry.Name(), ".jsonl"),
				path, d.Name(), meta,
			)
			out = append(out, Resolved{
				Session: row,
				Title:   ResolveTitle(row),
			})
		}
	}
	return out, nil
}

func scannedSession(
	sessionID, path, encodedDir string, m transcript.Meta,
) index.Session {
	s := index.Session{
		SessionID:      sessionID,
		FilePath:       path,
		EncodedDir:     encodedDir,
		CreatedAt:      timeutil.Ptr(m.CreatedAt),
		LastAccessedAt: timeutil.Ptr(m.LastAccessedAt),
		MessageCount:   m.TotalCount,
		UserCount:      m.UserCount,
		AssistantCount: m.AssistantCount,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
	}
	if m.Model != "" {
		s.Model = &m.Model
	}
	if m.GitBranch != "" {
		s.GitBranch = &m.GitBranch
	}
	if m.Slug != "" {
		s.Slug = &m.Slug
	}
	if m.Cwd != "" {
		s.Cwd = &m.Cwd
	}
	if m.FirstUserText != "" {
		s.FirstMessage = &m.FirstUserText
	}
	return s
}

package session

import (
	"context"
	"fmt"
	"os"

	"github.com/wesm/sessionvault/internal/index"
)

// Archive sets the archive flag for a session.
func (s *Service) Archive(sessionID string) error {
	return s.store.SetArchived(sessionID, true)
}

// Unarchive clears the archive flag for a session.
func (s *Service) Unarchive(sessionID string) error {
	return s.store.SetArchived(sessionID, false)
}

// Rename sets a custom title. An empty title clears the custom
// title, falling back to the derived one.
func (s *Service) Rename(sessionID, title string) error {
	return s.store.SetTitle(sessionID, title)
}

// Delete permanently removes a session: the transcript file is
// deleted from disk and the index row hard-removed with its
// overlays. This is distinct from the soft delete the sync
// engine applies when a file disappears on its own.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	row, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}

	if err := os.Remove(row.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing transcript: %w", err)
	}
	if _, err := s.store.DeleteSessionByKey(sessionID); err != nil {
		return fmt.Errorf("removing index row: %w", err)
	}
	return nil
}

// Search runs a full-text query and returns grouped hits.
func (s *Service) Search(
	ctx context.Context, query string, opts index.SearchOptions,
) ([]index.SearchHit, error) {
	return s.store.Search(ctx, query, opts)
}

// Stats returns index-wide counters.
func (s *Service) Stats(ctx context.Context) (index.Stats, error) {
	return s.store.Stats(ctx)
}

// Messages returns the indexed message rows for a session in
// file order.
func (s *Service) Messages(
	ctx context.Context, sessionID string,
) ([]index.Message, error) {
	row, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return s.store.MessagesForFile(ctx, row.RowID)
}

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wesm/sessionvault/internal/pathenc"
	"github.com/wesm/sessionvault/internal/transcript"
)

// Move relocates a session to a new working directory: the index
// row is dropped first, then every record's cwd is rewritten and
// the file renamed into the encoded target directory, then the
// row is re-inserted at the new path with its overlays intact.
//
// The delete-then-reindex order matters. A sync that observes the
// file at the new path mid-move cannot create a duplicate row
// because the old row is already gone, and a sync that runs
// between the delete and the re-insert leaves the session
// temporarily unindexed, which the next cycle repairs.
func (s *Service) Move(
	ctx context.Context, sessionID, newWorkingDir string,
) error {
	row, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}

	encoded := pathenc.Encode(newWorkingDir)
	targetDir := filepath.Join(s.engine.ProjectsDir(), encoded)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	target := filepath.Join(targetDir, sessionID+".jsonl")
	if target == row.FilePath {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s: %w", target, ErrConflict)
	}
	if _, err := os.Stat(row.FilePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", row.FilePath, ErrNotFound)
		}
		return err
	}

	ov, err := s.store.DeleteSessionByKey(sessionID)
	if err != nil {
		return fmt.Errorf("dropping index row: %w", err)
	}

	if _, err := transcript.RewriteCwd(row.FilePath, newWorkingDir); err != nil {
		return fmt.Errorf("rewriting cwd: %w", err)
	}
	if err := os.Rename(row.FilePath, target); err != nil {
		return fmt.Errorf("renaming transcript: %w", err)
	}

	if err := s.engine.IndexPath(target, encoded, sessionID, ov); err != nil {
		return fmt.Errorf("indexing moved transcript: %w", err)
	}
	return nil
}

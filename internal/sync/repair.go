package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/pathenc"
	"github.com/wesm/sessionvault/internal/transcript"
)

// RepairReport summarizes one run of the repair passes.
type RepairReport struct {
	ScratchDirsCreated int
	Unfixable          []string
	CwdRewritten       int
	UntrackedIndexed   int
}

// Repair runs all three repair passes. Each pass is idempotent;
// a second run on an already-repaired tree changes nothing.
func (e *Engine) Repair(ctx context.Context) (RepairReport, error) {
	var r RepairReport
	var err error

	r.ScratchDirsCreated, r.Unfixable, err = e.RepairScratchDirs(ctx)
	if err != nil {
		return r, err
	}
	r.CwdRewritten, err = e.RepairCwd()
	if err != nil {
		return r, err
	}
	r.UntrackedIndexed, err = e.RepairUntracked()
	return r, err
}

// RepairScratchDirs recreates missing scratch working
// directories. Missing project directories cannot be recreated
// safely and are reported instead.
func (e *Engine) RepairScratchDirs(
	ctx context.Context,
) (created int, unfixable []string, err error) {
	sessions, err := e.store.ListSessions(ctx, index.Filter{
		IncludeDeleted:  true,
		IncludeArchived: true,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("listing sessions: %w", err)
	}

	seen := make(map[string]bool)
	for _, s := range sessions {
		if s.Cwd == nil || *s.Cwd == "" || seen[*s.Cwd] {
			continue
		}
		seen[*s.Cwd] = true

		if _, err := os.Stat(*s.Cwd); err == nil {
			continue
		}
		if isUnder(e.scratchRoot, *s.Cwd) {
			if err := os.MkdirAll(*s.Cwd, 0o755); err != nil {
				return created, unfixable,
					fmt.Errorf("recreating scratch dir for %s at %s: %w",
						s.SessionID, *s.Cwd, err)
			}
			created++
			continue
		}
		unfixable = append(unfixable,
			fmt.Sprintf("%s: %s", s.SessionID, *s.Cwd))
	}
	return created, unfixable, nil
}

// RepairCwd rewrites transcript cwd fields that disagree with
// the decoded name of their parent directory. Rewritten files
// get a new (mtime, size) pair, so the next sync re-indexes them.
func (e *Engine) RepairCwd() (rewritten int, err error) {
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}

	for _, f := range e.enumerate() {
		want := pathenc.Decode(f.encodedDir, exists)
		changed, err := transcript.RewriteCwd(f.path, want)
		if err != nil {
			log.Printf("repair cwd %s: %v", f.path, err)
			continue
		}
		if changed > 0 {
			rewritten++
		}
	}
	return rewritten, nil
}

// RepairUntracked indexes every transcript whose path the store
// does not know.
func (e *Engine) RepairUntracked() (added int, err error) {
	tracked, err := e.store.TrackedFiles()
	if err != nil {
		return 0, fmt.Errorf("loading tracked files: %w", err)
	}
	for _, f := range e.enumerate() {
		if _, known := tracked[f.path]; known {
			continue
		}
		if err := e.indexFile(f, nil); err != nil {
			log.Printf("repair untracked %s: %v", f.path, err)
			continue
		}
		added++
	}
	return added, nil
}

// isUnder reports whether path sits inside dir after cleaning
// both paths.
func isUnder(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	sep := string(filepath.Separator)
	return rel != ".." && !strings.HasPrefix(rel, ".."+sep)
}

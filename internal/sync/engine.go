// Package sync reconciles the on-disk transcript tree against the
// index store: one cycle enumerates projects/, diffs each file's
// (mtime, size) pair against its tracked row, soft-deletes
// absentees, restores reappeared files, and re-indexes changes.
package sync

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/timeutil"
	"github.com/wesm/sessionvault/internal/transcript"
)

// Tally summarizes one sync cycle.
type Tally struct {
	Added     int           `json:"added"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Unchanged int           `json:"unchanged"`
	Duration  time.Duration `json:"duration"`
}

// Engine reconciles transcripts under <root>/projects/ with the
// index store.
type Engine struct {
	store       *index.Store
	root        string
	scratchRoot string

	syncMu gosync.Mutex // serializes full cycles

	mu        gosync.RWMutex
	lastSync  time.Time
	lastTally Tally
}

// NewEngine creates a sync engine. root is the transcript root
// (the directory containing projects/); scratchRoot is where
// scratch-session working directories live.
func NewEngine(store *index.Store, root, scratchRoot string) *Engine {
	return &Engine{store: store, root: root, scratchRoot: scratchRoot}
}

// ProjectsDir returns the directory holding per-project
// transcript subdirectories.
func (e *Engine) ProjectsDir() string {
	return filepath.Join(e.root, "projects")
}

// LastSync returns the time of the last completed cycle.
func (e *Engine) LastSync() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastTally returns the tally of the last completed cycle.
func (e *Engine) LastTally() Tally {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTally
}

// diskFile is one candidate transcript found on disk.
type diskFile struct {
	path       string
	encodedDir string
	sessionID  string
	mtimeMs    int64
	size       int64
}

// enumerate lists every *.jsonl under the immediate
// subdirectories of projects/. Directory read errors mean "no
// files there" and are never fatal.
func (e *Engine) enumerate() []diskFile {
	dirs, err := os.ReadDir(e.ProjectsDir())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("reading projects dir: %v", err)
		}
		return nil
	}

	var files []diskFile
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dirPath := filepath.Join(e.ProjectsDir(), d.Name())
		entries, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() ||
				!strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, diskFile{
				path:       filepath.Join(dirPath, entry.Name()),
				encodedDir: d.Name(),
				sessionID:  strings.TrimSuffix(entry.Name(), ".jsonl"),
				mtimeMs:    info.ModTime().UnixMilli(),
				size:       info.Size(),
			})
		}
	}
	return files
}

// Sync runs one reconcile cycle and returns its tally.
func (e *Engine) Sync() (Tally, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.syncLocked()
}

func (e *Engine) syncLocked() (Tally, error) {
	t0 := time.Now()

	onDisk := e.enumerate()
	tracked, err := e.store.TrackedFiles()
	if err != nil {
		return Tally{}, fmt.Errorf("loading tracked files: %w", err)
	}

	onDiskSet := make(map[string]struct{}, len(onDisk))
	for _, f := range onDisk {
		onDiskSet[f.path] = struct{}{}
	}

	var tally Tally

	// Indexed paths gone from disk are soft-deleted, once.
	for path, tf := range tracked {
		if _, ok := onDiskSet[path]; ok {
			continue
		}
		if tf.IsDeleted {
			continue
		}
		if err := e.store.MarkDeleted(tf.RowID); err != nil {
			log.Printf("sync error: marking %s deleted: %v", path, err)
			continue
		}
		tally.Deleted++
	}

	for _, f := range onDisk {
		tf, known := tracked[f.path]
		restored := known && tf.IsDeleted
		if restored {
			if err := e.store.MarkRestored(tf.RowID); err != nil {
				log.Printf("sync error: restoring %s: %v", f.path, err)
				continue
			}
		}

		switch {
		case !known:
			if err := e.indexFile(f, nil); err != nil {
				log.Printf("sync error: %v", err)
				continue
			}
			tally.Added++
		case tf.MtimeMs != f.mtimeMs || tf.SizeBytes != f.size:
			// Re-index replaces the row at this path only; a
			// session id shared across project directories keeps
			// its other rows. Titles live in their own table, so
			// only the archive flag needs carrying over.
			ov := &index.Overlays{
				IsArchived: tf.IsArchived,
				ArchivedAt: tf.ArchivedAt,
			}
			if err := e.indexFile(f, ov); err != nil {
				log.Printf("sync error: %v", err)
				continue
			}
			tally.Updated++
		case restored:
			tally.Updated++
		default:
			tally.Unchanged++
		}
	}

	tally.Duration = time.Since(t0)

	e.mu.Lock()
	e.lastSync = time.Now()
	e.lastTally = tally
	e.mu.Unlock()
	return tally, nil
}

// Rebuild wipes every file and message row, re-indexes the whole
// tree, and restores archive flags by session id. Custom titles
// live in their own table and survive the wipe untouched.
func (e *Engine) Rebuild() (Tally, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	archived, err := e.store.ArchivedSessionIDs()
	if err != nil {
		return Tally{}, fmt.Errorf("snapshotting archive flags: %w", err)
	}
	if err := e.store.WipeFiles(); err != nil {
		return Tally{}, fmt.Errorf("wiping index: %w", err)
	}

	tally, err := e.syncLocked()
	if err != nil {
		return tally, err
	}

	for _, id := range archived {
		if err := e.store.SetArchived(id, true); err != nil {
			log.Printf("rebuild: restoring archive flag for %s: %v", id, err)
		}
	}
	return tally, nil
}

// IndexPath stats and indexes a single transcript, restoring
// overlays when provided. Used by the session facade after a
// move has placed the file at its new path.
func (e *Engine) IndexPath(
	path, encodedDir, sessionID string, ov *index.Overlays,
) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return e.indexFile(diskFile{
		path:       path,
		encodedDir: encodedDir,
		sessionID:  sessionID,
		mtimeMs:    info.ModTime().UnixMilli(),
		size:       info.Size(),
	}, ov)
}

// indexFile parses one transcript and writes its file row and
// message rows, restoring overlays when provided.
func (e *Engine) indexFile(f diskFile, ov *index.Overlays) error {
	records, _, err := transcript.ParseFile(f.path)
	if err != nil {
		return err
	}
	meta := transcript.ComputeMeta(records)

	info := index.FileInfo{
		SessionID:  f.sessionID,
		Path:       f.path,
		EncodedDir: f.encodedDir,
		MtimeMs:    f.mtimeMs,
		SizeBytes:  f.size,
	}
	_, err = e.store.UpsertFile(
		info, derivedFrom(meta), messageRows(records), ov,
	)
	return err
}

func derivedFrom(m transcript.Meta) index.Derived {
	return index.Derived{
		CreatedAt:      timeutil.Format(m.CreatedAt),
		LastAccessedAt: timeutil.Format(m.LastAccessedAt),
		MessageCount:   m.TotalCount,
		UserCount:      m.UserCount,
		AssistantCount: m.AssistantCount,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		Model:          m.Model,
		GitBranch:      m.GitBranch,
		Slug:           m.Slug,
		Cwd:            m.Cwd,
		FirstMessage:   m.FirstUserText,
	}
}

func messageRows(records []transcript.Record) []index.Message {
	var msgs []index.Message
	for _, r := range records {
		if !r.IsMessage() {
			continue
		}
		msgs = append(msgs, index.Message{
			UUID:      r.UUID,
			Ordinal:   r.Line,
			Role:      string(r.Type),
			Timestamp: timeutil.Format(r.Timestamp),
			Content:   r.Text(),
		})
	}
	return msgs
}

package sync

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher uses fsnotify to watch the projects tree for transcript
// changes and triggers a debounced callback. The callback runs one
// sync cycle, so individual changed paths are coalesced rather
// than processed per file.
type Watcher struct {
	onChange func()
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  map[string]time.Time
	mu       gosync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce gosync.Once
	now      func() time.Time
}

// NewWatcher creates a file watcher that calls onChange after the
// debounce period elapses with no further changes to a path.
func NewWatcher(
	debounce time.Duration, onChange func(),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// WatchProjects adds the projects directory and each project
// subdirectory to the watch list. New project directories created
// later are picked up from their create events. Returns the
// number of directories watched.
func (w *Watcher) WatchProjects(projectsDir string) (int, error) {
	if err := w.watcher.Add(projectsDir); err != nil {
		return 0, fmt.Errorf("watching %s: %w", projectsDir, err)
	}
	watched := 1

	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return watched, nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.watcher.Add(
			filepath.Join(projectsDir, e.Name()),
		); err == nil {
			watched++
		}
	}
	return watched, nil
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records a pending change. Removes and renames
// matter here too: the sync cycle is what notices soft deletes.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	const ops = fsnotify.Write | fsnotify.Create |
		fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		w.watchIfDir(event.Name)
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = w.now()
	w.mu.Unlock()
}

// watchIfDir adds a path to the watch list if it is a directory.
func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = w.watcher.Add(path)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	now := w.now()
	ready := 0
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			delete(w.pending, path)
			ready++
		}
	}
	w.mu.Unlock()

	if ready > 0 {
		log.Printf("watcher: %d file(s) changed, triggering sync", ready)
		w.onChange()
	}
}

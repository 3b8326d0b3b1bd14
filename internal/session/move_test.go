package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"github.com/wesm/sessionvault/internal/index"
)

func TestMove(t *testing.T) {
	svc, store, engine := newTestService(t)
	writeSession(t, engine, "-tmp-old", "s1",
		sessionContent("hello", "/tmp/old", ""))
	writeSession(t, engine, "-tmp-new", "s2",
		sessionContent("other", "/tmp/new", ""))
	mustSync(t, engine)
	ctx := context.Background()

	if err := store.SetTitle("s1", "keep me"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetArchived("s1", true); err != nil {
		t.Fatal(err)
	}

	if err := svc.Move(ctx, "s1", "/tmp/new"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	sessions, err := store.ListSessions(ctx, index.Filter{
		IncludeArchived: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions after move, want 2", len(sessions))
	}

	moved, err := svc.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get after move: %v", err)
	}
	wantPath := filepath.Join(engine.ProjectsDir(), "-tmp-new", "s1.jsonl")
	if moved.FilePath != wantPath {
		t.Errorf("file path = %s, want %s", moved.FilePath, wantPath)
	}
	if moved.Title != "keep me" || !moved.IsArchived {
		t.Errorf("overlays lost: %+v", moved)
	}

	// Every record now carries the new working directory.
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if !gjson.Get(line, "cwd").Exists() {
			continue
		}
		if got := gjson.Get(line, "cwd").String(); got != "/tmp/new" {
			t.Errorf("cwd = %q, want /tmp/new", got)
		}
	}

	// The old path is gone from disk and a follow-up sync sees
	// nothing to do.
	oldPath := filepath.Join(engine.ProjectsDir(), "-tmp-old", "s1.jsonl")
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old transcript still on disk")
	}
	tally, err := engine.Sync()
	if err != nil {
		t.Fatal(err)
	}
	if tally.Added != 0 || tally.Updated != 0 || tally.Deleted != 0 {
		t.Errorf("post-move sync tally = %+v, want all zero", tally)
	}
}

func TestMoveConflict(t *testing.T) {
	svc, _, engine := newTestService(t)
	writeSession(t, engine, "-tmp-old", "s1",
		sessionContent("hello", "/tmp/old", ""))
	// Same session id already present at the target directory.
	writeSession(t, engine, "-tmp-new", "s1",
		sessionContent("imposter", "/tmp/new", ""))
	mustSync(t, engine)

	err := svc.Move(context.Background(), "s1", "/tmp/new")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Move error = %v, want conflict", err)
	}
}

func TestMoveVanishedFile(t *testing.T) {
	svc, store, engine := newTestService(t)
	path := writeSession(t, engine, "-tmp-old", "s1",
		sessionContent("hello", "/tmp/old", ""))
	mustSync(t, engine)
	ctx := context.Background()

	// The file disappears between indexing and the move.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	err := svc.Move(ctx, "s1", "/tmp/new")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Move error = %v, want not found", err)
	}

	// The index row is untouched; the next sync soft-deletes it.
	row, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("index row gone after failed move")
	}
}

func TestMoveUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Move(context.Background(), "nope", "/tmp/new")
	if err != ErrNotFound {
		t.Errorf("Move error = %v, want ErrNotFound", err)
	}
}

func TestMoveSamePathIsNoop(t *testing.T) {
	svc, _, engine := newTestService(t)
	writeSession(t, engine, "-tmp-old", "s1",
		sessionContent("hello", "/tmp/old", ""))
	mustSync(t, engine)

	if err := svc.Move(context.Background(), "s1", "/tmp/old"); err != nil {
		t.Fatalf("Move to same path: %v", err)
	}
}

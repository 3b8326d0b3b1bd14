package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/sessionvault/internal/testjsonl"
)

const (
	ts0 = "2024-01-01T00:00:00Z"
	ts1 = "2024-01-01T00:00:01Z"
	ts2 = "2024-01-01T00:00:02Z"
	ts3 = "2024-01-01T00:00:03Z"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parseTestFile(t *testing.T, content string) ([]Record, Stats) {
	t.Helper()
	records, stats, err := ParseFile(writeTestFile(t, content))
	require.NoError(t, err)
	return records, stats
}

func TestParseFile_Basic(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddUser(ts0, "fix the login bug", testjsonl.Opts{
			UUID:      "u1",
			SessionID: "sess-1",
			Cwd:       "/home/dev/project",
			GitBranch: "main",
			Slug:      "fix-login-bug",
		}).
		AddAssistantModel(ts1, "looking at it now", "claude-sonnet-4", 100, 50).
		AddSummary("Login bug investigation", "u1").
		String()

	records, stats := parseTestFile(t, content)
	require.Len(t, records, 3)
	assert.Equal(t, 3, stats.Lines)
	assert.Equal(t, 0, stats.Malformed)

	assert.Equal(t, RecordUser, records[0].Type)
	assert.Equal(t, "u1", records[0].UUID)
	assert.Equal(t, "sess-1", records[0].SessionID)
	assert.Equal(t, "/home/dev/project", records[0].Cwd)
	assert.Equal(t, "main", records[0].GitBranch)
	assert.Equal(t, "fix-login-bug", records[0].Slug)
	assert.Equal(t, 0, records[0].Line)
	assert.Equal(t, "fix the login bug", records[0].Text())

	assert.Equal(t, RecordAssistant, records[1].Type)
	assert.Equal(t, "claude-sonnet-4", records[1].Model)
	assert.Equal(t, int64(100), records[1].InputTokens)
	assert.Equal(t, int64(50), records[1].OutputTokens)
	assert.Equal(t, 1, records[1].Line)

	assert.Equal(t, RecordSummary, records[2].Type)
	assert.False(t, records[2].IsMessage())
}

func TestParseFile_MalformedLines(t *testing.T) {
	content := "not valid json\n" +
		testjsonl.UserJSON("hello", ts0) + "\n" +
		`{"type":"user","truncated` + "\n" +
		testjsonl.AssistantJSON("hi", ts1) + "\n"

	records, stats := parseTestFile(t, content)
	require.Len(t, records, 2)
	assert.Equal(t, 4, stats.Lines)
	assert.Equal(t, 2, stats.Malformed)
	// Ordinals count all lines, malformed included, so a record's
	// Line always matches its position in the file.
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, 3, records[1].Line)
}

func TestParseFile_EmptyFile(t *testing.T) {
	records, stats := parseTestFile(t, "")
	assert.Empty(t, records)
	assert.Equal(t, Stats{}, stats)
}

func TestParseFile_SkipsBlankLines(t *testing.T) {
	content := "\n\n" + testjsonl.UserJSON("msg", ts0) + "\n\n"
	records, stats := parseTestFile(t, content)
	require.Len(t, records, 1)
	assert.Equal(t, 1, stats.Lines)
}

func TestParseFile_MissingType(t *testing.T) {
	content := `{"timestamp":"` + ts0 + `"}` + "\n"
	records, stats := parseTestFile(t, content)
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Malformed)
}

func TestParseFile_NotFound(t *testing.T) {
	_, _, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestComputeMeta(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddUser(ts0, "first question", testjsonl.Opts{
			Cwd:       "/home/dev/old",
			GitBranch: "main",
		}).
		AddAssistantModel(ts1, "answer one", "claude-sonnet-4", 100, 50).
		AddUser(ts2, "second question", testjsonl.Opts{
			Cwd:       "/home/dev/new",
			GitBranch: "feature",
			Slug:      "my-session",
		}).
		AddAssistantModel(ts3, "answer two", "claude-opus-4", 200, 75).
		String()

	records, _ := parseTestFile(t, content)
	m := ComputeMeta(records)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), m.CreatedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC), m.LastAccessedAt)
	assert.Equal(t, 4, m.TotalCount)
	assert.Equal(t, 2, m.UserCount)
	assert.Equal(t, 2, m.AssistantCount)
	assert.Equal(t, int64(300), m.InputTokens)
	assert.Equal(t, int64(125), m.OutputTokens)
	assert.Equal(t, "first question", m.FirstUserText)
	// Model counts tie at 1 each; the most recently used wins.
	assert.Equal(t, "claude-opus-4", m.Model)
	// Branch, slug, and cwd take the last non-empty value.
	assert.Equal(t, "feature", m.GitBranch)
	assert.Equal(t, "my-session", m.Slug)
	assert.Equal(t, "/home/dev/new", m.Cwd)
}

func TestComputeMeta_ModalModel(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddAssistantModel(ts0, "a", "claude-opus-4", 1, 1).
		AddAssistantModel(ts1, "b", "claude-sonnet-4", 1, 1).
		AddAssistantModel(ts2, "c", "claude-sonnet-4", 1, 1).
		String()

	records, _ := parseTestFile(t, content)
	assert.Equal(t, "claude-sonnet-4", ComputeMeta(records).Model)
}

func TestComputeMeta_SkipsMetaForFirstText(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddMetaUser(ts0, "injected context", true, false).
		AddMetaUser(ts1, "compacted summary", false, true).
		AddUser(ts2, "real question").
		String()

	records, _ := parseTestFile(t, content)
	m := ComputeMeta(records)
	assert.Equal(t, "real question", m.FirstUserText)
	assert.Equal(t, 3, m.UserCount)
}

func TestComputeMeta_TruncatesFirstText(t *testing.T) {
	long := strings.Repeat("x", 400)
	records, _ := parseTestFile(t, testjsonl.UserJSON(long, ts0)+"\n")
	m := ComputeMeta(records)
	assert.Equal(t, 303, len(m.FirstUserText))
	assert.True(t, strings.HasSuffix(m.FirstUserText, "..."))
}

func TestComputeMeta_NoTimestamps(t *testing.T) {
	records, _ := parseTestFile(t, testjsonl.UserJSON("hi", "")+"\n")
	m := ComputeMeta(records)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, m.CreatedAt, m.LastAccessedAt)
}

func TestComputeMeta_Empty(t *testing.T) {
	m := ComputeMeta(nil)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Zero(t, m.TotalCount)
	assert.Empty(t, m.Model)
}

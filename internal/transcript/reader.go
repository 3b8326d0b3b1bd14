package transcript

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats counts what happened during a file parse.
type Stats struct {
	Lines     int
	Malformed int
}

// ParseFile parses a transcript file into ordered records.
// Malformed lines are skipped and counted, never fatal; the only
// error returned is an unrecoverable I/O failure.
func ParseFile(path string) ([]Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		records []Record
		stats   Stats
	)
	lr := newLineReader(f, maxLineSize)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		stats.Lines++
		rec, ok := ParseRecord(line, stats.Lines-1)
		if !ok {
			stats.Malformed++
			continue
		}
		records = append(records, rec)
	}
	return records, stats, nil
}

// Meta is the session-level metadata derived from a transcript's
// records. It feeds the cached columns of the file-tracking row.
type Meta struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	TotalCount     int
	UserCount      int
	AssistantCount int
	InputTokens    int64
	OutputTokens   int64
	Model          string
	GitBranch      string
	Slug           string
	Cwd            string
	FirstUserText  string
}

const firstMessageMaxLen = 300

// ComputeMeta derives session metadata from parsed records.
// CreatedAt falls back to the current time when no record carries
// a valid timestamp.
func ComputeMeta(records []Record) Meta {
	var m Meta
	modelCounts := make(map[string]int)
	modelLast := make(map[string]time.Time)

	for _, r := range records {
		if !r.Timestamp.IsZero() {
			if m.CreatedAt.IsZero() || r.Timestamp.Before(m.CreatedAt) {
				m.CreatedAt = r.Timestamp
			}
			if r.Timestamp.After(m.LastAccessedAt) {
				m.LastAccessedAt = r.Timestamp
			}
		}
		if r.GitBranch != "" {
			m.GitBranch = r.GitBranch
		}
		if r.Slug != "" {
			m.Slug = r.Slug
		}
		if r.Cwd != "" {
			m.Cwd = r.Cwd
		}

		if !r.IsMessage() {
			continue
		}
		m.TotalCount++
		switch r.Type {
		case RecordUser:
			m.UserCount++
			if m.FirstUserText == "" && !r.IsMeta() {
				if text := strings.TrimSpace(r.Text()); text != "" {
					m.FirstUserText = clip(text, firstMessageMaxLen)
				}
			}
		case RecordAssistant:
			m.AssistantCount++
			m.InputTokens += r.InputTokens
			m.OutputTokens += r.OutputTokens
			if r.Model != "" {
				modelCounts[r.Model]++
				if r.Timestamp.After(modelLast[r.Model]) {
					modelLast[r.Model] = r.Timestamp
				}
			}
		}
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = m.CreatedAt
	}

	// Most frequent assistant model, ties broken by most recent use.
	for model, count := range modelCounts {
		best := modelCounts[m.Model]
		switch {
		case m.Model == "" || count > best:
			m.Model = model
		case count == best && modelLast[model].After(modelLast[m.Model]):
			m.Model = model
		}
	}

	return m
}

// Package testjsonl provides shared JSONL fixture builders for
// transcript test data. Used by the transcript, sync, and session
// test packages.
package testjsonl

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Opts holds optional top-level fields for a record line.
type Opts struct {
	UUID      string
	SessionID string
	Cwd       string
	GitBranch string
	Slug      string
}

// UserJSON returns a user message line as a JSON string.
func UserJSON(content, timestamp string, opts ...Opts) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	applyOpts(m, opts)
	return mustMarshal(m)
}

// MetaUserJSON returns a user message line with optional isMeta
// and isCompactSummary flags as a JSON string.
func MetaUserJSON(content, timestamp string, meta, compact bool) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	m["uuid"] = uuid.NewString()
	if meta {
		m["isMeta"] = true
	}
	if compact {
		m["isCompactSummary"] = true
	}
	return mustMarshal(m)
}

// AssistantJSON returns an assistant message line as a JSON
// string. content is a string or a slice of block objects.
func AssistantJSON(content any, timestamp string, opts ...Opts) string {
	m := map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "assistant",
			"content": content,
		},
	}
	applyOpts(m, opts)
	return mustMarshal(m)
}

// AssistantModelJSON returns an assistant message line carrying
// a model name and token usage.
func AssistantModelJSON(
	text, timestamp, model string, inputTokens, outputTokens int,
) string {
	m := map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":  "assistant",
			"model": model,
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"usage": map[string]any{
				"input_tokens":  inputTokens,
				"output_tokens": outputTokens,
			},
		},
		"uuid": uuid.NewString(),
	}
	return mustMarshal(m)
}

// SummaryJSON returns a summary record line as a JSON string.
func SummaryJSON(summary, leafUUID string) string {
	return mustMarshal(map[string]any{
		"type":     "summary",
		"summary":  summary,
		"leafUuid": leafUUID,
	})
}

// JoinJSONL joins JSON lines with newlines and appends a
// trailing newline.
func JoinJSONL(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// SessionBuilder constructs JSONL session content using a
// fluent API.
type SessionBuilder struct {
	lines []string
}

// NewSessionBuilder returns a new empty SessionBuilder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{}
}

// AddUser appends a user message line.
func (b *SessionBuilder) AddUser(
	timestamp, content string, opts ...Opts,
) *SessionBuilder {
	b.lines = append(b.lines, UserJSON(content, timestamp, opts...))
	return b
}

// AddMetaUser appends a user message line with isMeta and/or
// isCompactSummary flags.
func (b *SessionBuilder) AddMetaUser(
	timestamp, content string, meta, compact bool,
) *SessionBuilder {
	b.lines = append(b.lines, MetaUserJSON(content, timestamp, meta, compact))
	return b
}

// AddAssistant appends an assistant message line with a single
// text block.
func (b *SessionBuilder) AddAssistant(
	timestamp, text string, opts ...Opts,
) *SessionBuilder {
	b.lines = append(b.lines, AssistantJSON(
		[]map[string]string{{"type": "text", "text": text}},
		timestamp,
		opts...,
	))
	return b
}

// AddAssistantModel appends an assistant message line with a
// model and token usage.
func (b *SessionBuilder) AddAssistantModel(
	timestamp, text, model string, inputTokens, outputTokens int,
) *SessionBuilder {
	b.lines = append(b.lines, AssistantModelJSON(
		text, timestamp, model, inputTokens, outputTokens,
	))
	return b
}

// AddSummary appends a summary record line.
func (b *SessionBuilder) AddSummary(
	summary, leafUUID string,
) *SessionBuilder {
	b.lines = append(b.lines, SummaryJSON(summary, leafUUID))
	return b
}

// AddRaw appends an arbitrary raw line.
func (b *SessionBuilder) AddRaw(line string) *SessionBuilder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *SessionBuilder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// applyOpts merges the optional fields into the record. Records
// always carry a uuid; a generated one stands in when the caller
// does not care.
func applyOpts(m map[string]any, opts []Opts) {
	m["uuid"] = uuid.NewString()
	if len(opts) == 0 {
		return
	}
	o := opts[0]
	if o.UUID != "" {
		m["uuid"] = o.UUID
	}
	if o.SessionID != "" {
		m["sessionId"] = o.SessionID
	}
	if o.Cwd != "" {
		m["cwd"] = o.Cwd
	}
	if o.GitBranch != "" {
		m["gitBranch"] = o.GitBranch
	}
	if o.Slug != "" {
		m["slug"] = o.Slug
	}
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Package transcript parses the append-only JSONL files the
// assistant writes under <root>/projects/. Files are owned by the
// assistant process; this package reads them and performs the one
// controlled write, the cwd rewrite used by moves and repair.
package transcript

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesm/sessionvault/internal/timeutil"
)

// RecordType classifies a JSONL line.
type RecordType string

const (
	RecordUser      RecordType = "user"
	RecordAssistant RecordType = "assistant"
	RecordSummary   RecordType = "summary"
	RecordInternal  RecordType = "internal"
)

// Record is one parsed line of a transcript file.
type Record struct {
	UUID         string
	ParentUUID   string
	SessionID    string
	Type         RecordType
	Timestamp    time.Time
	Cwd          string
	GitBranch    string
	Slug         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Line         int // 0-based ordinal within the file

	// raw is the original JSON line; content access goes through
	// gjson so mixed string/array content never needs an
	// intermediate struct.
	raw string
}

// ParseRecord parses a single JSONL line. Returns false for
// malformed or non-JSON lines; those are counted by the caller
// but never abort a parse.
func ParseRecord(line string, ordinal int) (Record, bool) {
	if !gjson.Valid(line) {
		return Record{}, false
	}

	typ := gjson.Get(line, "type").Str
	rt := RecordInternal
	switch typ {
	case "user":
		rt = RecordUser
	case "assistant":
		rt = RecordAssistant
	case "summary":
		rt = RecordSummary
	case "":
		return Record{}, false
	}

	r := Record{
		UUID:       gjson.Get(line, "uuid").Str,
		ParentUUID: gjson.Get(line, "parentUuid").Str,
		SessionID:  gjson.Get(line, "sessionId").Str,
		Type:       rt,
		Timestamp:  timeutil.Parse(gjson.Get(line, "timestamp").Str),
		Cwd:        gjson.Get(line, "cwd").Str,
		GitBranch:  gjson.Get(line, "gitBranch").Str,
		Slug:       gjson.Get(line, "slug").Str,
		Line:       ordinal,
		raw:        line,
	}

	if rt == RecordAssistant {
		r.Model = gjson.Get(line, "message.model").Str
		r.InputTokens = gjson.Get(line, "message.usage.input_tokens").Int()
		r.OutputTokens = gjson.Get(line, "message.usage.output_tokens").Int()
	}

	return r, true
}

// IsMessage reports whether the record is a user or assistant
// message (the only types that become message rows).
func (r Record) IsMessage() bool {
	return r.Type == RecordUser || r.Type == RecordAssistant
}

// IsMeta reports whether a user record is system-injected
// (meta or compact-summary carrier) rather than typed by a person.
func (r Record) IsMeta() bool {
	return gjson.Get(r.raw, "isMeta").Bool() ||
		gjson.Get(r.raw, "isCompactSummary").Bool()
}

// Content returns the raw message content, which is either a
// JSON string or an array of typed blocks.
func (r Record) Content() gjson.Result {
	return gjson.Get(r.raw, "message.content")
}

// Text returns the flattened textual content suitable for
// full-text indexing and chat-mode streaming.
func (r Record) Text() string {
	return FlattenContent(r.Content())
}

// Raw returns the original JSON line.
func (r Record) Raw() string {
	return r.raw
}

package bridge

import (
	"encoding/base64"
	"encoding/json"
	"log"

	"github.com/wesm/sessionvault/internal/timeutil"
	"github.com/wesm/sessionvault/internal/transcript"
)

// clientFrame is any message a streaming client can send. One
// struct covers both protocol versions; unused fields are zero.
type clientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
	Mode string `json:"mode,omitempty"`
}

// ChatMessage is the normalised chat-mode record sent to
// streaming clients.
type ChatMessage struct {
	UUID      string `json:"uuid,omitempty"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp,omitempty"`
	Content   string `json:"content"`
}

func chatMessageFromRecord(r *transcript.Record) ChatMessage {
	return ChatMessage{
		UUID:      r.UUID,
		Role:      string(r.Type),
		Timestamp: timeutil.Format(r.Timestamp),
		Content:   r.Text(),
	}
}

func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("bridge: marshaling frame: %v", err)
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return data
}

// Terminal bytes travel base64-encoded; raw PTY output is not
// guaranteed to be valid UTF-8 and the frames are JSON text.
func outputFrame(data []byte) []byte {
	return marshalFrame(map[string]any{
		"type": "output",
		"data": base64.StdEncoding.EncodeToString(data),
	})
}

func scrollbackFrame(data []byte) []byte {
	return marshalFrame(map[string]any{
		"type": "scrollback",
		"data": base64.StdEncoding.EncodeToString(data),
	})
}

func exitFrame(code int) []byte {
	return marshalFrame(map[string]any{"type": "exit", "code": code})
}

func errorFrame(msg string) []byte {
	return marshalFrame(map[string]any{"type": "error", "message": msg})
}

func messageFrame(msg ChatMessage) []byte {
	return marshalFrame(map[string]any{"type": "message", "data": msg})
}

type statusInfo struct {
	SessionID        string `json:"sessionId"`
	Title            string `json:"title"`
	WorkingDirectory string `json:"workingDirectory"`
	Running          bool   `json:"running"`
}

func statusFrame(s statusInfo) []byte {
	return marshalFrame(map[string]any{
		"type":             "status",
		"sessionId":        s.SessionID,
		"title":            s.Title,
		"workingDirectory": s.WorkingDirectory,
		"running":          s.Running,
	})
}

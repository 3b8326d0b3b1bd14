package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wesm/sessionvault/internal/session"
	"github.com/wesm/sessionvault/internal/tail"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge is reached from whatever origin the client app
	// runs on; the token is the access control.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleTerminalWS is the v1 terminal attach endpoint. v1 has no
// chat mode, so a mode frame simply ends the stream.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.svc.Get(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "unknown session "+sessionID)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	s.serveTerminal(conn, sessionID)
}

// handleSessionWS is the v2 endpoint; the mode query parameter
// selects the initial stream, and a mode client frame switches
// between chat and terminal on the same connection.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	resolved, err := s.svc.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session "+sessionID)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "chat"
	}
	if mode != "chat" && mode != "terminal" {
		writeError(w, http.StatusBadRequest, "mode must be chat or terminal")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for mode != "" {
		if mode == "terminal" {
			mode = s.serveTerminal(conn, sessionID)
			continue
		}
		mode = s.serveChat(
			conn,
			sessionStatus(resolved, s.hub.Running(sessionID)),
			resolved.FilePath,
		)
	}
}

// serveTerminal attaches the connection to the session's PTY
// fan-out until the connection closes or a mode frame asks for
// chat; the returned mode is "" when the stream is over. The
// writer goroutine owns all writes to conn; the read loop only
// feeds the hub.
func (s *Server) serveTerminal(
	conn *websocket.Conn, sessionID string,
) (next string) {
	m, c, err := s.hub.Attach(context.Background(), sessionID, 0, 0)
	if err != nil {
		writeFrame(conn, errorFrame(err.Error()))
		return ""
	}
	defer s.hub.Detach(m, c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-c.queue:
				if writeFrame(conn, frame) != nil {
					return
				}
			case <-c.closed:
				return
			}
		}
	}()

read:
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "input":
			if err := s.hub.Input(sessionID, []byte(f.Data)); err != nil {
				log.Printf("bridge: input to %s: %v", sessionID, err)
			}
		case "resize":
			if err := s.hub.Resize(sessionID, f.Cols, f.Rows); err != nil {
				log.Printf("bridge: resize %s: %v", sessionID, err)
			}
		case "spawn":
			err := s.hub.Respawn(
				context.Background(), sessionID, f.Cols, f.Rows,
			)
			if err != nil {
				log.Printf("bridge: respawn %s: %v", sessionID, err)
			}
		case "mode":
			if f.Mode == "chat" {
				next = f.Mode
				break read
			}
		}
	}

	c.close()
	<-writerDone
	return next
}

func sessionStatus(r *session.Resolved, running bool) statusInfo {
	info := statusInfo{
		SessionID: r.SessionID,
		Title:     r.Title,
		Running:   running,
	}
	if r.Cwd != nil {
		info.WorkingDirectory = *r.Cwd
	}
	return info
}

// serveChat streams the transcript as normalised chat messages:
// full history first, then live tail, until the connection
// closes or a mode frame asks for terminal; the returned mode is
// "" when the stream is over. The follower is per connection and
// stops with it.
func (s *Server) serveChat(
	conn *websocket.Conn, status statusInfo, filePath string,
) string {
	if writeFrame(conn, statusFrame(status)) != nil {
		return ""
	}

	follower := tail.New(filePath, tail.Options{ReadFromStart: true})
	follower.Start()
	defer follower.Stop()

	// Side-channel frames from the client never write to conn,
	// so the main loop below is the only writer. On a mode switch
	// the reader exits without closing readerDone; the next
	// stream owns the connection reads from then on.
	readerDone := make(chan struct{})
	modeCh := make(chan string, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(readerDone)
				return
			}
			var f clientFrame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			switch f.Type {
			case "send":
				if err := s.hub.SendText(status.SessionID, f.Text); err != nil {
					log.Printf("bridge: send to %s: %v", status.SessionID, err)
				}
			case "key":
				if err := s.hub.SendKey(status.SessionID, f.Key); err != nil {
					log.Printf("bridge: key to %s: %v", status.SessionID, err)
				}
			case "cancel":
				if err := s.hub.Cancel(status.SessionID); err != nil {
					log.Printf("bridge: cancel %s: %v", status.SessionID, err)
				}
			case "mode":
				if f.Mode == "terminal" {
					modeCh <- f.Mode
					return
				}
			}
		}
	}()

	for {
		select {
		case ev, ok := <-follower.Events():
			if !ok {
				return ""
			}
			switch ev.Kind {
			case tail.Record:
				if !ev.Record.IsMessage() {
					continue
				}
				frame := messageFrame(chatMessageFromRecord(ev.Record))
				if writeFrame(conn, frame) != nil {
					return ""
				}
			case tail.Deleted:
				writeFrame(conn, errorFrame("transcript deleted"))
				return ""
			}
		case next := <-modeCh:
			return next
		case <-readerDone:
			return ""
		}
	}
}

func writeFrame(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wesm/sessionvault/internal/config"
	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/session"
	syncpkg "github.com/wesm/sessionvault/internal/sync"
	"github.com/wesm/sessionvault/internal/testjsonl"
)

type testServer struct {
	srv      *Server
	http     *httptest.Server
	token    string
	filePath string
	engine   *syncpkg.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	engine := syncpkg.NewEngine(store, root, filepath.Join(root, "scratch"))
	dir := filepath.Join(engine.ProjectsDir(), "-tmp-a")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := testjsonl.NewSessionBuilder().
		AddUser("2024-01-01T00:00:00Z", "hello").
		AddAssistant("2024-01-01T00:00:01Z", "hi").
		String()
	filePath := filepath.Join(dir, "s1.jsonl")
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	svc := session.NewService(store, engine)
	cfgStore := config.NewServerConfigStore(
		filepath.Join(t.TempDir(), "server.json"),
	)
	auth, err := NewAuth(cfgStore)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if err := auth.SetPassword("p"); err != nil {
		t.Fatal(err)
	}
	token, _, err := auth.Login("p")
	if err != nil {
		t.Fatal(err)
	}

	srv := New(config.Config{}, svc, auth, NewNotifier(cfgStore, nil))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	t.Cleanup(srv.hub.Shutdown)

	return &testServer{
		srv:      srv,
		http:     hs,
		token:    token,
		filePath: filePath,
		engine:   engine,
	}
}

func (ts *testServer) request(
	t *testing.T, method, path string, body any, token string,
) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestAuthStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, "GET", "/api/auth/status", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		PasswordSet bool `json:"passwordSet"`
	}
	decodeBody(t, resp, &body)
	if !body.PasswordSet {
		t.Error("passwordSet = false")
	}
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, "POST", "/api/auth/login",
		map[string]string{"password": "wrong"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", resp.StatusCode)
	}

	resp = ts.request(t, "POST", "/api/auth/login",
		map[string]string{"password": "p"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decodeBody(t, resp, &body)
	if body.Token == "" || body.ExpiresIn <= 0 {
		t.Errorf("body = %+v", body)
	}
	if !ts.srv.auth.Verify(body.Token) {
		t.Error("issued token does not verify")
	}
}

func TestLoginMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(
		"POST", ts.http.URL+"/api/auth/login",
		strings.NewReader("{not json"),
	)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionsEndpointAuth(t *testing.T) {
	ts := newTestServer(t)

	if resp := ts.request(t, "GET", "/api/sessions", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}
	if resp := ts.request(t, "GET", "/api/sessions", nil, "bad.token"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}

	resp := ts.request(t, "GET", "/api/sessions", nil, ts.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sessions []session.Resolved
	decodeBody(t, resp, &sessions)
	if len(sessions) != 1 || sessions[0].SessionID != "s1" {
		t.Errorf("sessions = %+v", sessions)
	}
	if sessions[0].Title != "hello" {
		t.Errorf("title = %q", sessions[0].Title)
	}
}

func TestSideChannelErrors(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, "POST", "/api/sessions/nope/send",
		map[string]string{"text": "hi"}, ts.token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}

	// Known session, but no process attached.
	resp = ts.request(t, "POST", "/api/sessions/s1/send",
		map[string]string{"text": "hi"}, ts.token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("inactive session status = %d", resp.StatusCode)
	}

	resp = ts.request(t, "POST", "/api/sessions/s1/key",
		map[string]string{"key": "enter"}, ts.token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("inactive key status = %d", resp.StatusCode)
	}
}

func TestPushEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, "GET", "/api/push/vapid-key", nil, ts.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vapid-key status = %d", resp.StatusCode)
	}

	resp = ts.request(t, "POST", "/api/push/subscribe",
		config.PushSubscription{Endpoint: "https://push.example/1"}, ts.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe status = %d", resp.StatusCode)
	}

	// Missing endpoint is a 400.
	resp = ts.request(t, "POST", "/api/push/subscribe",
		config.PushSubscription{}, ts.token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad subscribe status = %d", resp.StatusCode)
	}
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func readWSFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var f map[string]any
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}

func TestChatStream(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(ts.http.URL, "/ws/v2/session/s1?mode=chat&token="+ts.token),
		nil,
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	status := readWSFrame(t, conn)
	if status["type"] != "status" || status["sessionId"] != "s1" {
		t.Fatalf("status frame = %v", status)
	}
	if status["title"] != "hello" {
		t.Errorf("status title = %v", status["title"])
	}

	// Full history first.
	first := readWSFrame(t, conn)
	if first["type"] != "message" {
		t.Fatalf("frame = %v", first)
	}
	msg := first["data"].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "hello" {
		t.Errorf("first message = %v", msg)
	}
	second := readWSFrame(t, conn)
	if second["data"].(map[string]any)["content"] != "hi" {
		t.Errorf("second message = %v", second)
	}

	// Then the live tail.
	f, err := os.OpenFile(ts.filePath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	line := testjsonl.UserJSON("are you there", "2024-01-01T00:00:02Z")
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	live := readWSFrame(t, conn)
	if live["type"] != "message" {
		t.Fatalf("live frame = %v", live)
	}
	if live["data"].(map[string]any)["content"] != "are you there" {
		t.Errorf("live message = %v", live)
	}
}

func TestModeSwitchChatToTerminal(t *testing.T) {
	ts := newTestServer(t)
	t.Setenv("SESSIONVAULT_ASSISTANT_CMD", `sh -c 'echo banner; sleep 2'`)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(ts.http.URL, "/ws/v2/session/s1?mode=chat&token="+ts.token),
		nil,
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Drain the chat stream: status plus the two history messages.
	for i := 0; i < 3; i++ {
		readWSFrame(t, conn)
	}

	if err := conn.WriteJSON(map[string]string{
		"type": "mode", "mode": "terminal",
	}); err != nil {
		t.Fatalf("sending mode frame: %v", err)
	}

	// The same connection now carries the PTY stream.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := readWSFrame(t, conn)
		typ, _ := f["type"].(string)
		if typ != "output" && typ != "scrollback" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(f["data"].(string))
		if err != nil {
			t.Fatalf("decoding %s payload: %v", typ, err)
		}
		if strings.Contains(string(raw), "banner") {
			return
		}
	}
	t.Fatal("no terminal output after mode switch")
}

func TestWSRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(ts.http.URL, "/ws/v2/session/s1?mode=chat&token=bad"),
		nil,
	)
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("upgrade response = %+v", resp)
	}
}

func TestWSUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(ts.http.URL, "/ws/v2/session/nope?mode=chat&token="+ts.token),
		nil,
	)
	if err == nil {
		t.Fatal("dial to unknown session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("upgrade response = %+v", resp)
	}
}

func TestWSBadMode(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(ts.http.URL, "/ws/v2/session/s1?mode=carrier-pigeon&token="+ts.token),
		nil,
	)
	if err == nil {
		t.Fatal("dial with bad mode succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("upgrade response = %+v", resp)
	}
}

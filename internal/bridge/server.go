// Package bridge is the remote session server: bearer-token
// auth over a shared password, read-only session listings, and
// per-session live streams in chat or terminal mode.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/sessionvault/internal/config"
	"github.com/wesm/sessionvault/internal/index"
	"github.com/wesm/sessionvault/internal/session"
)

// Server is the HTTP server for the remote bridge.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	svc     *session.Service
	auth    *Auth
	hub     *Hub
	notif   *Notifier
	mux     *http.ServeMux
	httpSrv *http.Server
}

// New creates a bridge server.
func New(
	cfg config.Config, svc *session.Service, auth *Auth, notif *Notifier,
) *Server {
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		auth:  auth,
		hub:   NewHub(svc),
		notif: notif,
		mux:   http.NewServeMux(),
	}
	s.hub.SetOutputObserver(notif.Observe)
	s.routes()
	return s
}

// Hub exposes the terminal hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)

	s.mux.Handle("GET /api/sessions", s.requireAuth(s.handleListSessions))
	s.mux.Handle("GET /api/push/vapid-key", s.requireAuth(s.handleVapidKey))
	s.mux.Handle("POST /api/push/subscribe", s.requireAuth(s.handleSubscribe))

	s.mux.Handle(
		"POST /api/sessions/{id}/send", s.requireAuth(s.handleSend),
	)
	s.mux.Handle(
		"POST /api/sessions/{id}/key", s.requireAuth(s.handleKey),
	)
	s.mux.Handle(
		"POST /api/sessions/{id}/cancel", s.requireAuth(s.handleCancel),
	)

	s.mux.Handle("GET /ws/session/{id}", s.requireAuth(s.handleTerminalWS))
	s.mux.Handle("GET /ws/v2/session/{id}", s.requireAuth(s.handleSessionWS))
}

// requestToken pulls the bearer token from the Authorization
// header, or the token query parameter for streaming upgrades.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

func (s *Server) requireAuth(
	next func(http.ResponseWriter, *http.Request),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Verify(requestToken(r)) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresIn, err := s.auth.Login(body.Password)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "wrong password")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresIn": expiresIn,
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"passwordSet": s.auth.PasswordSet(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := index.Filter{
		ExcludeEmpty:    q.Get("includeEmpty") != "true",
		IncludeArchived: q.Get("includeArchived") == "true",
	}
	sessions, err := s.svc.Discover(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing sessions failed")
		return
	}
	if sessions == nil {
		sessions = []session.Resolved{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleVapidKey(w http.ResponseWriter, _ *http.Request) {
	key, err := s.notif.VapidPublicKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading push key failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub config.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.notif.Subscribe(sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// sideChannel wraps the synchronous input endpoints: decode a
// one-field body, inject into the session's process.
func (s *Server) sideChannel(
	w http.ResponseWriter, r *http.Request, inject func(sessionID string) error,
) {
	sessionID := r.PathValue("id")
	if _, err := s.svc.Get(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "unknown session "+sessionID)
		return
	}
	if err := inject(sessionID); err != nil {
		if errors.Is(err, ErrNotActive) {
			writeError(w, http.StatusNotFound,
				"session "+sessionID+" has no running process")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.sideChannel(w, r, func(id string) error {
		return s.hub.SendText(id, body.Text)
	})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.sideChannel(w, r, func(id string) error {
		return s.hub.SendKey(id, body.Key)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.sideChannel(w, r, s.hub.Cancel)
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("bridge listening at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and kills
// every managed process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set(
				"Access-Control-Allow-Methods", "GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers", "Content-Type, Authorization",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
)

// PushSubscription is one stored web-push subscription, kept
// opaque for the notification collaborator.
type PushSubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys,omitempty"`
}

// ServerConfig holds the bridge's credentials and push state.
type ServerConfig struct {
	PasswordHash      string             `json:"passwordHash,omitempty"`
	TokenSecret       string             `json:"tokenSecret"`
	PushVapidPublic   string             `json:"pushVapidPublic,omitempty"`
	PushVapidPrivate  string             `json:"pushVapidPrivate,omitempty"`
	PushSubscriptions []PushSubscription `json:"pushSubscriptions,omitempty"`
}

// ServerConfigStore loads and saves the server config file.
// Writes are atomic (temp file plus rename) and serialized by a
// process-level lock; the file is owner-only.
type ServerConfigStore struct {
	path string
	mu   gosync.Mutex
}

// NewServerConfigStore creates a store for the given path.
func NewServerConfigStore(path string) *ServerConfigStore {
	return &ServerConfigStore{path: path}
}

// Load reads the server config. A missing file yields a zero
// config, not an error.
func (s *ServerConfigStore) Load() (ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *ServerConfigStore) loadLocked() (ServerConfig, error) {
	var cfg ServerConfig
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading server config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing server config: %w", err)
	}
	return cfg, nil
}

// Save writes the server config atomically with 0600
// permissions.
func (s *ServerConfigStore) Save(cfg ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *ServerConfigStore) saveLocked(cfg ServerConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling server config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".server-*.json")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("restricting temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing server config: %w", err)
	}
	return nil
}

// Update applies fn to the current config under the lock and
// saves the result.
func (s *ServerConfigStore) Update(fn func(*ServerConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(&cfg)
	return s.saveLocked(cfg)
}

// EnsureTokenSecret generates and persists a token secret on
// first use, returning the effective config.
func (s *ServerConfigStore) EnsureTokenSecret() (ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return cfg, err
	}
	if cfg.TokenSecret != "" {
		return cfg, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return cfg, fmt.Errorf("generating token secret: %w", err)
	}
	cfg.TokenSecret = base64.StdEncoding.EncodeToString(b)
	if err := s.saveLocked(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

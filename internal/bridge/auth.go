package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wesm/sessionvault/internal/config"
)

// ErrUnauthorized is returned for a wrong password or a token
// that fails verification.
var ErrUnauthorized = errors.New("unauthorized")

const (
	// bcryptCost trades login latency for brute-force
	// resistance. Logins are rare; err on the slow side.
	bcryptCost = 12

	tokenTTL = 7 * 24 * time.Hour
)

// tokenPayload is the signed portion of a bearer token.
type tokenPayload struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Auth owns the shared password and token minting. The hash and
// secret persist in the server config file; the secret is
// generated on first setup.
type Auth struct {
	store *config.ServerConfigStore

	mu           gosync.RWMutex
	passwordHash []byte
	secret       []byte

	now func() time.Time
}

// NewAuth loads credentials from the store, generating the token
// secret if missing.
func NewAuth(store *config.ServerConfigStore) (*Auth, error) {
	cfg, err := store.EnsureTokenSecret()
	if err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding token secret: %w", err)
	}

	a := &Auth{
		store:  store,
		secret: secret,
		now:    time.Now,
	}
	if cfg.PasswordHash != "" {
		a.passwordHash = []byte(cfg.PasswordHash)
	}
	return a, nil
}

// PasswordSet reports whether a password has been configured.
func (a *Auth) PasswordSet() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.passwordHash) > 0
}

// SetPassword hashes and persists a new shared password.
func (a *Auth) SetPassword(password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := a.store.Update(func(c *config.ServerConfig) {
		c.PasswordHash = string(hash)
	}); err != nil {
		return fmt.Errorf("persisting password hash: %w", err)
	}

	a.mu.Lock()
	a.passwordHash = hash
	a.mu.Unlock()
	return nil
}

// Login checks the password and mints a token. Returns the token
// and its lifetime in seconds.
func (a *Auth) Login(password string) (string, int, error) {
	a.mu.RLock()
	hash := a.passwordHash
	a.mu.RUnlock()

	if len(hash) == 0 {
		return "", 0, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", 0, ErrUnauthorized
	}

	token, err := a.mint()
	if err != nil {
		return "", 0, err
	}
	return token, int(tokenTTL.Seconds()), nil
}

// mint produces payload.signature: a base64url JSON payload and
// a base64url HMAC-SHA256 over the encoded payload.
func (a *Auth) mint() (string, error) {
	payload, err := json.Marshal(tokenPayload{
		IssuedAt:  a.now().Unix(),
		ExpiresAt: a.now().Add(tokenTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.sign(encoded), nil
}

func (a *Auth) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether a token is authentic and unexpired.
func (a *Auth) Verify(token string) bool {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	if !hmac.Equal([]byte(a.sign(encoded)), []byte(sig)) {
		return false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return a.now().Unix() < payload.ExpiresAt
}

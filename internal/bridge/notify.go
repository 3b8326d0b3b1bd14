package bridge

import (
	"fmt"
	"log"
	"regexp"
	gosync "sync"

	"github.com/wesm/sessionvault/internal/config"
)

// trigger pairs a pattern with a dedup tag. Matching the same
// tag twice in a row for one session emits only one event.
type trigger struct {
	tag     string
	pattern *regexp.Regexp
}

// defaultTriggers are heuristics for "the assistant is waiting
// on you" moments in the output stream. They are a starting
// point, not a contract; SetTriggers replaces them.
var defaultTriggers = []trigger{
	{"question", regexp.MustCompile(`\?\s*$`)},
	{"confirm", regexp.MustCompile(`\((?:y/n|yes/no)\)`)},
	{"permission", regexp.MustCompile(`(?i)needs? your permission`)},
	{"done", regexp.MustCompile(`(?i)^done[.!]?\s*$`)},
}

// Event is one notification-worthy observation.
type Event struct {
	SessionID string
	Tag       string
}

// Notifier scans PTY output for prompt-like patterns and hands
// events to the push collaborator. Delivery is out of scope
// here; the emit callback owns it.
type Notifier struct {
	store *config.ServerConfigStore
	emit  func(Event)

	mu       gosync.Mutex
	triggers []trigger
	lastTag  map[string]string
}

// NewNotifier creates a notifier with the default trigger set.
// A nil emit callback logs events instead.
func NewNotifier(store *config.ServerConfigStore, emit func(Event)) *Notifier {
	if emit == nil {
		emit = func(ev Event) {
			log.Printf("notify: session %s: %s", ev.SessionID, ev.Tag)
		}
	}
	return &Notifier{
		store:    store,
		emit:     emit,
		triggers: defaultTriggers,
		lastTag:  make(map[string]string),
	}
}

// SetTriggers replaces the trigger list.
func (n *Notifier) SetTriggers(triggers []trigger) {
	n.mu.Lock()
	n.triggers = triggers
	n.mu.Unlock()
}

// Observe scans one output chunk. Designed to hang off the
// hub's output observer.
func (n *Notifier) Observe(sessionID string, chunk []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, t := range n.triggers {
		if !t.pattern.Match(chunk) {
			continue
		}
		if n.lastTag[sessionID] == t.tag {
			return
		}
		n.lastTag[sessionID] = t.tag
		n.emit(Event{SessionID: sessionID, Tag: t.tag})
		return
	}
}

// VapidPublicKey returns the configured web-push public key.
func (n *Notifier) VapidPublicKey() (string, error) {
	cfg, err := n.store.Load()
	if err != nil {
		return "", err
	}
	return cfg.PushVapidPublic, nil
}

// Subscribe stores a push subscription, deduplicating by
// endpoint.
func (n *Notifier) Subscribe(sub config.PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription endpoint is required")
	}
	return n.store.Update(func(c *config.ServerConfig) {
		for _, existing := range c.PushSubscriptions {
			if existing.Endpoint == sub.Endpoint {
				return
			}
		}
		c.PushSubscriptions = append(c.PushSubscriptions, sub)
	})
}

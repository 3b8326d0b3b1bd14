package bridge

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/wesm/sessionvault/internal/config"
)

func newTestNotifier(t *testing.T) (*Notifier, *[]Event) {
	t.Helper()
	store := config.NewServerConfigStore(
		filepath.Join(t.TempDir(), "server.json"),
	)
	var events []Event
	n := NewNotifier(store, func(ev Event) { events = append(events, ev) })
	return n, &events
}

func TestObserveTriggers(t *testing.T) {
	n, events := newTestNotifier(t)

	n.Observe("s1", []byte("building the project"))
	if len(*events) != 0 {
		t.Fatalf("events after plain output = %v", *events)
	}

	n.Observe("s1", []byte("should I continue?"))
	if len(*events) != 1 || (*events)[0].Tag != "question" {
		t.Fatalf("events = %v", *events)
	}

	// Same tag again is deduplicated.
	n.Observe("s1", []byte("still waiting?"))
	if len(*events) != 1 {
		t.Fatalf("duplicate tag emitted: %v", *events)
	}

	// A different tag fires, and the question tag is armed again.
	n.Observe("s1", []byte("overwrite files (y/n)"))
	n.Observe("s1", []byte("are you sure?"))
	if len(*events) != 3 {
		t.Fatalf("events = %v", *events)
	}
	if (*events)[1].Tag != "confirm" || (*events)[2].Tag != "question" {
		t.Errorf("tags = %s, %s", (*events)[1].Tag, (*events)[2].Tag)
	}
}

func TestObserveDedupIsPerSession(t *testing.T) {
	n, events := newTestNotifier(t)
	n.Observe("s1", []byte("done?"))
	n.Observe("s2", []byte("done?"))
	if len(*events) != 2 {
		t.Fatalf("events = %v", *events)
	}
	if (*events)[0].SessionID != "s1" || (*events)[1].SessionID != "s2" {
		t.Errorf("sessions = %v", *events)
	}
}

func TestSetTriggers(t *testing.T) {
	n, events := newTestNotifier(t)
	n.SetTriggers([]trigger{
		{"alarm", regexp.MustCompile(`PANIC`)},
	})

	n.Observe("s1", []byte("should I continue?"))
	if len(*events) != 0 {
		t.Fatalf("default trigger survived replacement: %v", *events)
	}
	n.Observe("s1", []byte("PANIC: nil deref"))
	if len(*events) != 1 || (*events)[0].Tag != "alarm" {
		t.Fatalf("events = %v", *events)
	}
}

func TestSubscribeDedupes(t *testing.T) {
	store := config.NewServerConfigStore(
		filepath.Join(t.TempDir(), "server.json"),
	)
	n := NewNotifier(store, nil)

	sub := config.PushSubscription{Endpoint: "https://push.example/1"}
	if err := n.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := n.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe again: %v", err)
	}
	if err := n.Subscribe(config.PushSubscription{}); err == nil {
		t.Fatal("empty endpoint accepted")
	}

	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.PushSubscriptions) != 1 {
		t.Errorf("subscriptions = %+v", cfg.PushSubscriptions)
	}
}

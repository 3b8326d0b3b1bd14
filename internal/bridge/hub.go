package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	gosync "sync"

	"github.com/creack/pty"

	"github.com/wesm/sessionvault/internal/session"
)

// ErrNotActive is returned when a side-channel call targets a
// session with no running process.
var ErrNotActive = errors.New("session not active")

const (
	// clientQueueSize bounds each subscriber's outbound frames.
	clientQueueSize = 64
	// maxConsecutiveDrops is how many frames a slow subscriber
	// may lose in a row before it is disconnected.
	maxConsecutiveDrops = 3

	ptyReadSize = 4096
)

// client is one streaming subscriber. The writer goroutine
// drains queue; closed tells it to stop.
type client struct {
	queue  chan []byte
	closed chan struct{}

	mu    gosync.Mutex
	drops int

	closeOnce gosync.Once
}

func newClient() *client {
	return &client{
		queue:  make(chan []byte, clientQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// enqueue delivers a frame best-effort: when the queue is full
// the oldest frame is dropped to make room, and a subscriber
// that keeps falling behind is closed.
func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.queue <- frame:
		c.drops = 0
		return
	default:
	}

	// Full: evict the oldest frame and retry once.
	select {
	case <-c.queue:
	default:
	}
	c.drops++
	if c.drops >= maxConsecutiveDrops {
		c.close()
		return
	}
	select {
	case c.queue <- frame:
	default:
	}
}

type sessionState string

const (
	stateIdle sessionState = "idle"
	stateLive sessionState = "live"
	stateDead sessionState = "dead"
)

// managed is the per-session terminal state: subscriber set,
// PTY, and scrollback ring. All fields behind mu; broadcast
// snapshots the subscriber list and sends outside the lock.
type managed struct {
	sessionID string

	mu       gosync.Mutex
	state    sessionState
	ptmx     *os.File
	cmd      *exec.Cmd
	ring     *ring
	clients  map[*client]struct{}
	exitCode int
}

func (m *managed) snapshot() []*client {
	out := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		out = append(out, c)
	}
	return out
}

func (m *managed) broadcast(frame []byte) {
	m.mu.Lock()
	clients := m.snapshot()
	m.mu.Unlock()
	for _, c := range clients {
		c.enqueue(frame)
	}
}

// Hub owns every managed terminal session.
type Hub struct {
	svc *session.Service

	// onOutput, when set, observes each PTY output chunk. The
	// notifier hangs its prompt detection here.
	onOutput func(sessionID string, chunk []byte)

	mu       gosync.Mutex
	sessions map[string]*managed
}

// NewHub creates a hub backed by the session facade.
func NewHub(svc *session.Service) *Hub {
	return &Hub{
		svc:      svc,
		sessions: make(map[string]*managed),
	}
}

// SetOutputObserver installs the output hook. Call before any
// Attach.
func (h *Hub) SetOutputObserver(fn func(sessionID string, chunk []byte)) {
	h.onOutput = fn
}

func (h *Hub) get(sessionID string) *managed {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.sessions[sessionID]
	if !ok {
		m = &managed{
			sessionID: sessionID,
			state:     stateIdle,
			ring:      newRing(ringCapacity),
			clients:   make(map[*client]struct{}),
		}
		h.sessions[sessionID] = m
	}
	return m
}

// Attach subscribes a new terminal client. The first subscriber
// (or the first after a crash) spawns the assistant under a PTY;
// every subscriber receives the current scrollback before live
// output.
func (h *Hub) Attach(
	ctx context.Context, sessionID string, cols, rows uint16,
) (*managed, *client, error) {
	r, err := h.svc.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	m := h.get(sessionID)
	c := newClient()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateLive {
		if err := h.spawnLocked(m, r, cols, rows); err != nil {
			c.enqueue(errorFrame(err.Error()))
			m.clients[c] = struct{}{}
			return m, c, nil
		}
	}

	m.clients[c] = struct{}{}
	if m.ring.Len() > 0 {
		c.enqueue(scrollbackFrame(m.ring.Bytes()))
	}
	return m, c, nil
}

// spawnLocked starts the assistant under a PTY. Caller holds
// m.mu.
func (h *Hub) spawnLocked(
	m *managed, r *session.Resolved, cols, rows uint16,
) error {
	desc, err := h.svc.BuildCommand(r, session.LaunchOptions{})
	if err != nil {
		return err
	}
	path, err := exec.LookPath(desc.Path)
	if err != nil {
		m.state = stateDead
		return fmt.Errorf("assistant binary not found: %w", err)
	}

	cmd := exec.Command(path, desc.Args...)
	cmd.Dir = desc.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		m.state = stateDead
		return fmt.Errorf("starting pty for %s: %w", m.sessionID, err)
	}

	m.ptmx = ptmx
	m.cmd = cmd
	m.state = stateLive
	go h.readLoop(m, ptmx, cmd)
	return nil
}

// readLoop pumps PTY output to the ring buffer and all
// subscribers until the process exits.
func (h *Hub) readLoop(m *managed, ptmx *os.File, cmd *exec.Cmd) {
	buf := make([]byte, ptyReadSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			m.mu.Lock()
			m.ring.Write(chunk)
			clients := m.snapshot()
			m.mu.Unlock()

			frame := outputFrame(chunk)
			for _, c := range clients {
				c.enqueue(frame)
			}
			if h.onOutput != nil {
				h.onOutput(m.sessionID, chunk)
			}
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := cmd.Wait(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			code = exit.ExitCode()
		} else {
			log.Printf("bridge: waiting on %s: %v", m.sessionID, err)
			code = -1
		}
	}
	ptmx.Close()

	m.mu.Lock()
	m.state = stateDead
	m.exitCode = code
	m.ptmx = nil
	m.cmd = nil
	m.mu.Unlock()

	log.Printf("bridge: session %s exited with code %d", m.sessionID, code)
	m.broadcast(exitFrame(code))
}

// Detach removes a subscriber. The PTY keeps running so the
// session survives reconnects.
func (h *Hub) Detach(m *managed, c *client) {
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	c.close()
}

// Respawn restarts a dead session's process, for the explicit
// spawn frame. Live sessions are left alone.
func (h *Hub) Respawn(
	ctx context.Context, sessionID string, cols, rows uint16,
) error {
	r, err := h.svc.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	m := h.get(sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateLive {
		return nil
	}
	return h.spawnLocked(m, r, cols, rows)
}

// Input writes raw bytes to the session's PTY.
func (h *Hub) Input(sessionID string, data []byte) error {
	m := h.get(sessionID)
	m.mu.Lock()
	ptmx := m.ptmx
	m.mu.Unlock()
	if ptmx == nil {
		return ErrNotActive
	}
	_, err := ptmx.Write(data)
	return err
}

// Resize adjusts the PTY dimensions.
func (h *Hub) Resize(sessionID string, cols, rows uint16) error {
	m := h.get(sessionID)
	m.mu.Lock()
	ptmx := m.ptmx
	m.mu.Unlock()
	if ptmx == nil {
		return ErrNotActive
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// keyBytes maps symbolic key names to their terminal byte
// sequences.
var keyBytes = map[string][]byte{
	"enter":     {'\r'},
	"tab":       {'\t'},
	"escape":    {0x1b},
	"backspace": {0x7f},
	"up":        []byte("\x1b[A"),
	"down":      []byte("\x1b[B"),
	"right":     []byte("\x1b[C"),
	"left":      []byte("\x1b[D"),
	"ctrl-c":    {0x03},
}

// SendText types text into the PTY followed by a carriage
// return.
func (h *Hub) SendText(sessionID, text string) error {
	return h.Input(sessionID, []byte(text+"\r"))
}

// SendKey injects a named key press.
func (h *Hub) SendKey(sessionID, key string) error {
	b, ok := keyBytes[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	return h.Input(sessionID, b)
}

// Cancel sends an interrupt to the session's process.
func (h *Hub) Cancel(sessionID string) error {
	return h.Input(sessionID, keyBytes["ctrl-c"])
}

// Running reports whether the session has a live process.
func (h *Hub) Running(sessionID string) bool {
	h.mu.Lock()
	m, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateLive
}

// Shutdown kills every live process and closes every
// subscriber.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*managed, 0, len(h.sessions))
	for _, m := range h.sessions {
		sessions = append(sessions, m)
	}
	h.mu.Unlock()

	for _, m := range sessions {
		m.mu.Lock()
		if m.cmd != nil && m.cmd.Process != nil {
			m.cmd.Process.Kill()
		}
		clients := m.snapshot()
		m.mu.Unlock()
		for _, c := range clients {
			c.close()
		}
	}
}

// Package tail follows a transcript file by polling its size and
// emits each newly appended record as an event. One follower per
// session; fan-out across subscribers belongs to the caller.
package tail

import (
	"bytes"
	"io"
	"os"
	gosync "sync"
	"time"

	"github.com/wesm/sessionvault/internal/transcript"
)

// EventKind tags a follower event.
type EventKind string

const (
	// Started is emitted once when the follower begins polling.
	Started EventKind = "started"
	// Record carries one parsed transcript record.
	Record EventKind = "record"
	// ParseError carries a line that failed to parse.
	ParseError EventKind = "parse_error"
	// Truncated signals the file shrank; position was reset.
	Truncated EventKind = "truncated"
	// Deleted signals the file vanished; the follower waits for
	// it to reappear.
	Deleted EventKind = "deleted"
	// IOError carries a read error that did not stop the follower.
	IOError EventKind = "error"
	// Stopped is the final event before the channel closes.
	Stopped EventKind = "stopped"
)

// Event is one follower observation. Record is set for Record
// events, Line for ParseError, Err for IOError.
type Event struct {
	Kind   EventKind
	Record *transcript.Record
	Line   string
	Err    error
}

// Options configures a Follower.
type Options struct {
	// Interval is the poll period. Zero means DefaultInterval.
	Interval time.Duration
	// ReadFromStart emits every existing record before tailing.
	// Otherwise the follower starts at the current end of file.
	ReadFromStart bool
}

// DefaultInterval is the poll period when none is given.
const DefaultInterval = 100 * time.Millisecond

// eventBuffer bounds the channel so a slow subscriber delays the
// poll loop instead of losing events.
const eventBuffer = 256

// Follower tails one transcript file.
type Follower struct {
	path     string
	interval time.Duration
	fromZero bool

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	stopOnce gosync.Once

	pos     int64
	lineNo  int
	partial []byte
	missing bool
}

// New creates a follower for path. Call Start to begin polling.
func New(path string, opts Options) *Follower {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Follower{
		path:     path,
		interval: interval,
		fromZero: opts.ReadFromStart,
		events:   make(chan Event, eventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events returns the event stream. The channel closes after a
// Stopped event once Stop is called.
func (f *Follower) Events() <-chan Event {
	return f.events
}

// Start begins polling in a goroutine.
func (f *Follower) Start() {
	go f.loop()
}

// Stop halts polling, emits Stopped, and closes the event
// channel. Safe to call more than once.
func (f *Follower) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		<-f.done
	})
}

func (f *Follower) loop() {
	defer close(f.events)
	defer close(f.done)

	if !f.fromZero {
		if info, err := os.Stat(f.path); err == nil {
			f.pos = info.Size()
		}
	}
	f.emit(Event{Kind: Started})

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		// Poll once immediately so ReadFromStart followers do not
		// wait a full interval for the backlog.
		f.poll()

		select {
		case <-f.stop:
			select {
			case f.events <- Event{Kind: Stopped}:
			default:
			}
			return
		case <-ticker.C:
		}
	}
}

func (f *Follower) poll() {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !f.missing {
				f.missing = true
				f.reset()
				f.emit(Event{Kind: Deleted})
			}
			return
		}
		f.emit(Event{Kind: IOError, Err: err})
		return
	}
	f.missing = false

	size := info.Size()
	switch {
	case size < f.pos:
		f.reset()
		f.emit(Event{Kind: Truncated})
		return
	case size == f.pos:
		return
	}

	if err := f.readRange(size); err != nil {
		f.emit(Event{Kind: IOError, Err: err})
	}
}

// reset rewinds to the start of the file. A recreated or
// truncated file is read from the beginning on its next poll.
func (f *Follower) reset() {
	f.pos = 0
	f.lineNo = 0
	f.partial = nil
}

// readRange reads [pos, size) and emits an event per complete
// line. A trailing line without its newline is carried to the
// next poll; the writer appends whole records but the read can
// land mid-write.
func (f *Follower) readRange(size int64) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Seek(f.pos, io.SeekStart); err != nil {
		return err
	}
	chunk, err := io.ReadAll(io.LimitReader(file, size-f.pos))
	if err != nil {
		return err
	}
	f.pos += int64(len(chunk))

	data := append(f.partial, chunk...)
	for {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		line := string(data[:nl])
		data = data[nl+1:]
		f.emitLine(line)
	}
	f.partial = data
	return nil
}

func (f *Follower) emitLine(line string) {
	lineNo := f.lineNo
	f.lineNo++
	if len(bytes.TrimSpace([]byte(line))) == 0 {
		return
	}
	rec, ok := transcript.ParseRecord(line, lineNo)
	if !ok {
		f.emit(Event{Kind: ParseError, Line: line})
		return
	}
	f.emit(Event{Kind: Record, Record: &rec})
}

func (f *Follower) emit(ev Event) {
	select {
	case f.events <- ev:
	case <-f.stop:
		// Subscriber gone and Stop in progress; drop the event.
	}
}

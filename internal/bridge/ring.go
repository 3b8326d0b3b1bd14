package bridge

// ringCapacity bounds the scrollback replayed to new terminal
// subscribers.
const ringCapacity = 50 * 1024

// ring is a fixed-capacity byte buffer that evicts its oldest
// bytes on overflow. Not safe for concurrent use; the managed
// session's lock covers it.
type ring struct {
	buf    []byte
	start  int
	length int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

// Write appends p, evicting from the front when full. Writes
// larger than the capacity keep only the trailing bytes.
func (r *ring) Write(p []byte) {
	if len(p) >= len(r.buf) {
		copy(r.buf, p[len(p)-len(r.buf):])
		r.start = 0
		r.length = len(r.buf)
		return
	}

	overflow := r.length + len(p) - len(r.buf)
	if overflow > 0 {
		r.start = (r.start + overflow) % len(r.buf)
		r.length -= overflow
	}

	pos := (r.start + r.length) % len(r.buf)
	n := copy(r.buf[pos:], p)
	copy(r.buf, p[n:])
	r.length += len(p)
}

// Bytes returns the buffered contents oldest-first.
func (r *ring) Bytes() []byte {
	out := make([]byte, r.length)
	n := copy(out, r.buf[r.start:min(r.start+r.length, len(r.buf))])
	copy(out[n:], r.buf[:r.length-n])
	return out
}

// Len returns the number of buffered bytes.
func (r *ring) Len() int {
	return r.length
}

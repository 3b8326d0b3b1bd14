// Package timeutil normalizes timestamps to RFC3339 UTC strings
// for storage and JSON transport.
package timeutil

import "time"

// Parse parses an RFC3339 or RFC3339Nano timestamp. Returns the
// zero time on failure.
func Parse(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// Format renders t as RFC3339Nano in UTC. Returns "" for the
// zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Ptr returns a pointer to the formatted timestamp, or nil for
// the zero time. Used for nullable DB columns.
func Ptr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := Format(t)
	return &s
}

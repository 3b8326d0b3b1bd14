package bridge

import (
	"bytes"
	"strings"
	"testing"
)

func TestRingBasic(t *testing.T) {
	r := newRing(10)
	if r.Len() != 0 {
		t.Fatalf("empty ring len = %d", r.Len())
	}

	r.Write([]byte("hello"))
	if got := string(r.Bytes()); got != "hello" {
		t.Errorf("contents = %q", got)
	}

	r.Write([]byte("world"))
	if got := string(r.Bytes()); got != "helloworld" {
		t.Errorf("contents = %q", got)
	}
	if r.Len() != 10 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestRingEviction(t *testing.T) {
	r := newRing(10)
	r.Write([]byte("0123456789"))
	r.Write([]byte("abc"))
	if got := string(r.Bytes()); got != "3456789abc" {
		t.Errorf("contents after eviction = %q", got)
	}
	if r.Len() != 10 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestRingOversizeWrite(t *testing.T) {
	r := newRing(8)
	r.Write([]byte("the quick brown fox"))
	if got := string(r.Bytes()); got != "rown fox" {
		t.Errorf("contents = %q", got)
	}
}

func TestRingWraparound(t *testing.T) {
	r := newRing(6)
	for _, chunk := range []string{"ab", "cd", "ef", "gh", "ij"} {
		r.Write([]byte(chunk))
	}
	if got := string(r.Bytes()); got != "efghij" {
		t.Errorf("contents = %q", got)
	}
}

func TestRingManySmallWrites(t *testing.T) {
	r := newRing(64)
	var all bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := []byte(strings.Repeat(string(rune('a'+i%26)), 3))
		r.Write(chunk)
		all.Write(chunk)
	}
	want := all.Bytes()[all.Len()-64:]
	if !bytes.Equal(r.Bytes(), want) {
		t.Errorf("contents = %q, want %q", r.Bytes(), want)
	}
}

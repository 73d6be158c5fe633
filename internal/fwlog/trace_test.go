package fwlog

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestRingAppendAndRecords(t *testing.T) {
	ring := NewRing(make([]byte, 256))

	if !ring.Append([]byte("hello")) {
		t.Fatalf("Append should succeed with room available")
	}
	if !ring.Append([]byte("world")) {
		t.Fatalf("Append should succeed with room available")
	}

	recs := ring.Records()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if string(recs[0]) != "hello" || string(recs[1]) != "world" {
		t.Fatalf("unexpected records: %q", recs)
	}
}

func TestRingFullReturnsFalse(t *testing.T) {
	ring := NewRing(make([]byte, headerSize+8))

	if !ring.Append([]byte("ab")) {
		t.Fatalf("first small append should fit")
	}
	if ring.Append(make([]byte, 64)) {
		t.Fatalf("oversized append should fail, not wrap or overwrite")
	}
}

func TestOpenRingResumesHighWaterMark(t *testing.T) {
	buf := make([]byte, 256)
	ring := NewRing(buf)
	ring.Append([]byte("persisted"))

	reopened, ok := OpenRing(buf)
	if !ok {
		t.Fatalf("OpenRing should accept a previously-initialized buffer")
	}
	if reopened.Used() != ring.Used() {
		t.Fatalf("reopened ring lost the high-water mark: got %d want %d", reopened.Used(), ring.Used())
	}
}

func TestOpenRingRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 256)
	if _, ok := OpenRing(buf); ok {
		t.Fatalf("an all-zero buffer should not look like a valid ring")
	}
}

func TestTeeHandlerWritesConsoleAndRing(t *testing.T) {
	var console bytes.Buffer
	ring := NewRing(make([]byte, 512))
	h := NewTeeHandler(&console, ring, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h)

	logger.Info("vq:push", slog.Int("bytes", 16))

	if console.Len() == 0 {
		t.Fatalf("expected console output")
	}
	if len(ring.Records()) != 1 {
		t.Fatalf("expected one ring record, got %d", len(ring.Records()))
	}
}

func TestFastCounter(t *testing.T) {
	var c FastCounter
	for i := 0; i < 5; i++ {
		c.Incr()
	}
	if c.Load() != 5 {
		t.Fatalf("got %d, want 5", c.Load())
	}
}

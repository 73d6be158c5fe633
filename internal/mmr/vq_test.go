package mmr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

func TestVQRoundTrip(t *testing.T) {
	vq, err := NewVirtualQueue(make([]byte, 512), MemUncachedSRAM)
	if err != nil {
		t.Fatalf("NewVirtualQueue: %v", err)
	}

	c1 := bytes.Repeat([]byte{0x11}, 16)
	c2 := bytes.Repeat([]byte{0x22}, 16)

	if err := vq.Push(c1); err != nil {
		t.Fatalf("push c1: %v", err)
	}
	if err := vq.Push(c2); err != nil {
		t.Fatalf("push c2: %v", err)
	}

	out := make([]byte, MaxCommandSize)
	n, err := vq.Pop(out)
	if err != nil {
		t.Fatalf("pop c1: %v", err)
	}
	if !bytes.Equal(out[:n], c1) {
		t.Fatal("c1 mismatch")
	}

	n, err = vq.Pop(out)
	if err != nil {
		t.Fatalf("pop c2: %v", err)
	}
	if !bytes.Equal(out[:n], c2) {
		t.Fatal("c2 mismatch")
	}

	if _, err := vq.Pop(out); !errors.Is(err, fwerr.NotReady) {
		t.Fatalf("expected NotReady after draining, got %v", err)
	}
	if !vq.Empty() {
		t.Fatal("expected ring empty after draining")
	}
}

func TestVQFullRejectsPushWithoutMutation(t *testing.T) {
	vq, err := NewVirtualQueue(make([]byte, 32), MemUncachedSRAM)
	if err != nil {
		t.Fatalf("NewVirtualQueue: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAA}, 40) // larger than the ring itself
	before := vq.Used()
	if err := vq.Push(payload); !errors.Is(err, fwerr.ResourceBusy) {
		t.Fatalf("expected ResourceBusy, got %v", err)
	}
	if vq.Used() != before {
		t.Fatal("expected no state mutation on failed push")
	}
}

func TestVQPrefetchAndProcessCommand(t *testing.T) {
	vq, err := NewVirtualQueue(make([]byte, 256), MemUncachedSRAM)
	if err != nil {
		t.Fatalf("NewVirtualQueue: %v", err)
	}

	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6, 7}
	if err := vq.Push(a); err != nil {
		t.Fatalf("push a: %v", err)
	}
	if err := vq.Push(b); err != nil {
		t.Fatalf("push b: %v", err)
	}

	used := vq.Used()
	buf := make([]byte, used)
	n, err := vq.PrefetchBuffer(buf, used)
	if err != nil {
		t.Fatalf("PrefetchBuffer: %v", err)
	}

	payload, next, err := ProcessCommand(buf[:n], 0)
	if err != nil {
		t.Fatalf("ProcessCommand a: %v", err)
	}
	if !bytes.Equal(payload, a) {
		t.Fatal("a mismatch")
	}

	payload, _, err = ProcessCommand(buf[:n], next)
	if err != nil {
		t.Fatalf("ProcessCommand b: %v", err)
	}
	if !bytes.Equal(payload, b) {
		t.Fatal("b mismatch")
	}

	if !vq.Empty() {
		t.Fatal("expected ring drained after PrefetchBuffer")
	}
}

func TestVQRejectsNonPowerOfTwoLength(t *testing.T) {
	if _, err := NewVirtualQueue(make([]byte, 100), MemUncachedSRAM); err == nil {
		t.Fatal("expected error constructing a non-power-of-two ring")
	}
}

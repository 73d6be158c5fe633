package mmr

import (
	"errors"
	"testing"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

func TestSoftwareTimerFiresAtExpiration(t *testing.T) {
	timer := NewSoftwareTimer()
	var fired []any
	slot, err := timer.CreateTimeout(func(arg any) { fired = append(fired, arg) }, "a", 3)
	if err != nil {
		t.Fatalf("CreateTimeout: %v", err)
	}
	if slot < 0 {
		t.Fatal("expected a valid slot index")
	}

	for i := 0; i < 2; i++ {
		timer.Tick()
	}
	if len(fired) != 0 {
		t.Fatal("expected callback not to have fired yet")
	}

	timer.Tick() // accum now reaches the slot's expiration
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("expected callback to fire exactly once with arg a, got %v", fired)
	}

	// A further tick must not refire the now-free slot.
	timer.Tick()
	if len(fired) != 1 {
		t.Fatalf("expected slot to stay free after firing, got %d fires", len(fired))
	}
}

func TestSoftwareTimerCancelPreventsFire(t *testing.T) {
	timer := NewSoftwareTimer()
	fired := false
	slot, err := timer.CreateTimeout(func(arg any) { fired = true }, nil, 1)
	if err != nil {
		t.Fatalf("CreateTimeout: %v", err)
	}
	if err := timer.Cancel(slot); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	timer.Tick()
	timer.Tick()
	if fired {
		t.Fatal("expected cancelled timeout never to fire")
	}
}

func TestSoftwareTimerCancelRejectsOutOfRangeSlot(t *testing.T) {
	timer := NewSoftwareTimer()
	if err := timer.Cancel(-1); !errors.Is(err, fwerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for slot -1, got %v", err)
	}
	if err := timer.Cancel(SoftwareTimerSlots); !errors.Is(err, fwerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for out-of-range slot, got %v", err)
	}
}

func TestSoftwareTimerExhaustsSlots(t *testing.T) {
	timer := NewSoftwareTimer()
	for i := 0; i < SoftwareTimerSlots; i++ {
		if _, err := timer.CreateTimeout(func(arg any) {}, nil, 100); err != nil {
			t.Fatalf("CreateTimeout %d: %v", i, err)
		}
	}
	if _, err := timer.CreateTimeout(func(arg any) {}, nil, 100); !errors.Is(err, fwerr.ResourceBusy) {
		t.Fatalf("expected ResourceBusy once all slots are in use, got %v", err)
	}
}

func TestSoftwareTimerAccumTracksTicks(t *testing.T) {
	timer := NewSoftwareTimer()
	for i := 0; i < 5; i++ {
		timer.Tick()
	}
	if timer.Accum() != 5 {
		t.Fatalf("expected accum 5, got %d", timer.Accum())
	}
}

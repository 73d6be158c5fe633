package mmr

import (
	"math"
	"sync"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// SoftwareTimerSlots is the fixed slot count spec §4.13 specifies.
const SoftwareTimerSlots = 16

// freeSlotSentinel marks an unused slot, per spec §4.13
// ("cancel(slot) marks the slot free with the sentinel u64::MAX").
const freeSlotSentinel = math.MaxUint64

// TimerCallback fires when a slot's expiration is reached.
type TimerCallback func(arg any)

type timerSlot struct {
	callback   TimerCallback
	arg        any
	expiration uint64
	inUse      bool
}

// SoftwareTimer multiplexes a single hardware timer channel across up
// to SoftwareTimerSlots logical timeouts (spec §4.13).
type SoftwareTimer struct {
	mu     sync.Mutex
	slots  [SoftwareTimerSlots]timerSlot
	accum  uint64 // accumulated hardware-timer ticks
}

// NewSoftwareTimer constructs an empty timer.
func NewSoftwareTimer() *SoftwareTimer {
	t := &SoftwareTimer{}
	for i := range t.slots {
		t.slots[i].expiration = freeSlotSentinel
	}
	return t
}

// CreateTimeout records (callback, arg, expiration = accum + ticks)
// into a free slot, returning its index.
func (t *SoftwareTimer) CreateTimeout(callback TimerCallback, arg any, ticks uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = timerSlot{
				callback:   callback,
				arg:        arg,
				expiration: t.accum + ticks,
				inUse:      true,
			}
			return i, nil
		}
	}
	return -1, fwerr.New(fwerr.CodeResourceBusy, "mmr.SoftwareTimer.CreateTimeout", nil)
}

// Cancel frees slot, setting its expiration to the sentinel.
func (t *SoftwareTimer) Cancel(slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= len(t.slots) {
		return fwerr.New(fwerr.CodeInvalidArgument, "mmr.SoftwareTimer.Cancel", nil)
	}
	t.slots[slot] = timerSlot{expiration: freeSlotSentinel}
	return nil
}

// Tick advances the accumulator by one hardware tick and fires every
// slot whose expiration has been reached, freeing them.
func (t *SoftwareTimer) Tick() {
	t.mu.Lock()
	t.accum++
	accum := t.accum

	var fired []timerSlot
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].expiration <= accum {
			fired = append(fired, t.slots[i])
			t.slots[i] = timerSlot{expiration: freeSlotSentinel}
		}
	}
	t.mu.Unlock()

	for _, s := range fired {
		s.callback(s.arg)
	}
}

// Accum reports the accumulated tick count, for tests.
func (t *SoftwareTimer) Accum() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accum
}

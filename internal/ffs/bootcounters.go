package ffs

import (
	"math/bits"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// BootCounters tracks monotonic boot-attempt and boot-completion
// counts on a single flash page, split into two halves (spec §3):
// attempted-count = number of zero bits in the first half,
// completed-count = number of zero bits in the second half. Each
// increment clears exactly one additional bit; the page is erased
// (all-ones) only at partition provisioning.
type BootCounters struct {
	flash FlashDevice
	addr  int64 // absolute flash address of the page
	page  []byte
	half  int // len(page) / 2
}

// NewBootCounters loads the boot-counters page at addr from flash.
func NewBootCounters(flash FlashDevice, addr int64) (*BootCounters, error) {
	pageSize := flash.PageSize()
	page := make([]byte, pageSize)
	if _, err := flash.ReadAt(page, addr); err != nil {
		return nil, fwerr.New(fwerr.CodeHardwareFailure, "ffs.NewBootCounters", err)
	}
	return &BootCounters{flash: flash, addr: addr, page: page, half: pageSize / 2}, nil
}

// zeroBits counts cleared bits in b.
func zeroBits(b []byte) int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(^v)
	}
	return n
}

// GetCounters returns (attempted, completed) as the number of zero
// bits in each half of the page.
func (c *BootCounters) GetCounters() (attempted, completed int) {
	return zeroBits(c.page[:c.half]), zeroBits(c.page[c.half:])
}

// firstSetBitByte returns the index of the first byte in half that
// still has a set bit (i.e. still has room for another decrement),
// or -1 if every bit is already clear.
func firstSetBitByte(half []byte) int {
	for i, v := range half {
		if v != 0 {
			return i
		}
	}
	return -1
}

// increment clears exactly one additional bit in the given half and
// programs the modified 16-byte window to flash, per spec §4.10.
func (c *BootCounters) increment(halfOffset int) error {
	half := c.page[halfOffset : halfOffset+c.half]

	idx := firstSetBitByte(half)
	if idx < 0 {
		return fwerr.New(fwerr.CodeNotReady, "ffs.BootCounters.increment", nil)
	}

	// Clear the least-significant set bit of that byte.
	b := half[idx]
	clearedBit := b & (b - 1)
	half[idx] = clearedBit

	return c.programWindow(halfOffset + idx)
}

// programWindow writes a 16-byte window of the cached page containing
// byteOffset to its actual flash address, per spec §4.10 step 3.
func (c *BootCounters) programWindow(byteOffset int) error {
	const windowSize = 16
	start := (byteOffset / windowSize) * windowSize
	end := start + windowSize
	if end > len(c.page) {
		end = len(c.page)
		start = end - windowSize
		if start < 0 {
			start = 0
		}
	}
	if err := c.flash.ProgramPage(c.addr+int64(start), c.page[start:end]); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.BootCounters.programWindow", err)
	}
	return nil
}

// IncrementAttempted clears one more bit in the attempted-count half.
// Returns CounterFull (CodeNotReady) once every bit is clear.
func (c *BootCounters) IncrementAttempted() error {
	return c.increment(0)
}

// IncrementCompleted clears one more bit in the completed-count half.
func (c *BootCounters) IncrementCompleted() error {
	return c.increment(c.half)
}

package ffs

import (
	"math/bits"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// PriorityDesignator reads and swaps the A/B boot priority encoded as
// a count of zero bits on a single flash page (spec §3/§4.11):
// 0 = lowest priority, page-size×8 = highest.
type PriorityDesignator struct {
	flash       FlashDevice
	sectorSize  int
	activeAddr  int64 // sector address of the active partition's designator
	passiveAddr int64 // sector address of the passive partition's designator
}

// NewPriorityDesignator constructs a designator over the active and
// passive partitions' designator sectors.
func NewPriorityDesignator(flash FlashDevice, activeAddr, passiveAddr int64) *PriorityDesignator {
	return &PriorityDesignator{
		flash:       flash,
		sectorSize:  flash.SectorSize(),
		activeAddr:  activeAddr,
		passiveAddr: passiveAddr,
	}
}

// Priority reads the priority (count of zero bits) at addr.
func (d *PriorityDesignator) Priority(addr int64) (int, error) {
	page := make([]byte, d.flash.PageSize())
	if _, err := d.flash.ReadAt(page, addr); err != nil {
		return 0, fwerr.New(fwerr.CodeHardwareFailure, "ffs.PriorityDesignator.Priority", err)
	}
	return zeroBitCount(page), nil
}

func zeroBitCount(page []byte) int {
	n := 0
	for _, v := range page {
		n += bits.OnesCount8(^v)
	}
	return n
}

// SwapPrimaryBootPartition makes the currently passive partition the
// boot priority winner on next boot, per spec §4.11's exact 3-step
// ordering — chosen specifically so a crash mid-sequence can never
// leave both partitions at equal priority:
//  1. Erase the active partition's priority-designator sector.
//  2. Erase the passive partition's priority-designator sector.
//  3. Program three zero bits into the passive designator (priority 3),
//     leaving the active all-ones (priority 0).
func (d *PriorityDesignator) SwapPrimaryBootPartition() error {
	if err := d.flash.EraseSector(d.activeAddr); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.PriorityDesignator.SwapPrimaryBootPartition", err)
	}
	if err := d.flash.EraseSector(d.passiveAddr); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.PriorityDesignator.SwapPrimaryBootPartition", err)
	}

	// Three zero bits packed into the first byte: 0b11111000.
	marker := []byte{0xF8}
	if err := d.flash.ProgramPage(d.passiveAddr, marker); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.PriorityDesignator.SwapPrimaryBootPartition", err)
	}
	return nil
}

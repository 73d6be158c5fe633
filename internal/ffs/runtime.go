package ffs

import (
	"github.com/openenterprise/etaccel/internal/fwerr"
)

// Runtime is the explicit, non-singleton handoff context FFS exposes
// to its caller (the bootloader, or the simulator harness standing in
// for it): the flash device, both partitions' last scan results, and
// which partition is currently active. Every FFS entry point that
// needs this state takes a *Runtime explicitly rather than reaching
// for a package-level global, mirroring the bootloader's own
// FlashFsRuntimeInfo handoff.
type Runtime struct {
	Flash FlashDevice

	PageSize  int
	BlockSize int

	PartitionSize   int64
	PartitionOffset [2]int64 // byte offset of partition A and B

	DesignatorAddr [2]int64 // priority-designator sector address per partition
	CounterAddr    [2]int64 // boot-counters page address per partition
	ConfigAddr     [2]int64 // config-sector address per partition

	States [2]PartitionState
	Active int

	scanner *PartitionScanner
}

// NewRuntime constructs a Runtime and performs the initial scan of
// both partitions (spec §4.8, invoked once at service-processor boot).
func NewRuntime(flash FlashDevice, pageSize, blockSize int, partOffsetA, partOffsetB, partitionSize int64) (*Runtime, error) {
	r := &Runtime{
		Flash:           flash,
		PageSize:        pageSize,
		BlockSize:       blockSize,
		PartitionSize:   partitionSize,
		PartitionOffset: [2]int64{partOffsetA, partOffsetB},
		scanner:         NewPartitionScanner(pageSize),
	}

	rawA := make([]byte, partitionSize)
	rawB := make([]byte, partitionSize)
	if _, err := flash.ReadAt(rawA, partOffsetA); err != nil {
		return nil, fwerr.New(fwerr.CodeHardwareFailure, "ffs.NewRuntime", err)
	}
	if _, err := flash.ReadAt(rawB, partOffsetB); err != nil {
		return nil, fwerr.New(fwerr.CodeHardwareFailure, "ffs.NewRuntime", err)
	}

	states, active, _, err := ScanBoth(r.scanner, rawA, rawB, 0)
	if err != nil {
		return nil, err
	}
	r.States = states
	r.Active = active

	return r, nil
}

// Rescan re-validates both partitions in place and re-applies the
// active-switchover rule, keeping the previously active side sticky
// unless it has become invalid (spec §4.8).
func (r *Runtime) Rescan() error {
	rawA := make([]byte, r.PartitionSize)
	rawB := make([]byte, r.PartitionSize)
	if _, err := r.Flash.ReadAt(rawA, r.PartitionOffset[0]); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.Runtime.Rescan", err)
	}
	if _, err := r.Flash.ReadAt(rawB, r.PartitionOffset[1]); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.Runtime.Rescan", err)
	}

	states, active, _, err := ScanBoth(r.scanner, rawA, rawB, r.Active)
	if err != nil {
		return err
	}
	r.States = states
	r.Active = active
	return nil
}

// FileReader returns a FileReader bound to the currently active
// partition's region index.
func (r *Runtime) FileReader() *FileReader {
	return NewFileReader(r.Flash, r.PageSize, r.PartitionOffset[r.Active], r.States[r.Active].Index)
}

// BootCounters returns the BootCounters for the currently active
// partition.
func (r *Runtime) BootCounters() (*BootCounters, error) {
	return NewBootCounters(r.Flash, r.CounterAddr[r.Active])
}

// ConfigStore returns the ConfigStore for the currently active
// partition.
func (r *Runtime) ConfigStore() *ConfigStore {
	return NewConfigStore(r.Flash, r.ConfigAddr[r.Active])
}

// PriorityDesignator returns a designator scoped to the current
// active/passive addressing.
func (r *Runtime) PriorityDesignator() *PriorityDesignator {
	passive := 1 - r.Active
	return NewPriorityDesignator(r.Flash, r.DesignatorAddr[r.Active], r.DesignatorAddr[passive])
}

// Updater returns a PartitionUpdater targeting the passive partition,
// the only one spec §4.12 permits a live update to touch.
func (r *Runtime) Updater() *PartitionUpdater {
	passive := 1 - r.Active
	return NewPartitionUpdater(r.Flash, r.PageSize, r.BlockSize, r.PartitionOffset[passive], r.PartitionSize)
}

// ApplyUpdate writes image to the passive partition, re-scans it, and
// on success swaps boot priority so the new image becomes primary on
// next boot (spec §4.12, Scenario B). It does not rescan in place —
// callers should call Rescan (or construct a fresh Runtime) after the
// next reboot to pick up the new active side.
func (r *Runtime) ApplyUpdate(image []byte) error {
	passive := 1 - r.Active
	state, err := r.Updater().Apply(image)
	if err != nil {
		return err
	}
	r.States[passive] = state

	if err := r.PriorityDesignator().SwapPrimaryBootPartition(); err != nil {
		return err
	}
	return nil
}

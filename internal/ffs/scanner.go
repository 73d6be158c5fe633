package ffs

import (
	"github.com/openenterprise/etaccel/internal/fwerr"
)

// RegionIndex maps a validated region ID to its (offset, size) within
// the partition that was scanned, in page units (spec §3).
type RegionIndex map[RegionID]RegionEntry

// PartitionState holds the result of scanning one partition copy.
type PartitionState struct {
	Header PartitionHeader
	Valid  bool
	Index  RegionIndex
}

// PartitionScanner re-validates the bootloader-provided view of both
// partitions in place (spec §4.8). It does not itself decide which
// partition is "active" across reboots (that is PriorityDesignator's
// job on the next boot); it only establishes which of the two copies
// currently handed to the runtime is usable.
type PartitionScanner struct {
	pageSize int
}

// NewPartitionScanner constructs a scanner for the given page size.
func NewPartitionScanner(pageSize int) *PartitionScanner {
	return &PartitionScanner{pageSize: pageSize}
}

// Scan validates partition header CRC and every interesting region
// entry within raw, a full partition image (header + region table +
// regions). It returns the resulting PartitionState; Valid is false
// if the header CRC fails, any interesting region fails, or the
// DRAM-training region is absent, per spec §4.8/§3.
func (s *PartitionScanner) Scan(raw []byte) PartitionState {
	if len(raw) < PartitionHeaderSize {
		return PartitionState{Valid: false}
	}

	hdr := unmarshalPartitionHeader(raw[:PartitionHeaderSize])
	state := PartitionState{Header: hdr, Index: RegionIndex{}}

	if hdr.Tag != PartitionTag || !headerCRCValid(raw[:PartitionHeaderSize]) {
		return state
	}

	tablePos := PartitionHeaderSize
	foundDRAMTraining := false

	for i := 0; i < int(hdr.RegionCount); i++ {
		entryStart := tablePos + i*RegionEntrySize
		entryEnd := entryStart + RegionEntrySize
		if entryEnd > len(raw) {
			return PartitionState{Header: hdr, Valid: false, Index: RegionIndex{}}
		}
		entryBytes := raw[entryStart:entryEnd]
		entry := unmarshalRegionEntry(entryBytes)

		if !IsInteresting(entry.RegionID) {
			continue
		}

		if !s.validRegionEntry(entryBytes, entry, hdr.PartitionSizePages) {
			return PartitionState{Header: hdr, Valid: false, Index: RegionIndex{}}
		}

		state.Index[entry.RegionID] = entry
		if entry.RegionID == RegionDRAMTraining {
			foundDRAMTraining = true
		}
	}

	if !foundDRAMTraining {
		return PartitionState{Header: hdr, Valid: false, Index: RegionIndex{}}
	}

	state.Valid = true
	return state
}

// validRegionEntry checks CRC, offset-nonzero, size-nonzero, no
// overflow, and in-range, per spec §3's region invariants.
func (s *PartitionScanner) validRegionEntry(entryBytes []byte, entry RegionEntry, partitionSizePages uint32) bool {
	if !regionEntryCRCValid(entryBytes) {
		return false
	}
	if entry.OffsetPages == 0 || entry.ReservedSizePages == 0 {
		return false
	}
	end := uint64(entry.OffsetPages) + uint64(entry.ReservedSizePages)
	if end < uint64(entry.OffsetPages) { // overflow
		return false
	}
	if end > uint64(partitionSizePages) {
		return false
	}
	return true
}

// ScanBoth scans partition images a and b and applies the active
// switch-over rule from spec §4.8: if the currently active partition
// is invalid but the other is valid, active switches to the other and
// otherValid is cleared. It returns a Fatal error if neither is valid.
func ScanBoth(scanner *PartitionScanner, a, b []byte, activeIn int) (states [2]PartitionState, activeOut int, otherValid bool, err error) {
	states[0] = scanner.Scan(a)
	states[1] = scanner.Scan(b)

	activeOut = activeIn
	other := 1 - activeIn

	if !states[activeOut].Valid && states[other].Valid {
		activeOut = other
		otherValid = false
	} else {
		otherValid = states[1-activeOut].Valid
	}

	if !states[activeOut].Valid {
		return states, activeOut, false, fwerr.New(fwerr.CodeFatal, "ffs.ScanBoth", nil)
	}

	return states, activeOut, otherValid, nil
}

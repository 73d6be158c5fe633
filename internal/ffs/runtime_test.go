package ffs

import (
	"bytes"
	"testing"
)

const runtimePartitionPages = 256 // 64KB partitions at pageSize=256

func newTestRuntime(t *testing.T, payloads map[RegionID][]byte) (*Runtime, FlashDevice) {
	t.Helper()

	rawA := buildPartitionRaw(testPageSize, runtimePartitionPages, validRegions(), payloads)
	rawB := buildPartitionRaw(testPageSize, runtimePartitionPages, validRegions(), payloads)

	partSize := int64(len(rawA))
	blockSize := testPageSize * runtimePartitionPages

	flash := NewMemFlash(int(partSize)*4, testPageSize, 4096, blockSize)
	for off := 0; off < len(rawA); off += testPageSize {
		end := off + testPageSize
		if end > len(rawA) {
			end = len(rawA)
		}
		if err := flash.ProgramPage(int64(off), rawA[off:end]); err != nil {
			t.Fatalf("seed partition A: %v", err)
		}
	}
	for off := 0; off < len(rawB); off += testPageSize {
		end := off + testPageSize
		if end > len(rawB) {
			end = len(rawB)
		}
		if err := flash.ProgramPage(partSize+int64(off), rawB[off:end]); err != nil {
			t.Fatalf("seed partition B: %v", err)
		}
	}

	rt, err := NewRuntime(flash, testPageSize, blockSize, 0, partSize, partSize)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.DesignatorAddr = [2]int64{partSize*2 + 0, partSize*2 + 4096}
	rt.CounterAddr = [2]int64{partSize*2 + 8192, partSize*2 + 8192 + testPageSize}
	rt.ConfigAddr = [2]int64{partSize*2 + 16384, partSize*2 + 16384 + 4096}
	return rt, flash
}

// TestScenarioAReadFile exercises spec Scenario A: a valid pair of
// partitions, reading one file out of the active one end to end.
func TestScenarioAReadFile(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 128)
	rt, _ := newTestRuntime(t, map[RegionID][]byte{RegionMasterMinion: payload})

	out := make([]byte, len(payload))
	if err := rt.FileReader().ReadFile(RegionMasterMinion, 0, out); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("payload mismatch")
	}
}

// TestScenarioBUpdateAndSwap exercises spec Scenario B: writing a new
// image to the passive partition and swapping boot priority onto it.
func TestScenarioBUpdateAndSwap(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	startActive := rt.Active

	newPayload := bytes.Repeat([]byte{0x7A}, 64)
	newImage := buildPartitionRaw(testPageSize, runtimePartitionPages, validRegions(), map[RegionID][]byte{RegionMasterMinion: newPayload})

	if err := rt.ApplyUpdate(newImage); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	passive := 1 - startActive
	if !rt.States[passive].Valid {
		t.Fatal("expected updated passive partition to scan valid")
	}

	designator := NewPriorityDesignator(rt.Flash, rt.DesignatorAddr[startActive], rt.DesignatorAddr[passive])
	oldPriority, err := designator.Priority(rt.DesignatorAddr[startActive])
	if err != nil {
		t.Fatalf("Priority(old active): %v", err)
	}
	newPriority, err := designator.Priority(rt.DesignatorAddr[passive])
	if err != nil {
		t.Fatalf("Priority(new active): %v", err)
	}
	if newPriority <= oldPriority {
		t.Fatalf("expected updated partition's priority (%d) to exceed the old active's (%d)", newPriority, oldPriority)
	}
}

// findRegionEntryAddr walks partition base's region table looking for
// id's entry and returns its flash address, failing the test if the
// table holds fewer than count entries or id is never found.
func findRegionEntryAddr(t *testing.T, flash FlashDevice, base int64, count uint16, id RegionID) int64 {
	t.Helper()
	entry := make([]byte, RegionEntrySize)
	for i := uint16(0); i < count; i++ {
		addr := base + int64(PartitionHeaderSize) + int64(i)*int64(RegionEntrySize)
		if _, err := flash.ReadAt(entry, addr); err != nil {
			t.Fatalf("ReadAt region entry %d: %v", i, err)
		}
		if unmarshalRegionEntry(entry).RegionID == id {
			return addr
		}
	}
	t.Fatalf("region table has no entry for region %d", id)
	return 0
}

// TestScenarioFCRCCorruption exercises spec Scenario F: flip one byte
// in partition A's region-table entry for the DRAM-training region;
// init marks partition A invalid and switches active to B.
func TestScenarioFCRCCorruption(t *testing.T) {
	rt, flash := newTestRuntime(t, nil)
	startActive := rt.Active

	entryAddr := findRegionEntryAddr(t, flash, rt.PartitionOffset[startActive], uint16(len(validRegions())), RegionDRAMTraining)
	var b [1]byte
	if _, err := flash.ReadAt(b[:], entryAddr); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	b[0] ^= 0xFF
	// Corrupting via ProgramPage only clears bits; that's sufficient to
	// break the CRC regardless of which bits flip logically to 0.
	if err := flash.ProgramPage(entryAddr, b[:]); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}

	if err := rt.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if rt.Active == startActive {
		t.Fatal("expected active partition to switch over after CRC corruption")
	}
}

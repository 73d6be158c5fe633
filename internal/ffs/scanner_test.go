package ffs

import "testing"

const testPageSize = 256

func validRegions() map[RegionID]uint32 {
	return map[RegionID]uint32{
		RegionDRAMTraining: 2,
		RegionMasterMinion: 10,
	}
}

func TestScanValidPartition(t *testing.T) {
	raw := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	s := NewPartitionScanner(testPageSize)

	state := s.Scan(raw)
	if !state.Valid {
		t.Fatal("expected valid partition")
	}
	if _, ok := state.Index[RegionDRAMTraining]; !ok {
		t.Fatal("expected DRAM training region indexed")
	}
}

func TestScanRejectsHeaderCRCCorruption(t *testing.T) {
	raw := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	raw[4] ^= 0xFF // corrupt a HeaderSize byte within the CRC-covered header span

	s := NewPartitionScanner(testPageSize)
	if s.Scan(raw).Valid {
		t.Fatal("expected invalid partition after header corruption")
	}
}

func TestScanRejectsRegionEntryCRCCorruption(t *testing.T) {
	raw := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	raw[PartitionHeaderSize+4] ^= 0xFF // corrupt first region entry's offset field

	s := NewPartitionScanner(testPageSize)
	if s.Scan(raw).Valid {
		t.Fatal("expected invalid partition after region entry corruption")
	}
}

func TestScanRequiresDRAMTrainingRegion(t *testing.T) {
	regions := map[RegionID]uint32{RegionMasterMinion: 10}
	raw := buildPartitionRaw(testPageSize, 64, regions, nil)

	s := NewPartitionScanner(testPageSize)
	if s.Scan(raw).Valid {
		t.Fatal("expected invalid partition without DRAM training region")
	}
}

func TestScanBothSwitchesOverOnActiveCorruption(t *testing.T) {
	good := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	bad := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	bad[4] ^= 0xFF

	s := NewPartitionScanner(testPageSize)
	_, active, otherValid, err := ScanBoth(s, bad, good, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected switchover to partition 1, got %d", active)
	}
	if otherValid {
		t.Fatal("expected otherValid false once active has switched onto the only good copy")
	}
}

func TestScanBothFatalWhenNeitherValid(t *testing.T) {
	bad1 := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	bad2 := buildPartitionRaw(testPageSize, 64, validRegions(), nil)
	bad1[4] ^= 0xFF
	bad2[4] ^= 0xFF

	s := NewPartitionScanner(testPageSize)
	_, _, _, err := ScanBoth(s, bad1, bad2, 0)
	if err == nil {
		t.Fatal("expected fatal error when neither partition validates")
	}
}

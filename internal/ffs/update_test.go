package ffs

import "testing"

func TestPartitionUpdaterAppliesValidImage(t *testing.T) {
	const partitionSizePages = 256 // 64KB, one erase block at pageSize=256
	raw := buildPartitionRaw(testPageSize, partitionSizePages, validRegions(), nil)

	flash := NewMemFlash(len(raw)*2, testPageSize, 4096, testPageSize*partitionSizePages)
	updater := NewPartitionUpdater(flash, testPageSize, testPageSize*partitionSizePages, 0, int64(len(raw)))

	state, err := updater.Apply(raw)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !state.Valid {
		t.Fatal("expected applied image to scan valid")
	}
}

func TestPartitionUpdaterRejectsWrongSize(t *testing.T) {
	flash := NewMemFlash(8192, testPageSize, 4096, 64*1024)
	updater := NewPartitionUpdater(flash, testPageSize, 64*1024, 0, 4096)

	if _, err := updater.Apply(make([]byte, 100)); err == nil {
		t.Fatal("expected error applying an image whose size doesn't match the partition")
	}
}

func TestPartitionUpdaterRejectsCorruptImage(t *testing.T) {
	const partitionSizePages = 256
	raw := buildPartitionRaw(testPageSize, partitionSizePages, validRegions(), nil)
	raw[4] ^= 0xFF // corrupt header size byte

	flash := NewMemFlash(len(raw)*2, testPageSize, 4096, testPageSize*partitionSizePages)
	updater := NewPartitionUpdater(flash, testPageSize, testPageSize*partitionSizePages, 0, int64(len(raw)))

	if _, err := updater.Apply(raw); err == nil {
		t.Fatal("expected error applying an image that fails re-scan")
	}
}

package ffs

import "testing"

func sampleConfig() (PersistentConfig, NonPersistentConfig) {
	p := PersistentConfig{
		Manufacturer: "Acme Accelerator Co",
		PartNumber:   "ACC-9000",
		Serial:       "SN00012345",
		ModuleRev:    "B2",
		FormFactor:   "OAM",
		VminLUT: [][]VminPoint{
			{{FrequencyMHz: 800, VoltageMV: 750}, {FrequencyMHz: 1600, VoltageMV: 900}},
			{{FrequencyMHz: 400, VoltageMV: 700}},
		},
	}
	np := NonPersistentConfig{ReleaseRev: "2026.07", CacheSizeHintKB: 2048}
	return p, np
}

func TestConfigStoreRoundTrip(t *testing.T) {
	flash := NewMemFlash(4096*2, 256, 4096, 64*1024)
	cs := NewConfigStore(flash, 0)

	p, np := sampleConfig()
	if err := cs.Write(p, np); err != nil {
		t.Fatalf("Write: %v", err)
	}

	gotP, gotNP, err := cs.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotP.Manufacturer != p.Manufacturer || gotP.PartNumber != p.PartNumber || gotP.Serial != p.Serial {
		t.Fatalf("persistent config mismatch: got %+v", gotP)
	}
	if len(gotP.VminLUT) != len(p.VminLUT) || len(gotP.VminLUT[0]) != len(p.VminLUT[0]) {
		t.Fatalf("vmin LUT shape mismatch: got %+v", gotP.VminLUT)
	}
	if gotNP.ReleaseRev != np.ReleaseRev || gotNP.CacheSizeHintKB != np.CacheSizeHintKB {
		t.Fatalf("non-persistent config mismatch: got %+v", gotNP)
	}
}

func TestConfigStoreRejectsUnwrittenSector(t *testing.T) {
	flash := NewMemFlash(4096*2, 256, 4096, 64*1024)
	cs := NewConfigStore(flash, 0)

	if _, _, err := cs.Read(); err == nil {
		t.Fatal("expected error reading an erased (never-written) config sector")
	}
}

package mmr

import "testing"

func TestDmaAbortIdleIsNoOp(t *testing.T) {
	w := NewDmaWorker(DRAMRange{Start: 0, End: 1 << 20})
	ch := w.Channel(DmaRead, 0)
	if ch.State() != DmaIdle {
		t.Fatal("expected fresh channel Idle")
	}
	w.Abort(ch)
	if ch.State() != DmaIdle {
		t.Fatal("expected Abort on Idle channel to remain a no-op")
	}
}

func TestDmaAbortInUseIsIdempotent(t *testing.T) {
	w := NewDmaWorker(DRAMRange{Start: 0, End: 1 << 20})
	req := DmaTransferRequest{
		TagID:       7,
		Descriptors: []DmaDescriptor{{SourceAddr: 0x100, DestAddr: 0x200, Length: 64}},
	}
	ch, err := w.Reserve(DmaRead, req)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := w.Start(ch, 1000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ch.State() != DmaInUse {
		t.Fatal("expected InUse after Start")
	}

	w.Abort(ch)
	if ch.State() != DmaIdle {
		t.Fatalf("expected Idle after first Abort, got %v", ch.State())
	}

	// Second abort on the now-Idle channel must be a no-op, not an error.
	w.Abort(ch)
	if ch.State() != DmaIdle {
		t.Fatalf("expected Idle after second Abort, got %v", ch.State())
	}
}

func TestDmaReserveRejectsOutOfRangeDescriptor(t *testing.T) {
	w := NewDmaWorker(DRAMRange{Start: 0x1000, End: 0x2000})
	req := DmaTransferRequest{
		Descriptors: []DmaDescriptor{{SourceAddr: 0x500, DestAddr: 0x1500, Length: 16}},
	}
	if _, err := w.Reserve(DmaRead, req); err == nil {
		t.Fatal("expected error reserving a transfer with an out-of-range descriptor")
	}
}

func TestDmaReserveHonorsBoundsCheckBypassOnlyWithCapability(t *testing.T) {
	w := NewDmaWorker(DRAMRange{Start: 0x1000, End: 0x2000})
	req := DmaTransferRequest{
		Descriptors:     []DmaDescriptor{{SourceAddr: 0x500, DestAddr: 0x1500, Length: 16}},
		SkipBoundsCheck: true,
	}
	if _, err := w.Reserve(DmaRead, req); err == nil {
		t.Fatal("expected error requesting bounds-check bypass without a granted capability")
	}

	req.Capability = GrantDmaCapability()
	if _, err := w.Reserve(DmaRead, req); err != nil {
		t.Fatalf("expected bypass to succeed with a granted capability, got %v", err)
	}
}

func TestDmaAbortAllScopedToOwner(t *testing.T) {
	w := NewDmaWorker(DRAMRange{Start: 0, End: 1 << 20})
	req1 := DmaTransferRequest{TagID: 1, OwningSQWorker: 1, Descriptors: []DmaDescriptor{{SourceAddr: 0x10, DestAddr: 0x20, Length: 8}}}
	req2 := DmaTransferRequest{TagID: 2, OwningSQWorker: 2, Descriptors: []DmaDescriptor{{SourceAddr: 0x10, DestAddr: 0x20, Length: 8}}}

	ch1, err := w.Reserve(DmaRead, req1)
	if err != nil {
		t.Fatalf("Reserve ch1: %v", err)
	}
	ch2, err := w.Reserve(DmaWrite, req2)
	if err != nil {
		t.Fatalf("Reserve ch2: %v", err)
	}
	if err := w.Start(ch1, 0); err != nil {
		t.Fatalf("Start ch1: %v", err)
	}
	if err := w.Start(ch2, 0); err != nil {
		t.Fatalf("Start ch2: %v", err)
	}

	w.AbortAll(1)
	if ch1.State() != DmaIdle {
		t.Fatalf("expected owner-1 channel aborted to Idle, got %v", ch1.State())
	}
	if ch2.State() != DmaInUse {
		t.Fatalf("expected owner-2 channel untouched (InUse), got %v", ch2.State())
	}
}

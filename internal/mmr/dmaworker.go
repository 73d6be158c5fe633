package mmr

import (
	"sync"
	"sync/atomic"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// DmaChannelsPerDirection is the fixed pool size per direction (spec
// §4.5: "4+4 channels").
const DmaChannelsPerDirection = 4

// DmaDescriptor is one entry of a channel's transfer descriptor list
// (spec §4.5 step 2), built in a reserved DRAM region.
type DmaDescriptor struct {
	SourceAddr uint64
	DestAddr   uint64
	Length     uint64
}

// DmaChannel is one channel's status (spec §3 "DmaChannelStatus").
// State is a CAS-guarded atomic word; the remaining fields are only
// mutated while the owning worker holds that channel reserved, so
// plain fields suffice for them.
type DmaChannel struct {
	Index          int
	Direction      DmaDirection
	state          atomic.Uint32 // DmaChannelState
	TagID          uint16
	OwningSQWorker int
	StartCycles    uint64
	Descriptors    []DmaDescriptor
}

func (c *DmaChannel) State() DmaChannelState { return DmaChannelState(c.state.Load()) }

func (c *DmaChannel) cas(from, to DmaChannelState) bool {
	return c.state.CompareAndSwap(uint32(from), uint32(to))
}

// DmaCapability is a capability token gating
// SOC_NO_BOUNDS_CHECK-equivalent transfers (DESIGN NOTES' resolution
// of the Open Question: "treat as privileged, gate behind a capability
// token" rather than trusting a bit in the command flags alone).
// Only code holding a DmaCapability value may request an unchecked
// transfer; ordinary callers never construct one.
type DmaCapability struct{ granted bool }

// GrantDmaCapability is the single constructor for DmaCapability,
// standing in for whatever privileged boot-time gate (a fused bit, a
// signed manifest check) would authorize the real firmware's trusted
// operator tooling.
func GrantDmaCapability() DmaCapability { return DmaCapability{granted: true} }

// DmaTransferRequest describes one DMA transfer request (spec §4.5).
type DmaTransferRequest struct {
	TagID          uint16
	OwningSQWorker int
	Descriptors    []DmaDescriptor
	// SkipBoundsCheck requests the SOC_NO_BOUNDS_CHECK behavior; it is
	// only honored when Capability is the real, granted token.
	SkipBoundsCheck bool
	Capability      DmaCapability
}

// DmaWorker arbitrates the two 4-channel pools and mediates transfer
// completion (spec §4.5).
type DmaWorker struct {
	mu       sync.Mutex // guards the slice headers; per-channel state is atomic
	channels [2][DmaChannelsPerDirection]*DmaChannel
	dram     DRAMRange
}

// NewDmaWorker constructs a worker with both channel pools Idle.
func NewDmaWorker(dram DRAMRange) *DmaWorker {
	w := &DmaWorker{dram: dram}
	for dir := 0; dir < 2; dir++ {
		for i := 0; i < DmaChannelsPerDirection; i++ {
			w.channels[dir][i] = &DmaChannel{Index: i, Direction: DmaDirection(dir)}
		}
	}
	return w
}

// Reserve scans the direction's pool for an Idle channel and CASes it
// to Reserved with tagID/owner recorded (spec §4.5 step 1).
func (w *DmaWorker) Reserve(dir DmaDirection, req DmaTransferRequest) (*DmaChannel, error) {
	if !req.SkipBoundsCheck {
		for _, d := range req.Descriptors {
			if !w.dram.contains(d.SourceAddr, d.Length) || !w.dram.contains(d.DestAddr, d.Length) {
				return nil, fwerr.New(fwerr.CodeInvalidArgument, "mmr.DmaWorker.Reserve", nil)
			}
		}
	} else if !req.Capability.granted {
		// SOC_NO_BOUNDS_CHECK was requested without a real capability
		// token: refuse rather than silently falling back to checked
		// mode, so a caller notices the missing grant immediately.
		return nil, fwerr.New(fwerr.CodeInvalidArgument, "mmr.DmaWorker.Reserve", nil)
	}

	w.mu.Lock()
	pool := w.channels[dir]
	w.mu.Unlock()

	for _, ch := range pool {
		if ch.cas(DmaIdle, DmaReserved) {
			ch.TagID = req.TagID
			ch.OwningSQWorker = req.OwningSQWorker
			ch.Descriptors = req.Descriptors
			return ch, nil
		}
	}
	return nil, fwerr.New(fwerr.CodeResourceBusy, "mmr.DmaWorker.Reserve", nil)
}

// Start CASes a Reserved channel to InUse, recording the start cycle
// count (spec §4.5 step 3).
func (w *DmaWorker) Start(ch *DmaChannel, startCycles uint64) error {
	if !ch.cas(DmaReserved, DmaInUse) {
		return fwerr.New(fwerr.CodeProtocolError, "mmr.DmaWorker.Start", nil)
	}
	ch.StartCycles = startCycles
	return nil
}

// DmaCompletion is the response built on a completion interrupt (spec
// §4.5 step 4).
type DmaCompletion struct {
	TagID          uint16
	OwningSQWorker int
	CycleCount     uint64
	Status         KernelStatus
}

// Complete handles a completion interrupt for ch: CAS InUse→Idle and
// build the response with elapsed cycles.
func (w *DmaWorker) Complete(ch *DmaChannel, endCycles uint64, status KernelStatus) (DmaCompletion, error) {
	if ch.State() != DmaInUse {
		return DmaCompletion{}, fwerr.New(fwerr.CodeProtocolError, "mmr.DmaWorker.Complete", nil)
	}
	resp := DmaCompletion{
		TagID:          ch.TagID,
		OwningSQWorker: ch.OwningSQWorker,
		CycleCount:     endCycles - ch.StartCycles,
		Status:         status,
	}
	if !ch.cas(DmaInUse, DmaIdle) {
		return DmaCompletion{}, fwerr.New(fwerr.CodeProtocolError, "mmr.DmaWorker.Complete", nil)
	}
	ch.Descriptors = nil
	return resp, nil
}

// Abort implements spec §4.5/§8 property 8 ("DMA idempotent abort"):
// aborting an Idle channel is a no-op; aborting an InUse (or Reserved)
// channel transitions it through Aborting back to Idle exactly once —
// a second call on an already-Idle channel is again a no-op.
func (w *DmaWorker) Abort(ch *DmaChannel) {
	for {
		switch ch.State() {
		case DmaIdle:
			return
		case DmaInUse:
			if ch.cas(DmaInUse, DmaAborting) {
				ch.Descriptors = nil
				ch.state.Store(uint32(DmaIdle))
				return
			}
		case DmaReserved:
			if ch.cas(DmaReserved, DmaAborting) {
				ch.Descriptors = nil
				ch.state.Store(uint32(DmaIdle))
				return
			}
		case DmaAborting:
			// Another Abort call is mid-flight; nothing more to do.
			return
		default:
			return
		}
	}
}

// AbortAll aborts every channel across both pools owned by owner
// (spec §4.5's "abort-all" operation).
func (w *DmaWorker) AbortAll(owner int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := 0; dir < 2; dir++ {
		for _, ch := range w.channels[dir] {
			if ch.OwningSQWorker == owner && ch.State() != DmaIdle {
				w.Abort(ch)
			}
		}
	}
}

// Channel returns channel i of the given direction's pool.
func (w *DmaWorker) Channel(dir DmaDirection, i int) *DmaChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channels[dir][i]
}

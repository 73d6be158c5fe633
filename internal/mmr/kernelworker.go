package mmr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// DRAMRange is the host-managed DRAM window kernel arguments and DMA
// transfers must fall within (spec §4.4 step 1 / §4.5's bounds check).
type DRAMRange struct {
	Start uint64
	End   uint64 // exclusive
}

func (r DRAMRange) contains(addr, size uint64) bool {
	end := addr + size
	if end < addr { // overflow
		return false
	}
	return addr >= r.Start && end <= r.End
}

// KernelLaunchRequest is a host-issued kernel dispatch (spec §4.4).
type KernelLaunchRequest struct {
	TagID            uint16
	OwningSQWorker   int
	CodeStartAddress uint64
	ArgsPointer      uint64 // 0 means "no args"
	ArgsSize         uint64
	ShireMask        uint64
}

// KernelLaunchResponse is the host-visible outcome of a dispatch or a
// later completion.
type KernelLaunchResponse struct {
	TagID  uint16
	Slot   int
	Status KernelStatus
}

// KernelWorker owns every kernel-launch slot and the shire reservation
// that goes with it (spec §4.4). Slot allocation and shire-mask
// reservation are covered by one mutex per §5 ("must be atomic as a
// pair to avoid deadlock where slot is taken but shires aren't").
type KernelWorker struct {
	mu    sync.Mutex
	slots []KernelSlot
	mesh  *ComputeMeshInterface
	dram  DRAMRange
	log   *slog.Logger

	ackTimeout time.Duration
}

// NewKernelWorker constructs a worker over slotCount slots.
func NewKernelWorker(slotCount int, mesh *ComputeMeshInterface, dram DRAMRange, log *slog.Logger, ackTimeout time.Duration) *KernelWorker {
	w := &KernelWorker{
		slots:      make([]KernelSlot, slotCount),
		mesh:       mesh,
		dram:       dram,
		log:        log,
		ackTimeout: ackTimeout,
	}
	for i := range w.slots {
		w.slots[i] = KernelSlot{Index: i, State: SlotUnused, SWTimerSlot: -1}
	}
	return w
}

// ackTransport adapts ComputeMeshInterface.Broadcast's per-target
// Deliver hook to a simple per-call ACK simulator supplied by the
// caller (production: real IPI wait; tests: inject delay/failure).
type ackTransport struct {
	ack func(ctx context.Context, shireIndex int, msg CMMessage) error
}

func (t ackTransport) Deliver(ctx context.Context, shireIndex int, msg CMMessage) error {
	return t.ack(ctx, shireIndex, msg)
}

// Dispatch implements spec §4.4's launch algorithm: validate the
// DRAM range, reserve a slot, reserve the shire mask, broadcast
// KernelLaunch, and transition reserved shires to Running. Any
// failure after slot reservation rolls the slot back to Unused.
func (w *KernelWorker) Dispatch(ctx context.Context, transport ShireTransport, req KernelLaunchRequest) (KernelLaunchResponse, error) {
	if !w.dram.contains(req.CodeStartAddress, 1) {
		return KernelLaunchResponse{}, fwerr.New(fwerr.CodeInvalidArgument, "mmr.KernelWorker.Dispatch", nil)
	}
	if req.ArgsPointer != 0 && !w.dram.contains(req.ArgsPointer, req.ArgsSize) {
		return KernelLaunchResponse{}, fwerr.New(fwerr.CodeInvalidArgument, "mmr.KernelWorker.Dispatch", nil)
	}

	slotIdx, err := w.reserveSlotAndShires(req)
	if err != nil {
		return KernelLaunchResponse{}, err
	}

	launchCtx := ctx
	var cancel context.CancelFunc
	if w.ackTimeout > 0 {
		launchCtx, cancel = context.WithTimeout(ctx, w.ackTimeout)
		defer cancel()
	}

	err = w.mesh.Broadcast(launchCtx, transport, req.ShireMask, CMKernelLaunch, req.TagID)
	if err != nil {
		w.rollback(slotIdx, req.ShireMask)
		if w.log != nil {
			w.log.Error("kernel launch broadcast failed", slog.Int("slot", slotIdx), slog.Any("err", err))
		}
		return KernelLaunchResponse{}, err
	}

	w.mu.Lock()
	for i := 0; i < w.mesh.ShireCount(); i++ {
		if req.ShireMask&(1<<uint(i)) != 0 {
			_ = w.mesh.Shire(i).Transition(ShireRunning)
		}
	}
	w.slots[slotIdx].State = SlotInUse
	w.mu.Unlock()

	return KernelLaunchResponse{TagID: req.TagID, Slot: slotIdx, Status: StatusSuccess}, nil
}

// reserveSlotAndShires atomically (under w.mu) finds an Unused slot
// and confirms/reserves every shire in mask is Ready, or releases the
// slot again and fails — the §5 "slot+shires reserved as a pair"
// requirement.
func (w *KernelWorker) reserveSlotAndShires(req KernelLaunchRequest) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slotIdx := -1
	for i := range w.slots {
		if w.slots[i].State == SlotUnused {
			slotIdx = i
			break
		}
	}
	if slotIdx < 0 {
		return -1, fwerr.New(fwerr.CodeResourceBusy, "mmr.KernelWorker.reserveSlotAndShires", nil)
	}

	if !w.mesh.ShireMaskReady(req.ShireMask) {
		return -1, fwerr.New(fwerr.CodeNotReady, "mmr.KernelWorker.reserveSlotAndShires", nil)
	}

	for i := 0; i < w.mesh.ShireCount(); i++ {
		if req.ShireMask&(1<<uint(i)) != 0 {
			if err := w.mesh.Shire(i).Transition(ShireReserved); err != nil {
				// Should not happen: ShireMaskReady just confirmed Ready.
				return -1, err
			}
		}
	}

	w.slots[slotIdx] = KernelSlot{
		Index:          slotIdx,
		State:          SlotReserved,
		TagID:          req.TagID,
		OwningSQWorker: req.OwningSQWorker,
		ShireMask:      req.ShireMask,
		SWTimerSlot:    -1,
	}
	return slotIdx, nil
}

// rollback releases slotIdx and every shire in mask back to their
// pre-reservation state, used when broadcast or ACK fails.
func (w *KernelWorker) rollback(slotIdx int, mask uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < w.mesh.ShireCount(); i++ {
		if mask&(1<<uint(i)) != 0 {
			sh := w.mesh.Shire(i)
			if sh.State == ShireReserved {
				_ = sh.Transition(ShireReady)
			}
		}
	}
	w.slots[slotIdx] = KernelSlot{Index: slotIdx, State: SlotUnused, SWTimerSlot: -1}
}

// ShireOutcome is one shire's report back to the owning KernelWorker
// (KernelComplete or KernelException, spec §4.4).
type ShireOutcome struct {
	ShireIndex int
	Status     KernelStatus
}

// Complete aggregates per-shire outcomes for slotIdx, builds the final
// status from the priority ladder, releases the shires to Ready, and
// unreserves the slot (spec §4.4 "Completion"). Callers feed it every
// ShireOutcome received on the slot's unicast ring until the number
// aggregated equals popcount(shire_mask).
func (w *KernelWorker) Complete(slotIdx int, outcomes []ShireOutcome) (KernelLaunchResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := &w.slots[slotIdx]
	if slot.State != SlotInUse && slot.State != SlotAbortingByHost && slot.State != SlotAbortingTimeout {
		return KernelLaunchResponse{}, fwerr.New(fwerr.CodeInvalidArgument, "mmr.KernelWorker.Complete", nil)
	}

	final := StatusSuccess
	switch slot.State {
	case SlotAbortingByHost:
		final = StatusHostAborted
	case SlotAbortingTimeout:
		final = StatusTimeout
	}
	for _, o := range outcomes {
		if worse(final, o.Status) {
			final = o.Status
		}
	}

	for i := 0; i < w.mesh.ShireCount(); i++ {
		if slot.ShireMask&(1<<uint(i)) != 0 {
			sh := w.mesh.Shire(i)
			if sh.State == ShireRunning {
				_ = sh.Transition(ShireComplete)
				_ = sh.Transition(ShireReady)
			} else if sh.State == ShireError {
				_ = sh.Transition(ShireReady)
			}
		}
	}

	resp := KernelLaunchResponse{TagID: slot.TagID, Slot: slotIdx, Status: final}
	w.slots[slotIdx] = KernelSlot{Index: slotIdx, State: SlotUnused, SWTimerSlot: -1}
	return resp, nil
}

// AbortByHost transitions slotIdx to AbortingByHost and multicasts
// KernelAbort to its reserved shires (spec §4.4/§5's "soft" cancellation).
func (w *KernelWorker) AbortByHost(ctx context.Context, transport ShireTransport, slotIdx int) error {
	w.mu.Lock()
	slot := w.slots[slotIdx]
	if slot.State != SlotInUse {
		w.mu.Unlock()
		return fwerr.New(fwerr.CodeInvalidArgument, "mmr.KernelWorker.AbortByHost", nil)
	}
	w.slots[slotIdx].State = SlotAbortingByHost
	w.mu.Unlock()

	return w.mesh.Broadcast(ctx, transport, slot.ShireMask, CMKernelAbort, slot.TagID)
}

// AbortAll aborts every slot not already Unused, multicasting
// KernelAbort to each one's reserved shires (spec §5's "hard"
// teardown cancellation).
func (w *KernelWorker) AbortAll(ctx context.Context, transport ShireTransport) {
	w.mu.Lock()
	active := make([]KernelSlot, 0, len(w.slots))
	for i := range w.slots {
		if w.slots[i].State != SlotUnused {
			w.slots[i].State = SlotAbortingByHost
			active = append(active, w.slots[i])
		}
	}
	w.mu.Unlock()

	for _, slot := range active {
		_ = w.mesh.Broadcast(ctx, transport, slot.ShireMask, CMKernelAbort, slot.TagID)
	}
}

// HandleShireException implements spec §4.4's "Exception on one
// shire" rule: the worker automatically multicasts abort to the
// remaining shires in the slot (excluding the faulting one) so they
// stop quickly, and marks the faulting shire Error.
func (w *KernelWorker) HandleShireException(ctx context.Context, transport ShireTransport, slotIdx, faultingShire int) error {
	w.mu.Lock()
	slot := w.slots[slotIdx]
	sh := w.mesh.Shire(faultingShire)
	_ = sh.Transition(ShireError)
	remaining := slot.ShireMask &^ (1 << uint(faultingShire))
	w.mu.Unlock()

	if remaining == 0 {
		return nil
	}
	return w.mesh.Broadcast(ctx, transport, remaining, CMKernelAbort, slot.TagID)
}

// Slot returns a snapshot of slot i's state, for tests and StatsWorker.
func (w *KernelWorker) Slot(i int) KernelSlot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slots[i]
}

// SlotCount reports the number of launch slots.
func (w *KernelWorker) SlotCount() int { return len(w.slots) }

package mmr

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/openenterprise/etaccel/internal/fwerr"
	"github.com/openenterprise/etaccel/internal/fwlog"
)

// ExceptionContext captures a RISC-V supervisor exception's machine
// state (spec §7's "Supervisor exceptions" paragraph), grounded on
// device-minion-runtime/src/shared/firmware_helpers/src/print_exception.c
// and .../src/exception.c: sepc, sstatus, stval, scause plus every
// general-purpose register.
type ExceptionContext struct {
	Sepc    uint64
	Sstatus uint64
	Stval   uint64
	Scause  uint64
	Regs    [32]uint64
	HartID  uint32
	Slot    int // owning KernelSlot index, or -1 for an S-mode fault
}

const exceptionRecordVersion = 1

func (e ExceptionContext) encode() []byte {
	buf := make([]byte, 1+4+4+8*4+8*32)
	buf[0] = exceptionRecordVersion
	binary.LittleEndian.PutUint32(buf[1:5], e.HartID)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(e.Slot))
	off := 9
	for _, v := range []uint64{e.Sepc, e.Sstatus, e.Stval, e.Scause} {
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	for _, r := range e.Regs {
		binary.LittleEndian.PutUint64(buf[off:off+8], r)
		off += 8
	}
	return buf
}

// sModeFault reports whether the fault happened while running
// supervisor-mode firmware code rather than a launched
// U-mode kernel. RISC-V encodes the mode in the privileged spec's
// trap-handling state, external to scause itself in the general case;
// this firmware tracks it explicitly via Slot instead (Slot < 0 means
// S-mode, matching ExceptionContext's doc comment), since bit-level
// privilege decoding belongs to the real scause/sstatus hardware
// layout this package does not model (see §1 non-goals).
func (e ExceptionContext) sModeFault() bool { return e.Slot < 0 }

// ExceptionHandler routes supervisor exceptions to the trace ring and
// the service processor, and either resumes (U-mode fault on a
// launched kernel, delivered to the owning KernelWorker as a
// KernelException) or halts (S-mode fault), per spec §7.
type ExceptionHandler struct {
	ring   *fwlog.Ring
	sp     *ServiceProcessorInterface
	kernel *KernelWorker
	log    *slog.Logger

	halted bool
}

// NewExceptionHandler constructs a handler writing to ring, reporting
// to sp, and delivering U-mode faults to kernel.
func NewExceptionHandler(ring *fwlog.Ring, sp *ServiceProcessorInterface, kernel *KernelWorker, log *slog.Logger) *ExceptionHandler {
	return &ExceptionHandler{ring: ring, sp: sp, kernel: kernel, log: log}
}

// Halted reports whether a prior S-mode fault halted this handler;
// once true, the firmware waits for external reset (spec §7) and
// Handle refuses further work.
func (h *ExceptionHandler) Halted() bool { return h.halted }

// Handle implements spec §7's common exception path: capture the
// context (already captured by the caller into ctx), write a trace
// record, report a typed error to the service processor, and either
// resume the owning kernel worker (U-mode) or halt (S-mode).
func (h *ExceptionHandler) Handle(rpcCtx context.Context, ctx ExceptionContext, faultingShire int) error {
	if h.halted {
		return fwerr.New(fwerr.CodeFatal, "mmr.ExceptionHandler.Handle", nil)
	}

	h.ring.Append(ctx.encode())

	if h.log != nil {
		h.log.Error("supervisor exception",
			slog.Uint64("scause", ctx.Scause),
			slog.Uint64("sepc", ctx.Sepc),
			slog.Int("hart", int(ctx.HartID)),
		)
	}

	if h.sp != nil {
		_ = h.sp.ReportError(ctx.HartID, fwerr.CodeHardwareFailure, nil)
	}

	if ctx.sModeFault() {
		h.halted = true
		return fwerr.New(fwerr.CodeFatal, "mmr.ExceptionHandler.Handle", nil)
	}

	if h.kernel != nil && ctx.Slot >= 0 {
		return h.kernel.HandleShireException(rpcCtx, noopTransport{}, ctx.Slot, faultingShire)
	}
	return nil
}

// noopTransport is used when Handle needs to multicast an abort but
// the caller hasn't wired a real ShireTransport in (e.g. unit tests
// exercising only the trace/report path); it reports every delivery
// as immediately acknowledged.
type noopTransport struct{}

func (noopTransport) Deliver(ctx context.Context, shireIndex int, msg CMMessage) error { return nil }

package mmr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// SubmissionWorkerState tracks the worker's own lifecycle (spec §4.3).
type SubmissionWorkerState uint8

const (
	SubmissionIdle SubmissionWorkerState = iota
	SubmissionBusy
	SubmissionAborted
)

// HostCommand is one decoded command from a submission queue.
type HostCommand struct {
	TagID      uint16
	MsgID      uint16
	Flags      uint16
	Barrier    bool
	IssuingHART uint32
	Payload    []byte
	CycleStamp uint64
}

// CommandHandler processes one decoded command. It either completes
// inline (the bool return is true) producing a response to push to
// the CQ, or hands off to a worker that will later decrement the
// worker's in-flight count itself.
type CommandHandler func(ctx context.Context, cmd HostCommand) (resp []byte, completedInline bool, err error)

// SubmissionWorker decodes and dispatches commands from one SQ (spec
// §4.3). HighPrioritySubmissionWorker is the same machinery with a
// distinct queue and handler, constructed through the same type —
// the spec draws no behavioral distinction beyond queue identity and
// scheduling priority, which is an external concern (worker-to-HART
// assignment), not part of this type's contract.
type SubmissionWorker struct {
	vq       *VirtualQueue
	handler  CommandHandler
	notify   chan struct{} // FCC flag: buffered 1, matches a hardware notification bit
	inFlight atomic.Int64
	mu       sync.Mutex
	state    SubmissionWorkerState
}

// NewSubmissionWorker constructs a worker draining vq through handler.
func NewSubmissionWorker(vq *VirtualQueue, handler CommandHandler) *SubmissionWorker {
	return &SubmissionWorker{
		vq:      vq,
		handler: handler,
		notify:  make(chan struct{}, 1),
		state:   SubmissionIdle,
	}
}

// Notify sets the worker's FCC flag, matching a hardware notification
// bit: a second Notify before the first is consumed is coalesced.
func (w *SubmissionWorker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// InFlight reports the worker's current in-flight command count.
func (w *SubmissionWorker) InFlight() int64 { return w.inFlight.Load() }

// State reports the worker's lifecycle state.
func (w *SubmissionWorker) State() SubmissionWorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run blocks on the FCC flag and, each time it fires, drains vq to
// Empty, decoding and dispatching each command per spec §4.3. It
// returns when ctx is cancelled.
func (w *SubmissionWorker) Run(ctx context.Context, decode func([]byte) (HostCommand, error), push func(resp []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
			if err := w.drain(ctx, decode, push); err != nil {
				return err
			}
		}
	}
}

func (w *SubmissionWorker) drain(ctx context.Context, decode func([]byte) (HostCommand, error), push func(resp []byte) error) error {
	w.mu.Lock()
	if w.state == SubmissionAborted {
		w.mu.Unlock()
		return nil
	}
	w.state = SubmissionBusy
	w.mu.Unlock()

	buf := make([]byte, MaxCommandSize)
	for {
		n, err := w.vq.Pop(buf)
		if err != nil {
			if fe, ok := err.(*fwerr.Error); ok && fe.Code == fwerr.CodeNotReady {
				break
			}
			return err
		}

		cmd, err := decode(buf[:n])
		if err != nil {
			continue
		}

		if cmd.Barrier {
			// Spin until this worker's in-flight count drains to zero
			// before dispatching the barrier command itself (spec §4.3:
			// "per-queue barrier" per DESIGN NOTES' Open Question
			// resolution — scoped to this worker's own queue only).
			for w.inFlight.Load() != 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		}

		w.inFlight.Add(1)
		resp, completedInline, err := w.handler(ctx, cmd)
		if completedInline {
			w.inFlight.Add(-1)
			if err == nil && resp != nil {
				_ = push(resp)
			}
		}
		// If not completedInline, the handler's downstream worker
		// (KernelWorker/DmaWorker) owns decrementing inFlight later.
	}

	w.mu.Lock()
	if w.state == SubmissionBusy {
		w.state = SubmissionIdle
	}
	w.mu.Unlock()
	return nil
}

// DecrementInFlight is called by KernelWorker/DmaWorker once an
// off-loaded command truly completes.
func (w *SubmissionWorker) DecrementInFlight() { w.inFlight.Add(-1) }

// Abort implements spec §4.3's abort path: drain every pending command
// producing an Aborted response for each, then mark Aborted.
func (w *SubmissionWorker) Abort(push func(resp []byte) error, abortedResponse func(HostCommand) []byte, decode func([]byte) (HostCommand, error)) {
	w.mu.Lock()
	w.state = SubmissionAborted
	w.mu.Unlock()

	buf := make([]byte, MaxCommandSize)
	for {
		n, err := w.vq.Pop(buf)
		if err != nil {
			return
		}
		cmd, err := decode(buf[:n])
		if err != nil {
			continue
		}
		_ = push(abortedResponse(cmd))
	}
}

package mmr

import (
	"context"
	"log/slog"
	"sync"
)

// DeviceInterfaceRegisters is the host-visible status field Dispatcher
// publishes its boot progression to (spec §6 "Device Interface
// Registers"/"Boot status progression"). Status is signed in the
// original wire format (negative = firmware error); here a non-nil
// error from an init step is the Go equivalent, so Status only ever
// holds the non-negative BootStatus enum.
type DeviceInterfaceRegisters struct {
	mu     sync.Mutex
	status BootStatus
}

func (d *DeviceInterfaceRegisters) publish(s BootStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

// Status reads the current boot status.
func (d *DeviceInterfaceRegisters) Status() BootStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// InitStep is one of Dispatcher's eight ordered bring-up steps (spec
// §4.2); returning an error aborts the boot sequence at that status.
type InitStep struct {
	Status BootStatus
	Run    func(ctx context.Context) error
}

// Dispatcher is the supervisor-mode entry on a single designated HART
// (spec §4.2): runs the eight-step init sequence publishing
// DeviceInterfaceRegisters.status at each step, then the main loop
// that fans host and service-processor notifications out to worker
// FCC flags.
type Dispatcher struct {
	dir *DeviceInterfaceRegisters
	log *slog.Logger

	hostIface *HostInterface
	spIface   *ServiceProcessorInterface
}

// HostInterface models the PCIe host-facing side: the interrupt
// source the main loop waits on and the per-worker notification fans
// the spec calls "HostIface::process()".
type HostInterface struct {
	Interrupts chan struct{} // buffered 1, raised on a host doorbell write
	workers    []*SubmissionWorker
}

// NewHostInterface constructs a host interface fanning to workers.
func NewHostInterface(workers []*SubmissionWorker) *HostInterface {
	return &HostInterface{Interrupts: make(chan struct{}, 1), workers: workers}
}

// Process fans a pending host interrupt out to every registered
// submission worker's FCC flag (spec §4.2: "dispatch HostIface::process()").
func (h *HostInterface) Process() {
	for _, w := range h.workers {
		w.Notify()
	}
}

// NewDispatcher constructs a Dispatcher over the given interfaces.
func NewDispatcher(dir *DeviceInterfaceRegisters, hostIface *HostInterface, spIface *ServiceProcessorInterface, log *slog.Logger) *Dispatcher {
	return &Dispatcher{dir: dir, log: log, hostIface: hostIface, spIface: spIface}
}

// Init runs the ordered init steps, publishing each step's BootStatus
// to the device interface registers before it runs, and Ready once
// every step succeeds (spec §4.2). A step whose own Status is Ready
// publishes Ready before it runs, and that value stays published if
// the step then fails.
func (d *Dispatcher) Init(ctx context.Context, steps []InitStep) error {
	d.dir.publish(DevIntfNotReady)
	for _, step := range steps {
		d.dir.publish(step.Status)
		if err := step.Run(ctx); err != nil {
			if d.log != nil {
				d.log.Error("init step failed", slog.String("status", step.Status.String()), slog.Any("err", err))
			}
			return err
		}
	}
	d.dir.publish(Ready)
	return nil
}

// DefaultInitSteps builds the eight-step ordering spec §4.2 documents,
// with no-op bodies for steps that have no in-process state of their
// own to bring up (serial/PLIC bring-up is external-collaborator
// territory per §1); callers supply the real Run bodies for the steps
// that matter to this package (compute mesh, workers, rings release).
func DefaultInitSteps(cmInit, statsDmaInit, workersGate, hostVQInit, spRingsInit, releaseGate func(context.Context) error) []InitStep {
	noop := func(context.Context) error { return nil }
	return []InitStep{
		{Status: DevIntfReady, Run: noop},          // 1. serial, logging lock
		{Status: InterruptInit, Run: noop},         // 2. PLIC and local interrupts
		{Status: CMIfaceReady, Run: cmInit},         // 3. compute-mesh interface
		{Status: CMWorkersInit, Run: statsDmaInit},  // 4. stats and DMA-channel tables
		{Status: MMWorkersInit, Run: workersGate},   // 5. submission/kernel/DMA/HP workers (gated)
		{Status: HostVQReady, Run: hostVQInit},       // 6. host SQ/CQ rings
		{Status: SPIfaceReady, Run: spRingsInit},     // 7. service-processor rings
		{Status: Ready, Run: releaseGate},            // 8. release gate
	}
}

// Run is the main loop (spec §4.2): block for either a host interrupt
// or an SP notification (modeling "wait-for-interrupt" as a
// context-aware channel receive, since there is no real WFI on this
// simulation host), then fan the corresponding Process() out to
// workers. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, spNotify <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.hostIface.Interrupts:
			d.hostIface.Process()
			if d.spIface != nil {
				_ = d.spIface.Process()
			}
		case <-spNotify:
			if d.spIface != nil {
				_ = d.spIface.Process()
			}
		}
	}
}

package mmr

import (
	"fmt"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// ShireState is a compute shire's position in its boot/reservation
// lifecycle (spec §3).
type ShireState uint8

const (
	ShireUnknown ShireState = iota
	ShireBooted
	ShireReady
	ShireReserved
	ShireRunning
	ShireComplete
	ShireError
)

func (s ShireState) String() string {
	switch s {
	case ShireUnknown:
		return "unknown"
	case ShireBooted:
		return "booted"
	case ShireReady:
		return "ready"
	case ShireReserved:
		return "reserved"
	case ShireRunning:
		return "running"
	case ShireComplete:
		return "complete"
	case ShireError:
		return "error"
	default:
		return fmt.Sprintf("shire_state(%d)", uint8(s))
	}
}

// legalShireTransitions enumerates the exact transition table spec §3
// specifies: Unknown→Booted→Ready; Ready→Reserved→Running→Complete→
// Ready; Running→Error (terminal except a manual clear back to Ready).
var legalShireTransitions = map[ShireState]map[ShireState]bool{
	ShireUnknown:  {ShireBooted: true},
	ShireBooted:   {ShireReady: true},
	ShireReady:    {ShireReserved: true},
	ShireReserved: {ShireRunning: true, ShireReady: true}, // reservation rollback
	ShireRunning:  {ShireComplete: true, ShireError: true},
	ShireComplete: {ShireReady: true},
	ShireError:    {ShireReady: true}, // manual clear only
}

// Shire is one compute shire's state machine (spec §3/GLOSSARY: a
// cluster of 64 HARTs, the unit of kernel-launch targeting). Index is
// the shire's position in the mesh, used as the arena index instead
// of a pointer per DESIGN NOTES' "cyclic references via arena indices"
// guidance — KernelSlot and Shire never point at each other directly.
type Shire struct {
	Index int
	State ShireState
}

// Transition moves the shire to next if legal, else returns
// ProtocolError.
func (s *Shire) Transition(next ShireState) error {
	if !legalShireTransitions[s.State][next] {
		return fwerr.New(fwerr.CodeProtocolError, "mmr.Shire.Transition",
			fmt.Errorf("%s -> %s not legal for shire %d", s.State, next, s.Index))
	}
	s.State = next
	return nil
}

// KernelSlotState is a kernel-launch slot's lifecycle state (spec §3).
type KernelSlotState uint8

const (
	SlotUnused KernelSlotState = iota
	SlotReserved
	SlotInUse
	SlotAbortingByHost
	SlotAbortingTimeout
)

func (s KernelSlotState) String() string {
	switch s {
	case SlotUnused:
		return "unused"
	case SlotReserved:
		return "reserved"
	case SlotInUse:
		return "in_use"
	case SlotAbortingByHost:
		return "aborting_by_host"
	case SlotAbortingTimeout:
		return "aborting_timeout"
	default:
		return fmt.Sprintf("slot_state(%d)", uint8(s))
	}
}

// KernelStatus is the closed enum of host-visible command statuses,
// ordered here exactly as spec §4.4's completion priority ladder
// (HostAbort > Timeout > Exception > Error > Success): a higher
// KernelStatus value always wins when aggregating per-shire outcomes.
type KernelStatus uint8

const (
	StatusSuccess KernelStatus = iota
	StatusError
	StatusException
	StatusTimeout
	StatusHostAborted
)

func (s KernelStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusException:
		return "exception"
	case StatusTimeout:
		return "timeout"
	case StatusHostAborted:
		return "host_aborted"
	default:
		return fmt.Sprintf("kernel_status(%d)", uint8(s))
	}
}

// worse reports whether candidate outranks current on the priority
// ladder, for folding per-shire completion outcomes into one status.
func worse(current, candidate KernelStatus) bool { return candidate > current }

// KernelSlot is one of MAX_SIMULTANEOUS_KERNELS launch slots (spec
// §3). ShireMask uses a bit per shire index; ShiresPerMesh bounds it.
type KernelSlot struct {
	Index          int
	State          KernelSlotState
	TagID          uint16
	OwningSQWorker int
	ShireMask      uint64
	SWTimerSlot    int
	StartCycles    uint64
	WaitCycles     uint64
}

// DmaDirection distinguishes the read and write channel pools (spec
// §4.5: "4+4 channels").
type DmaDirection uint8

const (
	DmaRead DmaDirection = iota
	DmaWrite
)

// DmaChannelState is a DMA channel's lifecycle state (spec §3).
type DmaChannelState uint8

const (
	DmaIdle DmaChannelState = iota
	DmaReserved
	DmaInUse
	DmaAborting
	DmaError
)

func (s DmaChannelState) String() string {
	switch s {
	case DmaIdle:
		return "idle"
	case DmaReserved:
		return "reserved"
	case DmaInUse:
		return "in_use"
	case DmaAborting:
		return "aborting"
	case DmaError:
		return "error"
	default:
		return fmt.Sprintf("dma_state(%d)", uint8(s))
	}
}

// CMMessage is the 64-byte compute-mesh wire buffer (spec §3): a
// leading header followed by payload, used for both broadcast
// (KernelLaunch, KernelAbort) and per-HART unicast (KernelComplete,
// KernelException) traffic.
const CMMessageSize = 64

type CMMessageID uint16

const (
	CMKernelLaunch CMMessageID = iota + 1
	CMKernelAbort
	CMKernelComplete
	CMKernelException
)

type CMMessage struct {
	ID      CMMessageID
	Number  uint8 // sequence number, advances mod 256, skipping 0 on wrap
	TagID   uint16
	Payload [CMMessageSize - 6]byte
}

// nextSequence advances a CM sequence number, skipping 0 on wrap per
// spec §3 ("sequence number advances modulo 256, wrapping skips 0").
func nextSequence(n uint8) uint8 {
	n++
	if n == 0 {
		n = 1
	}
	return n
}

// BootStatus is the monotonic progression Dispatcher publishes to the
// device interface registers during init (spec §6). Negative values
// in the original encode firmware errors; here an error is reported
// through the error returned by Dispatcher.Init instead.
type BootStatus uint8

const (
	DevIntfNotReady BootStatus = iota
	DevIntfReady
	InterruptInit
	CMIfaceReady
	CMWorkersInit
	MMWorkersInit
	HostVQReady
	SPIfaceReady
	Ready
)

func (s BootStatus) String() string {
	switch s {
	case DevIntfNotReady:
		return "dev_intf_not_ready"
	case DevIntfReady:
		return "dev_intf_ready"
	case InterruptInit:
		return "interrupt_init"
	case CMIfaceReady:
		return "cm_iface_ready"
	case CMWorkersInit:
		return "cm_workers_init"
	case MMWorkersInit:
		return "mm_workers_init"
	case HostVQReady:
		return "host_vq_ready"
	case SPIfaceReady:
		return "sp_iface_ready"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("boot_status(%d)", uint8(s))
	}
}

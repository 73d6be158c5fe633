// Package fwerr is the firmware-wide error taxonomy (spec §7). Every
// exported function in ffs and mmr returns one of these codes instead
// of panicking across a worker-loop boundary — the Go equivalent of
// the original firmware's single negative-integer error-code space
// (error_codes.h), but expressed as a typed, errors.Is-comparable
// enum rather than raw ints.
package fwerr

import "fmt"

// Code is a firmware-wide error classification.
type Code uint8

const (
	_ Code = iota

	// CodeInvalidArgument: null pointer, bad id, out-of-range. Maps to
	// error_codes.h's GENERIC band [-1,-499] — every subsystem's
	// bad-argument case rolled into the one band that isn't
	// component-specific.
	CodeInvalidArgument
	// CodeNotReady: queue empty, counter full, shires not ready. Maps
	// to the WORKERS band [-900,-1499] (DMA/Kernel/Compute/Service
	// Processor/Submission Queue workers all define their own
	// not-ready codes in that range).
	CodeNotReady
	// CodeIntegrityError: CRC mismatch, magic mismatch, size
	// inconsistency. Maps to the CONFIG band [-2300,-2399] (DIR
	// Registers), the one place error_codes.h groups structural
	// validation failures.
	CodeIntegrityError
	// CodeResourceBusy: slot/shire unavailable, VQ full. Maps to the
	// same WORKERS band [-900,-1499] as CodeNotReady — error_codes.h
	// does not split "busy" from "not ready" per worker, so neither
	// does this taxonomy.
	CodeResourceBusy
	// CodeTimeout: message ack, kernel completion, SPI status. Maps to
	// the SERVICES band [-1500,-2199] (SP Interface, CM Interface, SW
	// Timer all define their own timeout codes there).
	CodeTimeout
	// CodeHardwareFailure: SPI controller error, DMA abort without
	// request. Maps to the DRIVERS band [-500,-899] (Console, DMA
	// Driver, PLIC, Timer Driver).
	CodeHardwareFailure
	// CodeProtocolError: bad tail pointer, misaligned offsets. Maps to
	// the SERVICES band's Host Interface/Host Command Handler ranges
	// [-1800,-1999] — the codes covering malformed host-side framing.
	CodeProtocolError
	// CodeFatal: no valid partition, unhandled supervisor exception.
	// Maps to the DISPATCHER band [-2200,-2299], the band
	// error_codes.h reserves for boot-sequencing failures with no
	// recovery path.
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotReady:
		return "not_ready"
	case CodeIntegrityError:
		return "integrity_error"
	case CodeResourceBusy:
		return "resource_busy"
	case CodeTimeout:
		return "timeout"
	case CodeHardwareFailure:
		return "hardware_failure"
	case CodeProtocolError:
		return "protocol_error"
	case CodeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a Code with the operation that produced it and an
// optional underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code, so
// callers can write errors.Is(err, fwerr.New(fwerr.CodeNotReady, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs an *Error.
func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Sentinel instances for errors.Is comparisons against a bare code,
// e.g. errors.Is(err, fwerr.NotReady).
var (
	InvalidArgument = &Error{Code: CodeInvalidArgument}
	NotReady        = &Error{Code: CodeNotReady}
	IntegrityError  = &Error{Code: CodeIntegrityError}
	ResourceBusy    = &Error{Code: CodeResourceBusy}
	Timeout         = &Error{Code: CodeTimeout}
	HardwareFailure = &Error{Code: CodeHardwareFailure}
	ProtocolError   = &Error{Code: CodeProtocolError}
	Fatal           = &Error{Code: CodeFatal}
)

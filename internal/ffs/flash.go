// Package ffs implements the Flash Filesystem & Boot Management
// subsystem: a dual-partition, fail-safe boot filesystem over
// SPI-NOR flash, owned exclusively by the Service Processor runtime.
package ffs

import (
	"sync"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// SPI-NOR command opcodes (spec §6). The SPI controller itself is an
// external collaborator (spec §1); FlashDevice models the behavior
// these opcodes produce, not the bus transaction.
const (
	OpWriteEnable   = 0x06
	OpReadStatus    = 0x05
	OpReadID        = 0x9F
	OpReadSFDP      = 0x5A
	OpRead          = 0x03
	OpFastRead      = 0x0B
	OpPageProgram   = 0x02
	OpBlockErase64K = 0xD8
	OpSectorErase4K = 0x20
)

// statusPollLimit is the RDSR poll cap for a write/erase on a real
// SPI-NOR chip. MemFlash completes every program and erase
// synchronously and never polls, so nothing in this package reads it.
const statusPollLimit = 2000

// FlashDevice is the byte-addressable erase-block medium FFS is built
// on. It is the leaf dependency of the whole subsystem (spec §2).
type FlashDevice interface {
	// Size returns the total flash size in bytes.
	Size() int
	// PageSize returns the page-program granularity in bytes.
	PageSize() int
	// SectorSize returns the sector-erase granularity in bytes (4KB).
	SectorSize() int
	// BlockSize returns the block-erase granularity in bytes (64KB).
	BlockSize() int

	// ReadAt reads len(p) bytes starting at off. The caller is
	// responsible for chunking reads to the SPI normal-read chunk
	// cap; ReadAt itself does not impose one.
	ReadAt(p []byte, off int64) (int, error)

	// ProgramPage writes data (at most PageSize bytes) at off. off
	// and off+len(data) must not cross a page boundary in a way the
	// underlying chip cannot do atomically; callers chunk accordingly.
	ProgramPage(off int64, data []byte) error

	// EraseSector erases the 4KB sector starting at off, which must
	// be sector-aligned.
	EraseSector(off int64) error

	// EraseBlock erases the 64KB block starting at off, which must be
	// block-aligned.
	EraseBlock(off int64) error
}

// MemFlash is an in-memory FlashDevice used by the simulator and
// tests. It enforces the same alignment and chunking rules spec §6
// documents for the real SPI-NOR part, so bugs in callers show up
// here instead of only on hardware.
type MemFlash struct {
	mu         sync.Mutex
	data       []byte
	pageSize   int
	sectorSize int
	blockSize  int
}

// NewMemFlash allocates a simulated flash device of the given size,
// initialized to all-ones (0xFF) — the erased state of real NOR flash.
func NewMemFlash(size, pageSize, sectorSize, blockSize int) *MemFlash {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemFlash{data: data, pageSize: pageSize, sectorSize: sectorSize, blockSize: blockSize}
}

func (f *MemFlash) Size() int       { return len(f.data) }
func (f *MemFlash) PageSize() int   { return f.pageSize }
func (f *MemFlash) SectorSize() int { return f.sectorSize }
func (f *MemFlash) BlockSize() int  { return f.blockSize }

func (f *MemFlash) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return 0, fwerr.New(fwerr.CodeInvalidArgument, "MemFlash.ReadAt", nil)
	}
	return copy(p, f.data[off:off+int64(len(p))]), nil
}

// ProgramPage simulates SPI-NOR page programming: bits may only be
// cleared (erased flash is all-ones), never set, so an overlapping
// write that tries to set a cleared bit back to 1 is silently masked
// out by an AND, exactly as real NOR flash would do.
func (f *MemFlash) ProgramPage(off int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > f.pageSize {
		return fwerr.New(fwerr.CodeInvalidArgument, "MemFlash.ProgramPage", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off+int64(len(data)) > int64(len(f.data)) {
		return fwerr.New(fwerr.CodeInvalidArgument, "MemFlash.ProgramPage", nil)
	}
	for i, b := range data {
		f.data[off+int64(i)] &= b
	}
	return nil
}

func (f *MemFlash) EraseSector(off int64) error {
	return f.erase(off, int64(f.sectorSize), "MemFlash.EraseSector")
}

func (f *MemFlash) EraseBlock(off int64) error {
	return f.erase(off, int64(f.blockSize), "MemFlash.EraseBlock")
}

func (f *MemFlash) erase(off, size int64, op string) error {
	if off%size != 0 {
		return fwerr.New(fwerr.CodeInvalidArgument, op, nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off+size > int64(len(f.data)) {
		return fwerr.New(fwerr.CodeInvalidArgument, op, nil)
	}
	for i := off; i < off+size; i++ {
		f.data[i] = 0xFF
	}
	return nil
}

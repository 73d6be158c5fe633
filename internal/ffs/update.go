package ffs

import (
	"github.com/openenterprise/etaccel/internal/fwerr"
)

// UpdateChunkSize bounds each SPI page-program issued while writing a
// new partition image, per spec §4.12 ("program in ≤256-byte chunks").
const UpdateChunkSize = 256

// PartitionUpdater writes a full partition image into the passive
// partition's flash region and returns the finished PartitionState
// after re-scanning it (spec §4.12). Callers are responsible for
// calling PriorityDesignator.SwapPrimaryBootPartition afterward to
// make the new image bootable; Apply never flips priority
// itself, so a failed or half-written update leaves the previously
// active partition untouched.
type PartitionUpdater struct {
	flash      FlashDevice
	pageSize   int
	blockSize  int
	partOffset int64
	partSize   int64
	scanner    *PartitionScanner
}

// NewPartitionUpdater constructs an updater for the partition occupying
// [partOffset, partOffset+partSize) of flash.
func NewPartitionUpdater(flash FlashDevice, pageSize, blockSize int, partOffset, partSize int64) *PartitionUpdater {
	return &PartitionUpdater{
		flash:      flash,
		pageSize:   pageSize,
		blockSize:  blockSize,
		partOffset: partOffset,
		partSize:   partSize,
		scanner:    NewPartitionScanner(pageSize),
	}
}

// Apply writes image into the partition. image's length must exactly
// equal the partition size (spec §4.12: "the incoming image size must
// equal the partition size exactly; partial or oversized images are
// rejected before any flash is touched"). The partition is erased one
// 64KB block at a time, then programmed in UpdateChunkSize chunks, and
// finally re-scanned; a scan failure after writing is reported as an
// IntegrityError so the caller never swaps priority onto a bad image.
func (u *PartitionUpdater) Apply(image []byte) (PartitionState, error) {
	if int64(len(image)) != u.partSize {
		return PartitionState{}, fwerr.New(fwerr.CodeInvalidArgument, "ffs.PartitionUpdater.Apply", nil)
	}

	for off := int64(0); off < u.partSize; off += int64(u.blockSize) {
		if err := u.flash.EraseBlock(u.partOffset + off); err != nil {
			return PartitionState{}, fwerr.New(fwerr.CodeHardwareFailure, "ffs.PartitionUpdater.Apply", err)
		}
	}

	for off := 0; off < len(image); off += UpdateChunkSize {
		end := off + UpdateChunkSize
		if end > len(image) {
			end = len(image)
		}
		if err := u.flash.ProgramPage(u.partOffset+int64(off), image[off:end]); err != nil {
			return PartitionState{}, fwerr.New(fwerr.CodeHardwareFailure, "ffs.PartitionUpdater.Apply", err)
		}
	}

	raw := make([]byte, u.partSize)
	if _, err := u.flash.ReadAt(raw, u.partOffset); err != nil {
		return PartitionState{}, fwerr.New(fwerr.CodeHardwareFailure, "ffs.PartitionUpdater.Apply", err)
	}

	state := u.scanner.Scan(raw)
	if !state.Valid {
		return state, fwerr.New(fwerr.CodeIntegrityError, "ffs.PartitionUpdater.Apply", nil)
	}
	return state, nil
}

package ffs

import (
	"github.com/openenterprise/etaccel/internal/fwerr"
)

// readChunkSize bounds each SPI normal-read issued by FileReader, per
// spec §4.9 ("Issue SPI normal-read in chunks of ≤256 bytes").
const readChunkSize = 256

// FileReader resolves region IDs to absolute flash addresses via a
// RegionIndex and exposes bounded, chunked reads of the file stored
// in each region (spec §4.9).
type FileReader struct {
	flash      FlashDevice
	pageSize   int
	partOffset int64 // byte offset of the active partition's data start
	index      RegionIndex

	cache map[RegionID]FileInfo
}

// NewFileReader constructs a reader over flash for the partition
// starting at partOffset, using index to resolve region IDs.
func NewFileReader(flash FlashDevice, pageSize int, partOffset int64, index RegionIndex) *FileReader {
	return &FileReader{
		flash:      flash,
		pageSize:   pageSize,
		partOffset: partOffset,
		index:      index,
		cache:      make(map[RegionID]FileInfo),
	}
}

func (r *FileReader) regionAddr(entry RegionEntry) int64 {
	return r.partOffset + int64(entry.OffsetPages)*int64(r.pageSize)
}

// header returns the (possibly cached) FileInfo for region, reading
// and validating it from flash on first access per spec §4.9 step 2.
func (r *FileReader) header(id RegionID, entry RegionEntry) (FileInfo, error) {
	if fi, ok := r.cache[id]; ok {
		return fi, nil
	}

	addr := r.regionAddr(entry)
	buf := make([]byte, FileInfoSize)
	if _, err := r.flash.ReadAt(buf, addr); err != nil {
		return FileInfo{}, fwerr.New(fwerr.CodeHardwareFailure, "ffs.FileReader.header", err)
	}

	fi := unmarshalFileInfo(buf)
	regionSizeBytes := uint64(entry.ReservedSizePages) * uint64(r.pageSize)

	if fi.Tag != FileTag || fi.HeaderSize != FileInfoSize || !fileInfoCRCValid(buf) {
		return FileInfo{}, fwerr.New(fwerr.CodeIntegrityError, "ffs.FileReader.header", nil)
	}
	if uint64(fi.PayloadSize) > regionSizeBytes-uint64(FileInfoSize) {
		return FileInfo{}, fwerr.New(fwerr.CodeIntegrityError, "ffs.FileReader.header", nil)
	}

	r.cache[id] = fi
	return fi, nil
}

// ReadFile reads len(out) bytes of region id's file payload starting
// at offset, per spec §4.9. On an SPI failure the out buffer is
// zeroed and a HardwareFailure error is returned.
func (r *FileReader) ReadFile(id RegionID, offset uint32, out []byte) error {
	entry, ok := r.index[id]
	if !ok {
		return fwerr.New(fwerr.CodeInvalidArgument, "ffs.FileReader.ReadFile", nil)
	}

	fi, err := r.header(id, entry)
	if err != nil {
		return err
	}

	end := uint64(offset) + uint64(len(out))
	if end < uint64(offset) || end > uint64(fi.PayloadSize) {
		return fwerr.New(fwerr.CodeInvalidArgument, "ffs.FileReader.ReadFile", nil)
	}

	base := r.regionAddr(entry) + int64(FileInfoSize) + int64(offset)

	for pos := 0; pos < len(out); {
		n := len(out) - pos
		if n > readChunkSize {
			n = readChunkSize
		}
		if _, err := r.flash.ReadAt(out[pos:pos+n], base+int64(pos)); err != nil {
			for i := range out {
				out[i] = 0
			}
			return fwerr.New(fwerr.CodeHardwareFailure, "ffs.FileReader.ReadFile", err)
		}
		pos += n
	}

	return nil
}

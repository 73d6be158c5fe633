package ffs

import (
	"encoding/binary"

	"github.com/openenterprise/etaccel/internal/crcx"
)

// PartitionHeaderSize is the encoded size of PartitionHeader.
const PartitionHeaderSize = 20

// PartitionHeader is the fixed prologue of a partition (spec §3):
// tag, header size, region-info size, region count, partition size in
// pages, and a CRC of the preceding fields.
type PartitionHeader struct {
	Tag               uint32
	HeaderSize        uint16
	RegionInfoSize    uint16
	RegionCount       uint16
	_                 uint16 // padding to keep fields 4-byte aligned
	PartitionSizePages uint32
	CRC               uint32
}

// MarshalBinary encodes the header in little-endian wire format. The
// CRC covers every preceding field, per spec §3.
func (h PartitionHeader) MarshalBinary() []byte {
	b := make([]byte, PartitionHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Tag)
	binary.LittleEndian.PutUint16(b[4:6], h.HeaderSize)
	binary.LittleEndian.PutUint16(b[6:8], h.RegionInfoSize)
	binary.LittleEndian.PutUint16(b[8:10], h.RegionCount)
	binary.LittleEndian.PutUint32(b[12:16], h.PartitionSizePages)
	h.CRC = crcx.Sum32(b[:16])
	binary.LittleEndian.PutUint32(b[16:20], h.CRC)
	return b
}

func unmarshalPartitionHeader(b []byte) PartitionHeader {
	return PartitionHeader{
		Tag:                binary.LittleEndian.Uint32(b[0:4]),
		HeaderSize:         binary.LittleEndian.Uint16(b[4:6]),
		RegionInfoSize:     binary.LittleEndian.Uint16(b[6:8]),
		RegionCount:        binary.LittleEndian.Uint16(b[8:10]),
		PartitionSizePages: binary.LittleEndian.Uint32(b[12:16]),
		CRC:                binary.LittleEndian.Uint32(b[16:20]),
	}
}

// headerCRCValid reports whether the encoded header's stored CRC
// matches its preceding fields.
func headerCRCValid(b []byte) bool {
	if len(b) < PartitionHeaderSize {
		return false
	}
	want := binary.LittleEndian.Uint32(b[16:20])
	return crcx.Verify(b[:16], want)
}

// RegionEntrySize is the encoded size of RegionEntry.
const RegionEntrySize = 16

// RegionEntry is one row of a partition's region table (spec §3):
// `{region_id, offset_in_pages, reserved_size_in_pages, CRC}`.
type RegionEntry struct {
	RegionID        RegionID
	_               uint16
	OffsetPages     uint32
	ReservedSizePages uint32
	CRC             uint32
}

// MarshalBinary encodes the entry, computing and storing its CRC,
// which spec §3 defines as covering every field except the CRC word.
func (e RegionEntry) MarshalBinary() []byte {
	b := make([]byte, RegionEntrySize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(e.RegionID))
	binary.LittleEndian.PutUint32(b[4:8], e.OffsetPages)
	binary.LittleEndian.PutUint32(b[8:12], e.ReservedSizePages)
	e.CRC = crcx.Sum32(b[:12])
	binary.LittleEndian.PutUint32(b[12:16], e.CRC)
	return b
}

func unmarshalRegionEntry(b []byte) RegionEntry {
	return RegionEntry{
		RegionID:          RegionID(binary.LittleEndian.Uint16(b[0:2])),
		OffsetPages:       binary.LittleEndian.Uint32(b[4:8]),
		ReservedSizePages: binary.LittleEndian.Uint32(b[8:12]),
		CRC:               binary.LittleEndian.Uint32(b[12:16]),
	}
}

func regionEntryCRCValid(b []byte) bool {
	if len(b) < RegionEntrySize {
		return false
	}
	want := binary.LittleEndian.Uint32(b[12:16])
	return crcx.Verify(b[:12], want)
}

// FileInfoSize is the encoded size of FileInfo.
const FileInfoSize = 16

// FileInfo is the file header within a region (spec §3):
// `{tag, header_size, payload_size, CRC}` followed by payload bytes.
type FileInfo struct {
	Tag         uint32
	HeaderSize  uint16
	_           uint16
	PayloadSize uint32
	CRC         uint32
}

// MarshalBinary encodes the file header, computing its CRC over every
// preceding field.
func (fi FileInfo) MarshalBinary() []byte {
	b := make([]byte, FileInfoSize)
	binary.LittleEndian.PutUint32(b[0:4], fi.Tag)
	binary.LittleEndian.PutUint16(b[4:6], fi.HeaderSize)
	binary.LittleEndian.PutUint32(b[8:12], fi.PayloadSize)
	fi.CRC = crcx.Sum32(b[0:12])
	binary.LittleEndian.PutUint32(b[12:16], fi.CRC)
	return b
}

func unmarshalFileInfo(b []byte) FileInfo {
	return FileInfo{
		Tag:         binary.LittleEndian.Uint32(b[0:4]),
		HeaderSize:  binary.LittleEndian.Uint16(b[4:6]),
		PayloadSize: binary.LittleEndian.Uint32(b[8:12]),
		CRC:         binary.LittleEndian.Uint32(b[12:16]),
	}
}

func fileInfoCRCValid(b []byte) bool {
	if len(b) < FileInfoSize {
		return false
	}
	want := binary.LittleEndian.Uint32(b[12:16])
	return crcx.Verify(b[:12], want)
}

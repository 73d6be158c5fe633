// Package fwlog provides the firmware's structured logging and
// append-only trace ring, shared by both the Service Processor and
// Master Minion runtimes.
//
// The trace buffer is a single contiguous region with a header and an
// append-only event log (spec §3's "Trace buffer" data model):
// writers reserve bytes under a lock, then copy their record into the
// reserved window without holding the lock.
package fwlog

import (
	"encoding/binary"
	"sync"
)

// traceMagic identifies a valid trace buffer header.
const traceMagic = 0x45545254 // "ETRT"

// layoutVersion is bumped whenever the on-disk record layout changes.
const layoutVersion = 1

// headerSize is the encoded size of Header.
const headerSize = 24

// Header is the fixed-size prologue of a trace buffer.
type Header struct {
	Magic         uint32
	LayoutVersion uint32
	SubBufferSize uint32
	DataSize      uint32 // high-water mark of bytes appended
	reserved      uint64
}

func (h Header) marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.LayoutVersion)
	binary.LittleEndian.PutUint32(b[8:12], h.SubBufferSize)
	binary.LittleEndian.PutUint32(b[12:16], h.DataSize)
	binary.LittleEndian.PutUint64(b[16:24], h.reserved)
}

func unmarshalHeader(b []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		LayoutVersion: binary.LittleEndian.Uint32(b[4:8]),
		SubBufferSize: binary.LittleEndian.Uint32(b[8:12]),
		DataSize:      binary.LittleEndian.Uint32(b[12:16]),
	}
}

// recordPrefix precedes every appended event: a length-prefixed blob
// so a reader can walk the log without external metadata, mirroring
// the virtual-queue framing convention used across this firmware.
const recordPrefixSize = 4

// Ring is an append-only trace buffer backed by a fixed []byte. All
// Append calls are safe for concurrent use; the reservation of an
// offset is serialized by a single spinlock-equivalent mutex, but the
// copy of the payload into the reserved window happens outside the
// lock, matching spec §5 ("one spinlock serializes buffer-offset
// reservation only").
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	used uint32 // bytes used after the header, monotonic high-water mark
}

// NewRing creates a trace ring over a caller-provided buffer of at
// least headerSize bytes. The header is (re)initialized to empty.
func NewRing(buf []byte) *Ring {
	if len(buf) < headerSize {
		panic("fwlog: trace buffer smaller than header")
	}
	r := &Ring{buf: buf}
	h := Header{
		Magic:         traceMagic,
		LayoutVersion: layoutVersion,
		SubBufferSize: uint32(len(buf) - headerSize),
		DataSize:      0,
	}
	h.marshal(r.buf[:headerSize])
	return r
}

// OpenRing validates an existing buffer's header and resumes
// appending after the current high-water mark — used when the SP and
// MM share a ring that survived a soft reset.
func OpenRing(buf []byte) (*Ring, bool) {
	if len(buf) < headerSize {
		return nil, false
	}
	h := unmarshalHeader(buf[:headerSize])
	if h.Magic != traceMagic || h.LayoutVersion != layoutVersion {
		return nil, false
	}
	if h.DataSize > uint32(len(buf)-headerSize) {
		return nil, false
	}
	return &Ring{buf: buf, used: h.DataSize}, true
}

// Append reserves space for data, prefixed by its length, and copies
// it in. It reports false if the ring has no room left (the ring does
// not wrap — it is a high-water-mark log, matching spec §3's
// "data_size (high-water mark)" wording).
func (r *Ring) Append(data []byte) bool {
	need := uint32(recordPrefixSize + len(data))

	r.mu.Lock()
	sub := uint32(len(r.buf) - headerSize)
	if r.used+need > sub {
		r.mu.Unlock()
		return false
	}
	offset := r.used
	r.used += need
	binary.LittleEndian.PutUint32(r.buf[12:16], r.used)
	r.mu.Unlock()

	dst := r.buf[headerSize+offset:]
	binary.LittleEndian.PutUint32(dst[0:recordPrefixSize], uint32(len(data)))
	copy(dst[recordPrefixSize:], data)
	return true
}

// Records returns every appended record in order, for offline
// analysis or test assertions.
func (r *Ring) Records() [][]byte {
	r.mu.Lock()
	used := r.used
	r.mu.Unlock()

	var out [][]byte
	pos := uint32(0)
	for pos+recordPrefixSize <= used {
		n := binary.LittleEndian.Uint32(r.buf[headerSize+pos : headerSize+pos+recordPrefixSize])
		pos += recordPrefixSize
		if pos+n > used {
			break
		}
		rec := make([]byte, n)
		copy(rec, r.buf[headerSize+pos:headerSize+pos+n])
		out = append(out, rec)
		pos += n
	}
	return out
}

// Used returns the current high-water mark in bytes.
func (r *Ring) Used() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Reset clears the high-water mark, for tests and for the Fatal-error
// "evict the trace ring" path once its contents have been drained
// elsewhere.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used = 0
	binary.LittleEndian.PutUint32(r.buf[12:16], 0)
}

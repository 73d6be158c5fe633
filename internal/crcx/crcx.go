// Package crcx computes the CRC32 variant used for every on-flash and
// on-wire checksum in this firmware: IEEE polynomial 0xEDB88320,
// LSB-first, init 0, with a final XOR of 0xFF000000 applied on top of
// the stdlib checksum.
package crcx

import "hash/crc32"

var table = crc32.MakeTable(crc32.IEEE)

// finalXOR is the project-specific finalization documented in §6 of
// the spec: the stock IEEE CRC32 result is XORed with 0xFF000000
// before being stored or compared.
const finalXOR = 0xFF000000

// Sum32 returns the CRC32 of data using this firmware's convention.
func Sum32(data []byte) uint32 {
	return crc32.Checksum(data, table) ^ finalXOR
}

// Verify reports whether want matches the CRC32 of data.
func Verify(data []byte, want uint32) bool {
	return Sum32(data) == want
}

package ffs

// buildPartitionRaw assembles a complete partition image: header,
// region table, and a FileInfo + payload at each region's offset. It
// is shared by scanner_test.go, filereader_test.go, and runtime_test.go
// to avoid re-deriving the same byte layout in every test.
func buildPartitionRaw(pageSize int, partitionSizePages uint32, regions map[RegionID]uint32, payloads map[RegionID][]byte) []byte {
	raw := make([]byte, int(partitionSizePages)*pageSize)
	for i := range raw {
		raw[i] = 0xFF
	}

	ids := make([]RegionID, 0, len(regions))
	for id := range regions {
		ids = append(ids, id)
	}

	entries := make([]RegionEntry, 0, len(ids))
	tablePos := PartitionHeaderSize
	for _, id := range ids {
		offsetPages := regions[id]
		payload := payloads[id]

		fi := FileInfo{Tag: FileTag, HeaderSize: FileInfoSize, PayloadSize: uint32(len(payload))}
		fiBytes := fi.MarshalBinary()
		addr := int(offsetPages) * pageSize
		copy(raw[addr:], fiBytes)
		copy(raw[addr+FileInfoSize:], payload)

		reservedPages := uint32(1)
		if len(payload)+FileInfoSize > pageSize {
			reservedPages = uint32((len(payload)+FileInfoSize+pageSize-1) / pageSize)
		}

		entries = append(entries, RegionEntry{
			RegionID:          id,
			OffsetPages:       offsetPages,
			ReservedSizePages: reservedPages,
		})
	}

	for _, e := range entries {
		b := e.MarshalBinary()
		copy(raw[tablePos:], b)
		tablePos += RegionEntrySize
	}

	hdr := PartitionHeader{
		Tag:                PartitionTag,
		HeaderSize:         PartitionHeaderSize,
		RegionInfoSize:     RegionEntrySize,
		RegionCount:        uint16(len(entries)),
		PartitionSizePages: partitionSizePages,
	}
	copy(raw[0:], hdr.MarshalBinary())

	return raw
}

package mmr

import (
	"encoding/binary"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// CommandHeaderSize is the encoded size of CommandHeader.
const CommandHeaderSize = 12

// BarrierFlag marks a command that must drain its queue's in-flight
// count to zero before dispatch (spec §3/§4.3).
const BarrierFlag uint16 = 1 << 0

// CommandHeader is the host→device wire header (spec §3), little-
// endian, followed by command-specific payload. Size covers header +
// payload.
type CommandHeader struct {
	TagID         uint16
	MsgID         uint16
	Size          uint16
	Flags         uint16
	IssuingHartID uint32
}

// MarshalBinary encodes the header.
func (h CommandHeader) MarshalBinary() []byte {
	b := make([]byte, CommandHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], h.TagID)
	binary.LittleEndian.PutUint16(b[2:4], h.MsgID)
	binary.LittleEndian.PutUint16(b[4:6], h.Size)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint32(b[8:12], h.IssuingHartID)
	return b
}

func unmarshalCommandHeader(b []byte) CommandHeader {
	return CommandHeader{
		TagID:         binary.LittleEndian.Uint16(b[0:2]),
		MsgID:         binary.LittleEndian.Uint16(b[2:4]),
		Size:          binary.LittleEndian.Uint16(b[4:6]),
		Flags:         binary.LittleEndian.Uint16(b[6:8]),
		IssuingHartID: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// EncodeCommand serializes header+payload into one framed command
// buffer suitable for VirtualQueue.Push, with header.Size set to
// cover both.
func EncodeCommand(header CommandHeader, payload []byte) []byte {
	header.Size = uint16(CommandHeaderSize + len(payload))
	buf := make([]byte, header.Size)
	copy(buf, header.MarshalBinary())
	copy(buf[CommandHeaderSize:], payload)
	return buf
}

// DecodeCommand is the standard SubmissionWorker decode function: it
// parses the wire header and returns a HostCommand.
func DecodeCommand(raw []byte) (HostCommand, error) {
	if len(raw) < CommandHeaderSize {
		return HostCommand{}, fwerr.New(fwerr.CodeProtocolError, "mmr.DecodeCommand", nil)
	}
	h := unmarshalCommandHeader(raw[:CommandHeaderSize])
	if int(h.Size) != len(raw) {
		return HostCommand{}, fwerr.New(fwerr.CodeProtocolError, "mmr.DecodeCommand", nil)
	}
	return HostCommand{
		TagID:       h.TagID,
		MsgID:       h.MsgID,
		Flags:       h.Flags,
		Barrier:     h.Flags&BarrierFlag != 0,
		IssuingHART: h.IssuingHartID,
		Payload:     raw[CommandHeaderSize:],
	}, nil
}

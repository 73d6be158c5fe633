package ffs

import (
	"bytes"
	"encoding/binary"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// VminPoint is one entry of a voltage-minimum lookup table: a
// frequency/voltage pair for a single power domain (spec §3/GLOSSARY).
type VminPoint struct {
	FrequencyMHz uint32
	VoltageMV    uint32
}

// PersistentConfig holds the asset configuration that survives
// across firmware updates (spec §3).
type PersistentConfig struct {
	Manufacturer string
	PartNumber   string
	Serial       string
	ModuleRev    string
	FormFactor   string
	VminLUT      [][]VminPoint // one slice per power domain
}

// NonPersistentConfig holds configuration regenerated on every update
// (spec §3).
type NonPersistentConfig struct {
	ReleaseRev      string
	CacheSizeHintKB uint32
}

// ConfigStore manages the single flash sector holding a file header
// plus {persistent_config, non_persistent_config} (spec §3).
type ConfigStore struct {
	flash FlashDevice
	addr  int64 // sector-aligned flash address
}

// NewConfigStore constructs a store over the sector at addr.
func NewConfigStore(flash FlashDevice, addr int64) *ConfigStore {
	return &ConfigStore{flash: flash, addr: addr}
}

// encode serializes the persistent and non-persistent halves with a
// length-prefixed, little-endian layout suitable for sector storage.
func encodeConfig(p PersistentConfig, np NonPersistentConfig) []byte {
	var buf bytes.Buffer

	writeString := func(s string) {
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(s)))
		buf.Write(lb[:])
		buf.WriteString(s)
	}

	writeString(p.Manufacturer)
	writeString(p.PartNumber)
	writeString(p.Serial)
	writeString(p.ModuleRev)
	writeString(p.FormFactor)

	var domCount [2]byte
	binary.LittleEndian.PutUint16(domCount[:], uint16(len(p.VminLUT)))
	buf.Write(domCount[:])
	for _, domain := range p.VminLUT {
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(domain)))
		buf.Write(n[:])
		for _, pt := range domain {
			var rec [8]byte
			binary.LittleEndian.PutUint32(rec[0:4], pt.FrequencyMHz)
			binary.LittleEndian.PutUint32(rec[4:8], pt.VoltageMV)
			buf.Write(rec[:])
		}
	}

	writeString(np.ReleaseRev)
	var cache [4]byte
	binary.LittleEndian.PutUint32(cache[:], np.CacheSizeHintKB)
	buf.Write(cache[:])

	return buf.Bytes()
}

func decodeConfig(data []byte) (PersistentConfig, NonPersistentConfig, error) {
	r := bytes.NewReader(data)

	readString := func() (string, error) {
		var lb [2]byte
		if _, err := r.Read(lb[:]); err != nil {
			return "", err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		s := make([]byte, n)
		if _, err := r.Read(s); err != nil {
			return "", err
		}
		return string(s), nil
	}

	var p PersistentConfig
	var np NonPersistentConfig
	var err error

	if p.Manufacturer, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	if p.PartNumber, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	if p.Serial, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	if p.ModuleRev, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	if p.FormFactor, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}

	var domCount [2]byte
	if _, err := r.Read(domCount[:]); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	nDomains := binary.LittleEndian.Uint16(domCount[:])
	p.VminLUT = make([][]VminPoint, nDomains)
	for d := range p.VminLUT {
		var n [2]byte
		if _, err := r.Read(n[:]); err != nil {
			return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
		}
		count := binary.LittleEndian.Uint16(n[:])
		domain := make([]VminPoint, count)
		for i := range domain {
			var rec [8]byte
			if _, err := r.Read(rec[:]); err != nil {
				return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
			}
			domain[i] = VminPoint{
				FrequencyMHz: binary.LittleEndian.Uint32(rec[0:4]),
				VoltageMV:    binary.LittleEndian.Uint32(rec[4:8]),
			}
		}
		p.VminLUT[d] = domain
	}

	if np.ReleaseRev, err = readString(); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	var cache [4]byte
	if _, err := r.Read(cache[:]); err != nil {
		return p, np, fwerr.New(fwerr.CodeIntegrityError, "ffs.decodeConfig", err)
	}
	np.CacheSizeHintKB = binary.LittleEndian.Uint32(cache[:])

	return p, np, nil
}

// Read loads and decodes the config sector.
func (s *ConfigStore) Read() (PersistentConfig, NonPersistentConfig, error) {
	sector := make([]byte, s.flash.SectorSize())
	if _, err := s.flash.ReadAt(sector, s.addr); err != nil {
		return PersistentConfig{}, NonPersistentConfig{}, fwerr.New(fwerr.CodeHardwareFailure, "ffs.ConfigStore.Read", err)
	}

	fi := unmarshalFileInfo(sector[:FileInfoSize])
	if fi.Tag != FileTag || !fileInfoCRCValid(sector[:FileInfoSize]) {
		return PersistentConfig{}, NonPersistentConfig{}, fwerr.New(fwerr.CodeIntegrityError, "ffs.ConfigStore.Read", nil)
	}

	payload := sector[FileInfoSize : FileInfoSize+fi.PayloadSize]
	p, np, err := decodeConfig(payload)
	return p, np, err
}

// Write performs the sector read-modify-write-verify sequence spec
// §4.12 requires for ConfigStore and VMIN-LUT updates: read the full
// sector, erase it, program the new contents, read it back, and
// byte-compare against what was written. A mismatch is reported as an
// IntegrityError (the spec calls it "a verification error").
func (s *ConfigStore) Write(p PersistentConfig, np NonPersistentConfig) error {
	payload := encodeConfig(p, np)

	fi := FileInfo{Tag: FileTag, HeaderSize: FileInfoSize, PayloadSize: uint32(len(payload))}
	header := fi.MarshalBinary()

	sector := make([]byte, s.flash.SectorSize())
	copy(sector, header)
	if FileInfoSize+len(payload) > len(sector) {
		return fwerr.New(fwerr.CodeInvalidArgument, "ffs.ConfigStore.Write", nil)
	}
	copy(sector[FileInfoSize:], payload)

	if err := s.flash.EraseSector(s.addr); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.ConfigStore.Write", err)
	}

	pageSize := s.flash.PageSize()
	for off := 0; off < len(sector); off += pageSize {
		end := off + pageSize
		if end > len(sector) {
			end = len(sector)
		}
		if err := s.flash.ProgramPage(s.addr+int64(off), sector[off:end]); err != nil {
			return fwerr.New(fwerr.CodeHardwareFailure, "ffs.ConfigStore.Write", err)
		}
	}

	readback := make([]byte, len(sector))
	if _, err := s.flash.ReadAt(readback, s.addr); err != nil {
		return fwerr.New(fwerr.CodeHardwareFailure, "ffs.ConfigStore.Write", err)
	}
	if !bytes.Equal(readback, sector) {
		return fwerr.New(fwerr.CodeIntegrityError, "ffs.ConfigStore.Write", nil)
	}

	return nil
}

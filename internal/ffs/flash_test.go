package ffs

import (
	"errors"
	"testing"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

func TestMemFlashNewIsAllOnes(t *testing.T) {
	f := NewMemFlash(4096, 256, 4096, 64*1024)
	buf := make([]byte, f.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range buf {
		if b != 0xFF {
			t.Fatalf("byte %d: expected erased 0xFF, got %#x", i, b)
		}
	}
}

// ProgramPage may only clear bits, matching real NOR flash: programming
// 0x0F over an already-0xF0 byte must never set the low nibble.
func TestMemFlashProgramPageOnlyClearsBits(t *testing.T) {
	f := NewMemFlash(4096, 256, 4096, 64*1024)
	if err := f.ProgramPage(0, []byte{0xF0}); err != nil {
		t.Fatalf("first ProgramPage: %v", err)
	}
	if err := f.ProgramPage(0, []byte{0x0F}); err != nil {
		t.Fatalf("second ProgramPage: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 0x00 {
		t.Fatalf("expected 0xF0 & 0x0F == 0x00, got %#x", buf[0])
	}
}

func TestMemFlashProgramPageRejectsOversizedWrite(t *testing.T) {
	f := NewMemFlash(4096, 256, 4096, 64*1024)
	err := f.ProgramPage(0, make([]byte, 257))
	var fe *fwerr.Error
	if !errors.As(err, &fe) || fe.Code != fwerr.CodeInvalidArgument {
		t.Fatalf("expected CodeInvalidArgument for an over-page write, got %v", err)
	}
}

func TestMemFlashEraseSectorRequiresAlignment(t *testing.T) {
	f := NewMemFlash(4096*4, 256, 4096, 64*1024)
	if err := f.EraseSector(4096); err != nil {
		t.Fatalf("aligned EraseSector: %v", err)
	}
	err := f.EraseSector(100)
	var fe *fwerr.Error
	if !errors.As(err, &fe) || fe.Code != fwerr.CodeInvalidArgument {
		t.Fatalf("expected CodeInvalidArgument for an unaligned sector erase, got %v", err)
	}
}

func TestMemFlashEraseBlockRestoresErasedState(t *testing.T) {
	f := NewMemFlash(64*1024*2, 256, 4096, 64*1024)
	if err := f.ProgramPage(0, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}
	if err := f.EraseBlock(0); err != nil {
		t.Fatalf("EraseBlock: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 0xFF || buf[1] != 0xFF {
		t.Fatalf("expected block erase to restore all-ones, got %#x", buf)
	}
}

func TestMemFlashReadAtRejectsOutOfBounds(t *testing.T) {
	f := NewMemFlash(4096, 256, 4096, 64*1024)
	_, err := f.ReadAt(make([]byte, 8), int64(f.Size()-4))
	var fe *fwerr.Error
	if !errors.As(err, &fe) || fe.Code != fwerr.CodeInvalidArgument {
		t.Fatalf("expected CodeInvalidArgument for an out-of-bounds read, got %v", err)
	}
}

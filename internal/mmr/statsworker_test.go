package mmr

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/openenterprise/etaccel/internal/fwlog"
)

type fixedSource struct{ sample map[string]uint64 }

func (f fixedSource) Sample() map[string]uint64 { return f.sample }

func TestStatsWorkerAppendsOnEachTick(t *testing.T) {
	ring := fwlog.NewRing(make([]byte, 4096))
	source := fixedSource{sample: map[string]uint64{"dma_read_busy": 2, "kernel_slots_busy": 5}}
	worker := NewStatsWorker(source, ring, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()
	if err := worker.Run(ctx); err == nil {
		t.Fatal("expected Run to return once ctx expired")
	}

	records := ring.Records()
	if len(records) == 0 {
		t.Fatal("expected at least one sample record to have been appended")
	}
	for _, rec := range records {
		if rec[0] != statSampleRecordVersion {
			t.Fatalf("unexpected record version %d", rec[0])
		}
		count := binary.LittleEndian.Uint16(rec[1:3])
		if count != 2 {
			t.Fatalf("expected 2 key/value pairs encoded, got %d", count)
		}
	}
}

func TestEncodeStatSampleIsDeterministic(t *testing.T) {
	sample := map[string]uint64{"c": 3, "a": 1, "b": 2}
	first := encodeStatSample(sample)
	second := encodeStatSample(sample)
	if len(first) != len(second) {
		t.Fatal("expected repeated encodes of the same sample to match in length")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("byte %d differs between encodes: %d vs %d", i, first[i], second[i])
		}
	}

	// Keys must come out sorted: "a" before "b" before "c".
	pos := 3
	for _, want := range []string{"a", "b", "c"} {
		klen := int(first[pos])
		pos++
		if string(first[pos:pos+klen]) != want {
			t.Fatalf("expected key %q at position, got %q", want, string(first[pos:pos+klen]))
		}
		pos += klen + 8
	}
}

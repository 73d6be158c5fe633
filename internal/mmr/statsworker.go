package mmr

import (
	"context"
	"encoding/binary"
	"sort"
	"time"

	"github.com/openenterprise/etaccel/internal/fwlog"
)

// UtilizationSource is the PMU-counter-reading external collaborator
// (spec §1's PMU-counter-hardware non-goal): StatsWorker samples it
// periodically but never reads hardware registers itself.
type UtilizationSource interface {
	// Sample returns one resource-utilization snapshot. Keys are
	// stable short identifiers ("kernel_slots_busy", "dma_read_busy",
	// ...); values are counts at the time of the call.
	Sample() map[string]uint64
}

// statSampleRecordVersion lets a future sample layout change without
// breaking readers of older trace records.
const statSampleRecordVersion = 1

// StatsWorker periodically samples resource utilization and appends
// one record per sample, sized by its keys, to the trace ring (spec §2 names it; its shape
// here follows device-minion-runtime/src/MasterMinion/src/workers/statw.c's
// periodic-tick/per-resource-counter/trace-append structure, without
// that file's direct PMU register reads, which stay behind
// UtilizationSource).
type StatsWorker struct {
	source   UtilizationSource
	ring     *fwlog.Ring
	interval time.Duration
}

// NewStatsWorker constructs a worker sampling source every interval
// and appending records to ring.
func NewStatsWorker(source UtilizationSource, ring *fwlog.Ring, interval time.Duration) *StatsWorker {
	return &StatsWorker{source: source, ring: ring, interval: interval}
}

// Run ticks at interval, sampling and appending until ctx is cancelled.
func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sampleOnce()
		}
	}
}

func (w *StatsWorker) sampleOnce() {
	sample := w.source.Sample()
	w.ring.Append(encodeStatSample(sample))
}

// encodeStatSample produces a compact, deterministically ordered
// binary record: version, count, then sorted {keylen, key, value}
// tuples, so repeated samples with the same key set stay byte-stable
// for tests.
func encodeStatSample(sample map[string]uint64) []byte {
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 3
	for _, k := range keys {
		size += 1 + len(k) + 8
	}
	buf := make([]byte, size)
	buf[0] = statSampleRecordVersion
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(keys)))

	pos := 3
	for _, k := range keys {
		buf[pos] = byte(len(k))
		pos++
		copy(buf[pos:], k)
		pos += len(k)
		binary.LittleEndian.PutUint64(buf[pos:pos+8], sample[k])
		pos += 8
	}
	return buf
}

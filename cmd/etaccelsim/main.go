package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openenterprise/etaccel/internal/config"
	"github.com/openenterprise/etaccel/internal/ffs"
	"github.com/openenterprise/etaccel/internal/fwlog"
	"github.com/openenterprise/etaccel/internal/mmr"
	"github.com/openenterprise/etaccel/version"
)

const (
	traceRingSize    = 64 * 1024
	ackTimeout       = 2 * time.Second
	heartbeatPeriod  = time.Second
	dramWindowStart  = 0x8000_0000
	dramWindowLength = 256 << 20
)

func main() {
	shires := flag.Int("shires", config.ShiresPerMesh(), "compute shires in the simulated mesh")
	maxKernels := flag.Int("max-kernels", config.MaxSimultaneousKernels(), "kernel-launch slot table size")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	level := parseLevel(*logLevel)
	ring := fwlog.NewRing(make([]byte, traceRingSize))
	logger := slog.New(fwlog.NewTeeHandler(os.Stdout, ring, &slog.HandlerOptions{Level: level}))

	sim, err := newSimulator(*shires, *maxKernels, logger, ring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etaccelsim: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("etaccelsim %s (%s)\n", version.Version, version.BuildMarker)
	fmt.Printf("flash provisioned: %d shires, %d kernel slots, boot status %v\n", *shires, *maxKernels, sim.dir.Status())
	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	fmt.Println()

	sim.interactive()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// simulator wires one FFS runtime and one MMR dispatcher over an
// in-memory flash and compute mesh, standing in for the service
// processor and master minion cores this firmware targets.
type simulator struct {
	log *slog.Logger

	runtime *ffs.Runtime
	mesh    *mmr.ComputeMeshInterface
	kernel  *mmr.KernelWorker
	dma     *mmr.DmaWorker
	dir     *mmr.DeviceInterfaceRegisters

	transport mmr.ShireTransport
}

func newSimulator(shireCount, maxKernels int, log *slog.Logger, ring *fwlog.Ring) (*simulator, error) {
	const sectorSize = 4096
	partitionSize := int64(config.FlashSize() / 2)

	// Beyond the two boot partitions, reserve a small out-of-partition
	// area for the priority designator, boot counters, and config
	// store of each partition — distinct flash addresses from the
	// partitions' own region tables, per spec §4.9-§4.12.
	designatorBase := partitionSize * 2
	counterBase := designatorBase + sectorSize*2
	configBase := counterBase + sectorSize
	flashSize := int(configBase + sectorSize*2)

	flash := ffs.NewMemFlash(flashSize, config.PageSize(), sectorSize, 64*1024)

	if err := provisionPartition(flash, 0, partitionSize, config.PageSize()); err != nil {
		return nil, fmt.Errorf("provision partition A: %w", err)
	}
	if err := provisionPartition(flash, partitionSize, partitionSize, config.PageSize()); err != nil {
		return nil, fmt.Errorf("provision partition B: %w", err)
	}

	runtime, err := ffs.NewRuntime(flash, config.PageSize(), 64*1024, 0, partitionSize, partitionSize)
	if err != nil {
		return nil, fmt.Errorf("scan provisioned flash: %w", err)
	}
	runtime.DesignatorAddr = [2]int64{designatorBase, designatorBase + sectorSize}
	runtime.CounterAddr = [2]int64{counterBase, counterBase + int64(config.PageSize())}
	runtime.ConfigAddr = [2]int64{configBase, configBase + sectorSize}

	mesh := mmr.NewComputeMeshInterface(shireCount, maxKernels+1)
	dram := mmr.DRAMRange{Start: dramWindowStart, End: dramWindowStart + dramWindowLength}
	kernel := mmr.NewKernelWorker(maxKernels, mesh, dram, log, ackTimeout)
	dma := mmr.NewDmaWorker(dram)
	dir := &mmr.DeviceInterfaceRegisters{}

	s := &simulator{
		log:       log,
		runtime:   runtime,
		mesh:      mesh,
		kernel:    kernel,
		dma:       dma,
		dir:       dir,
		transport: instantShireTransport{},
	}

	dispatcher := mmr.NewDispatcher(dir, mmr.NewHostInterface(nil), nil, log)
	steps := mmr.DefaultInitSteps(
		func(ctx context.Context) error { return s.bootAllShires() },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
	)
	if err := dispatcher.Init(context.Background(), steps); err != nil {
		return nil, fmt.Errorf("init sequence: %w", err)
	}

	return s, nil
}

// instantShireTransport ACKs every broadcast immediately, standing in
// for the compute mesh's real IPI round trip.
type instantShireTransport struct{}

func (instantShireTransport) Deliver(ctx context.Context, shireIndex int, msg mmr.CMMessage) error {
	return nil
}

func (s *simulator) bootAllShires() error {
	for i := 0; i < s.mesh.ShireCount(); i++ {
		if err := s.mesh.Shire(i).Transition(mmr.ShireBooted); err != nil {
			return err
		}
		if err := s.mesh.Shire(i).Transition(mmr.ShireReady); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) interactive() {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("etaccelsim> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "status":
			s.cmdStatus()
		case "ffs":
			s.cmdFFS()
		case "launch":
			s.cmdLaunch(args)
		case "abort":
			s.cmdAbort(args)
		case "complete":
			s.cmdComplete(args)
		case "dma":
			s.cmdDMA(args)
		default:
			fmt.Printf("unknown command %q; type 'help'\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  status                 boot status and shire table")
	fmt.Println("  ffs                    active partition, boot counters, priority")
	fmt.Println("  launch <mask>          launch a kernel on the given shire bitmask (decimal)")
	fmt.Println("  abort <slot>           host-abort the kernel in slot")
	fmt.Println("  complete <slot>        report success completion for slot")
	fmt.Println("  dma <read|write> <len> reserve, start, and complete a DMA transfer")
	fmt.Println("  quit                   exit")
}

func (s *simulator) cmdStatus() {
	fmt.Printf("boot status: %v\n", s.dir.Status())
	for i := 0; i < s.mesh.ShireCount(); i++ {
		fmt.Printf("  shire %2d: %v\n", i, s.mesh.Shire(i).State)
	}
	for i := 0; i < s.kernel.SlotCount(); i++ {
		slot := s.kernel.Slot(i)
		if slot.State != mmr.SlotUnused {
			fmt.Printf("  slot %2d: %v tag=%d mask=%#x\n", i, slot.State, slot.TagID, slot.ShireMask)
		}
	}
}

func (s *simulator) cmdFFS() {
	fmt.Printf("active partition: %d\n", s.runtime.Active)
	counters, err := s.runtime.BootCounters()
	if err != nil {
		fmt.Printf("boot counters: error: %v\n", err)
	} else {
		fmt.Printf("boot counters: %+v\n", counters)
	}
	fmt.Printf("designator: %+v\n", s.runtime.PriorityDesignator())
}

func (s *simulator) cmdLaunch(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: launch <mask>")
		return
	}
	mask, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Printf("bad mask: %v\n", err)
		return
	}
	req := mmr.KernelLaunchRequest{
		TagID:            uint16(time.Now().UnixNano()),
		CodeStartAddress: dramWindowStart + 0x1000,
		ShireMask:        mask,
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	resp, err := s.kernel.Dispatch(ctx, s.transport, req)
	if err != nil {
		fmt.Printf("launch failed: %v\n", err)
		return
	}
	fmt.Printf("launched: slot=%d tag=%d status=%v\n", resp.Slot, resp.TagID, resp.Status)
}

func (s *simulator) cmdAbort(args []string) {
	slot, ok := parseSlot(args)
	if !ok {
		fmt.Println("usage: abort <slot>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := s.kernel.AbortByHost(ctx, s.transport, slot); err != nil {
		fmt.Printf("abort failed: %v\n", err)
		return
	}
	resp, err := s.kernel.Complete(slot, nil)
	if err != nil {
		fmt.Printf("complete after abort failed: %v\n", err)
		return
	}
	fmt.Printf("slot %d aborted: status=%v\n", slot, resp.Status)
}

func (s *simulator) cmdComplete(args []string) {
	slot, ok := parseSlot(args)
	if !ok {
		fmt.Println("usage: complete <slot>")
		return
	}
	mask := s.kernel.Slot(slot).ShireMask
	var outcomes []mmr.ShireOutcome
	for i := 0; i < s.mesh.ShireCount(); i++ {
		if mask&(1<<uint(i)) != 0 {
			outcomes = append(outcomes, mmr.ShireOutcome{ShireIndex: i, Status: mmr.StatusSuccess})
		}
	}
	resp, err := s.kernel.Complete(slot, outcomes)
	if err != nil {
		fmt.Printf("complete failed: %v\n", err)
		return
	}
	fmt.Printf("slot %d complete: status=%v\n", slot, resp.Status)
}

func (s *simulator) cmdDMA(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: dma <read|write> <len>")
		return
	}
	var dir mmr.DmaDirection
	switch args[0] {
	case "read":
		dir = mmr.DmaRead
	case "write":
		dir = mmr.DmaWrite
	default:
		fmt.Println("direction must be read or write")
		return
	}
	length, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		fmt.Printf("bad length: %v\n", err)
		return
	}

	req := mmr.DmaTransferRequest{
		Descriptors: []mmr.DmaDescriptor{{
			SourceAddr: dramWindowStart,
			DestAddr:   dramWindowStart + dramWindowLength/2,
			Length:     length,
		}},
	}
	ch, err := s.dma.Reserve(dir, req)
	if err != nil {
		fmt.Printf("reserve failed: %v\n", err)
		return
	}
	if err := s.dma.Start(ch, 0); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}
	completion, err := s.dma.Complete(ch, length/4, mmr.StatusSuccess)
	if err != nil {
		fmt.Printf("complete failed: %v\n", err)
		return
	}
	fmt.Printf("dma complete: channel=%d cycles=%d status=%v\n", ch.Index, completion.CycleCount, completion.Status)
}

func parseSlot(args []string) (int, bool) {
	if len(args) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

// provisionPartition writes a minimal valid partition image at offset
// within flash: a header, a region table naming only the
// DRAM-training region (the one Scan requires present), and that
// region's single FileInfo-wrapped payload. It stands in for the
// factory provisioning step that writes the first valid image before
// any boot ever runs (spec §4.8's scan precondition).
func provisionPartition(flash ffs.FlashDevice, offset, size int64, pageSize int) error {
	payload := []byte("dram-training-placeholder")
	fileHeader := ffs.FileInfo{Tag: ffs.FileTag, HeaderSize: ffs.FileInfoSize, PayloadSize: uint32(len(payload))}.MarshalBinary()

	region := ffs.RegionEntry{
		RegionID:          ffs.RegionDRAMTraining,
		OffsetPages:       uint32(ffs.PartitionHeaderSize+ffs.RegionEntrySize+pageSize-1) / uint32(pageSize),
		ReservedSizePages: 1,
	}

	header := ffs.PartitionHeader{
		Tag:                ffs.PartitionTag,
		HeaderSize:         ffs.PartitionHeaderSize,
		RegionInfoSize:     ffs.RegionEntrySize,
		RegionCount:        1,
		PartitionSizePages: uint32(size) / uint32(pageSize),
	}

	raw := make([]byte, size)
	copy(raw, header.MarshalBinary())
	copy(raw[ffs.PartitionHeaderSize:], region.MarshalBinary())

	regionOffset := int64(region.OffsetPages) * int64(pageSize)
	copy(raw[regionOffset:], fileHeader)
	copy(raw[regionOffset+ffs.FileInfoSize:], payload)

	for blockOff := int64(0); blockOff < size; blockOff += 64 * 1024 {
		if err := flash.EraseBlock(offset + blockOff); err != nil {
			return err
		}
	}
	for pageOff := int64(0); pageOff < size; pageOff += int64(pageSize) {
		end := pageOff + int64(pageSize)
		if end > size {
			end = size
		}
		if err := flash.ProgramPage(offset+pageOff, raw[pageOff:end]); err != nil {
			return err
		}
	}
	return nil
}

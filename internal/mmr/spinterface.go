package mmr

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// ServiceProcessorInterface mediates the four rings between MM and SP
// (spec §4.7): MM→SP and SP→MM, each with an SQ and CQ.
type ServiceProcessorInterface struct {
	mmToSPSQ *VirtualQueue
	mmToSPCQ *VirtualQueue
	spToMMSQ *VirtualQueue
	spToMMCQ *VirtualQueue

	mu      sync.Mutex
	pending map[uint32]chan spResponse // keyed by issuing_hart_id

	heartbeatInterval time.Duration
}

type spResponse struct {
	payload []byte
	err     error
}

// NewServiceProcessorInterface constructs the interface over the four
// named rings.
func NewServiceProcessorInterface(mmToSPSQ, mmToSPCQ, spToMMSQ, spToMMCQ *VirtualQueue, heartbeatInterval time.Duration) *ServiceProcessorInterface {
	return &ServiceProcessorInterface{
		mmToSPSQ:          mmToSPSQ,
		mmToSPCQ:          mmToSPCQ,
		spToMMSQ:          spToMMSQ,
		spToMMCQ:          spToMMCQ,
		pending:           make(map[uint32]chan spResponse),
		heartbeatInterval: heartbeatInterval,
	}
}

// RPC codes for the synchronous helpers spec §4.7 names.
type SPRPCCode uint16

const (
	RPCGetShireMask SPRPCCode = iota + 1
	RPCGetBootFreq
	RPCGetFWVersion
	RPCGetDDRMemoryInfo
	RPCResetMinion
)

// call implements the shared push-command/register-timeout/
// wait-for-response pattern every synchronous RPC in spec §4.7 uses.
func (s *ServiceProcessorInterface) call(ctx context.Context, hartID uint32, code SPRPCCode, payload []byte, timeout time.Duration) ([]byte, error) {
	ch := make(chan spResponse, 1)
	s.mu.Lock()
	s.pending[hartID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, hartID)
		s.mu.Unlock()
	}()

	frame := encodeSPCommand(hartID, uint16(code), payload)
	if err := s.mmToSPSQ.Push(frame); err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-callCtx.Done():
		return nil, fwerr.New(fwerr.CodeTimeout, "mmr.ServiceProcessorInterface.call", callCtx.Err())
	}
}

// GetShireMask, GetBootFreq, GetFWVersion, GetDDRMemoryInfo, and
// ResetMinion are the synchronous RPCs spec §4.7 names, each a thin
// wrapper over call with its own code.
func (s *ServiceProcessorInterface) GetShireMask(ctx context.Context, hartID uint32, timeout time.Duration) ([]byte, error) {
	return s.call(ctx, hartID, RPCGetShireMask, nil, timeout)
}

func (s *ServiceProcessorInterface) GetBootFreq(ctx context.Context, hartID uint32, timeout time.Duration) ([]byte, error) {
	return s.call(ctx, hartID, RPCGetBootFreq, nil, timeout)
}

func (s *ServiceProcessorInterface) GetFWVersion(ctx context.Context, hartID uint32, timeout time.Duration) ([]byte, error) {
	return s.call(ctx, hartID, RPCGetFWVersion, nil, timeout)
}

func (s *ServiceProcessorInterface) GetDDRMemoryInfo(ctx context.Context, hartID uint32, timeout time.Duration) ([]byte, error) {
	return s.call(ctx, hartID, RPCGetDDRMemoryInfo, nil, timeout)
}

func (s *ServiceProcessorInterface) ResetMinion(ctx context.Context, hartID uint32, timeout time.Duration) ([]byte, error) {
	return s.call(ctx, hartID, RPCResetMinion, nil, timeout)
}

// errorReportMsgID marks a fire-and-forget error report: unlike the
// RPCs above it expects no completion, so it is pushed directly
// rather than routed through call's pending-response bookkeeping.
const errorReportMsgID = 0xFFFE

// ReportError pushes a typed error record to the service processor
// (spec §7: "reports HardwareFailure to the service processor with a
// typed error record"; also used for the Fatal path's SP report).
func (s *ServiceProcessorInterface) ReportError(hartID uint32, code fwerr.Code, detail []byte) error {
	payload := append([]byte{byte(code)}, detail...)
	return s.mmToSPSQ.Push(encodeSPCommand(hartID, errorReportMsgID, payload))
}

// Process polls the MM→SP CQ (spec §4.7: "MM polls MM→SP CQ from the
// single service-processor worker") and routes each completion to the
// pending caller keyed by its original issuing_hart_id.
func (s *ServiceProcessorInterface) Process() error {
	buf := make([]byte, MaxCommandSize)
	for {
		n, err := s.mmToSPCQ.Pop(buf)
		if err != nil {
			if fe, ok := err.(*fwerr.Error); ok && fe.Code == fwerr.CodeNotReady {
				return nil
			}
			return err
		}
		hartID, payload, perr := decodeSPResponse(buf[:n])

		s.mu.Lock()
		ch, ok := s.pending[hartID]
		s.mu.Unlock()
		if ok {
			ch <- spResponse{payload: payload, err: perr}
		}
	}
}

// Heartbeat sends a liveness message at a fixed tick until ctx is
// cancelled. Its absence on the SP side is a recoverable error there,
// outside this package's scope (spec §4.7).
func (s *ServiceProcessorInterface) Heartbeat(ctx context.Context) error {
	if s.heartbeatInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = s.mmToSPSQ.Push(encodeSPCommand(0, uint16(heartbeatMsgID), nil))
		}
	}
}

const heartbeatMsgID = 0xFFFF

func encodeSPCommand(hartID uint32, msgID uint16, payload []byte) []byte {
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], msgID)
	binary.LittleEndian.PutUint32(frame[4:8], hartID)
	copy(frame[8:], payload)
	return frame
}

func decodeSPResponse(frame []byte) (hartID uint32, payload []byte, err error) {
	if len(frame) < 8 {
		return 0, nil, fwerr.New(fwerr.CodeProtocolError, "mmr.decodeSPResponse", nil)
	}
	hartID = binary.LittleEndian.Uint32(frame[4:8])
	return hartID, frame[8:], nil
}

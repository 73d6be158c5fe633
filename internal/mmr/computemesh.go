package mmr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openenterprise/etaccel/internal/fwerr"
)

// UnicastRingSize bounds each per-HART unicast ring's message capacity.
const UnicastRingSize = 32

// unicastRing is a many-producer/single-consumer ring of fixed-size
// messages (spec §4.6): producers serialize through a spinlock
// (mu) to claim a slot and bump head; the single consumer pops with
// no lock at all, only atomic loads of head and its own private tail.
type unicastRing struct {
	mu   sync.Mutex
	buf  []CMMessage
	head atomic.Uint32
	tail atomic.Uint32
}

func newUnicastRing(capacity int) *unicastRing {
	return &unicastRing{buf: make([]CMMessage, capacity)}
}

func (r *unicastRing) push(msg CMMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.head.Load()
	next := (head + 1) % uint32(len(r.buf))
	if next == r.tail.Load() {
		return fwerr.New(fwerr.CodeResourceBusy, "mmr.unicastRing.push", fwerr.ResourceBusy)
	}
	r.buf[head] = msg
	r.head.Store(next)
	return nil
}

func (r *unicastRing) pop() (CMMessage, error) {
	tail := r.tail.Load()
	if r.head.Load() == tail {
		return CMMessage{}, fwerr.New(fwerr.CodeNotReady, "mmr.unicastRing.pop", fwerr.NotReady)
	}
	msg := r.buf[tail]
	r.tail.Store((tail + 1) % uint32(len(r.buf)))
	return msg, nil
}

// ComputeMeshInterface mediates one-to-many broadcast and many-to-one
// unicast messaging to compute shires (spec §4.6).
type ComputeMeshInterface struct {
	mu       sync.Mutex // broadcast global lock: one broadcast in flight at a time
	sequence uint8
	shires   []Shire

	unicast []*unicastRing // one ring per kernel slot, plus one for the dispatcher
}

// NewComputeMeshInterface constructs the interface for a mesh of
// shireCount shires and ringCount unicast rings (kernel slots + 1 for
// the dispatcher).
func NewComputeMeshInterface(shireCount, ringCount int) *ComputeMeshInterface {
	c := &ComputeMeshInterface{shires: make([]Shire, shireCount)}
	for i := range c.shires {
		c.shires[i] = Shire{Index: i, State: ShireUnknown}
	}
	c.unicast = make([]*unicastRing, ringCount)
	for i := range c.unicast {
		c.unicast[i] = newUnicastRing(UnicastRingSize)
	}
	return c
}

// Shire returns a pointer to shire i's live state for transitions.
func (c *ComputeMeshInterface) Shire(i int) *Shire { return &c.shires[i] }

// ShireCount reports the mesh size.
func (c *ComputeMeshInterface) ShireCount() int { return len(c.shires) }

// ShireMaskReady reports whether every shire named in mask is Ready.
func (c *ComputeMeshInterface) ShireMaskReady(mask uint64) bool {
	for i := range c.shires {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if c.shires[i].State != ShireReady {
			return false
		}
	}
	return true
}

// ShireTransport delivers broadcast messages to shires and reports
// per-shire ACKs back to the sender; it stands in for the real
// firmware's IPI send/wait, modeled here as a blocking call so tests
// can inject per-shire delay or failure.
type ShireTransport interface {
	// Deliver sends msg to shire index and blocks until that shire
	// acknowledges, respecting ctx's deadline.
	Deliver(ctx context.Context, shireIndex int, msg CMMessage) error
}

// Broadcast sends msg to every shire set in mask, waiting for all of
// them to ACK (or ctx to expire), per spec §4.6: acquire the global
// lock, bump the sequence number (skip 0 on wrap), issue one delivery
// per target shire, and return only once every target has ACK'd or
// the deadline passes. The lock is released either way.
func (c *ComputeMeshInterface) Broadcast(ctx context.Context, transport ShireTransport, mask uint64, id CMMessageID, tagID uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = nextSequence(c.sequence)
	msg := CMMessage{ID: id, Number: c.sequence, TagID: tagID}

	targets := make([]int, 0, len(c.shires))
	for i := range c.shires {
		if mask&(1<<uint(i)) != 0 {
			targets = append(targets, i)
		}
	}

	type result struct {
		idx int
		err error
	}
	results := make(chan result, len(targets))
	for _, idx := range targets {
		idx := idx
		go func() {
			results <- result{idx: idx, err: transport.Deliver(ctx, idx, msg)}
		}()
	}

	var firstErr error
	for range targets {
		select {
		case r := <-results:
			if r.err != nil && firstErr == nil {
				firstErr = r.err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = fwerr.New(fwerr.CodeTimeout, "mmr.ComputeMeshInterface.Broadcast", ctx.Err())
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

// Unicast enqueues msg on ring ringIndex (one per kernel slot, plus
// the dispatcher's own ring) for later consumption by the owning
// worker's event loop.
func (c *ComputeMeshInterface) Unicast(ringIndex int, msg CMMessage) error {
	if ringIndex < 0 || ringIndex >= len(c.unicast) {
		return fwerr.New(fwerr.CodeInvalidArgument, "mmr.ComputeMeshInterface.Unicast", nil)
	}
	return c.unicast[ringIndex].push(msg)
}

// ReceiveUnicast pops the next message from ring ringIndex, returning
// NotReady when drained.
func (c *ComputeMeshInterface) ReceiveUnicast(ringIndex int) (CMMessage, error) {
	if ringIndex < 0 || ringIndex >= len(c.unicast) {
		return CMMessage{}, fwerr.New(fwerr.CodeInvalidArgument, "mmr.ComputeMeshInterface.ReceiveUnicast", nil)
	}
	return c.unicast[ringIndex].pop()
}

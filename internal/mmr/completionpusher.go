package mmr

import "sync"

// CompletionPusher serializes pushes of responses to a host CQ under
// a short spinlock, since CQ push is many-producer/single-consumer
// (spec §4.3/§5: "Host responses are pushed under a per-CQ lock so
// concurrent workers produce a well-defined interleaving").
type CompletionPusher struct {
	mu sync.Mutex
	cq *VirtualQueue
}

// NewCompletionPusher constructs a pusher over cq.
func NewCompletionPusher(cq *VirtualQueue) *CompletionPusher {
	return &CompletionPusher{cq: cq}
}

// Push serializes a single response push.
func (p *CompletionPusher) Push(resp []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cq.Push(resp)
}

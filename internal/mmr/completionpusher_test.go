package mmr

import (
	"sync"
	"testing"
)

func TestCompletionPusherSerializesConcurrentPushes(t *testing.T) {
	vq, err := NewVirtualQueue(make([]byte, 4096), MemUncachedSRAM)
	if err != nil {
		t.Fatalf("NewVirtualQueue: %v", err)
	}
	pusher := NewCompletionPusher(vq)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := pusher.Push([]byte{byte(i)}); err != nil {
				t.Errorf("Push %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[byte]bool)
	buf := make([]byte, MaxCommandSize)
	for i := 0; i < n; i++ {
		m, err := vq.Pop(buf)
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}
		if m != 1 {
			t.Fatalf("expected 1-byte response, got %d bytes", m)
		}
		seen[buf[0]] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct pushes to survive interleaving, got %d", n, len(seen))
	}
}

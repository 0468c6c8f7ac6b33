package internal

import "sync"

// Broadcaster wakes any number of waiters at once without requiring them
// to register or unregister. Each call to Wait returns the channel
// current at that moment; Wake closes it (waking everyone blocked on it)
// and swaps in a fresh one for subsequent waiters.
//
// This backs the Worker sub-worker loop's "wait for NOTIFY or poll timer
// or cancellation" step (spec §4.3): a NOTIFY forwarder calls Wake, and
// every idle sub-worker blocked in Wait() wakes up to re-poll.
type Broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBroadcaster returns a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// Wait returns the channel that closes on the next call to Wake.
func (b *Broadcaster) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Wake releases every goroutine currently blocked in Wait.
func (b *Broadcaster) Wake() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}

package h2bridge

import "sync"

// defaultInitialWindow matches HTTP/2's default initial flow-control
// window (RFC 7540 §6.9.2) before either peer sends a SETTINGS frame
// changing it.
const defaultInitialWindow = 65535

// flowWindow tracks a peer's advertised receive window for one stream (or
// the whole connection) on the side we're writing to. Consume blocks the
// writer until enough window is available. Backpressure propagates
// naturally this way: if the upstream cannot accept more DATA, the
// downstream receive path stops consuming until the upstream accepts,
// since the relay goroutine that reads from the opposite connection is
// the same goroutine that calls Consume here.
type flowWindow struct {
	mu        sync.Mutex
	cond      *sync.Cond
	available int64
	closed    bool
}

func newFlowWindow(initial int64) *flowWindow {
	w := &flowWindow{available: initial}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Consume blocks until n bytes of window are available, then subtracts
// them. Returns false if the window was closed (stream reset/closed)
// while waiting.
func (w *flowWindow) Consume(n int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.available < n && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return false
	}
	w.available -= n
	return true
}

// Add increases the available window, e.g. on receipt of WINDOW_UPDATE.
func (w *flowWindow) Add(n int64) {
	w.mu.Lock()
	w.available += n
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Close unblocks any waiting Consume call, e.g. on RST_STREAM/GOAWAY.
func (w *flowWindow) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

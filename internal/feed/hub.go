// Package feed serves published snapshots to display subscribers over
// websockets and accepts observations from producers over HTTP and
// websockets.
package feed

import (
	"sync"

	"github.com/lox/tablesight/internal/publisher"
)

// Hub is a publisher.Monitor that fans snapshots out to every subscriber.
// A slow subscriber only loses its own oldest snapshots.
type Hub struct {
	publisher.NullMonitor

	buffer int

	mu     sync.RWMutex
	subs   map[*publisher.ChannelMonitor]struct{}
	closed bool
}

// NewHub creates a hub whose subscribers each hold up to buffer snapshots
func NewHub(buffer int) *Hub {
	return &Hub{
		buffer: buffer,
		subs:   make(map[*publisher.ChannelMonitor]struct{}),
	}
}

// OnSnapshot delivers snap to every subscriber without blocking
func (h *Hub) OnSnapshot(snap publisher.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		sub.OnSnapshot(snap)
	}
}

// Subscribe registers a new subscriber. It returns false once the hub is closed.
func (h *Hub) Subscribe() (*publisher.ChannelMonitor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := publisher.NewChannelMonitor(h.buffer)
	h.subs[sub] = struct{}{}
	return sub, true
}

// Unsubscribe removes and closes a subscriber
func (h *Hub) Unsubscribe(sub *publisher.ChannelMonitor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.Close()
	}
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped sums the snapshots discarded across live subscribers
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n uint64
	for sub := range h.subs {
		n += sub.Dropped()
	}
	return n
}

// Close ends every subscription and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		sub.Close()
		delete(h.subs, sub)
	}
}

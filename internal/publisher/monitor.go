package publisher

import (
	"sync"

	"github.com/lox/tablesight/internal/handfsm"
)

// Monitor receives everything the engine publishes. Implementations must
// not block; they are called from the fusion goroutine.
type Monitor interface {
	// OnSnapshot is called for every published snapshot.
	OnSnapshot(snap Snapshot)

	// OnHandClosed is called with the final state of each closed hand.
	OnHandClosed(hand handfsm.HandState)

	// OnDiagnostic is called for each diagnostic event.
	OnDiagnostic(d Diagnostic)
}

// NullMonitor is a no-op implementation.
type NullMonitor struct{}

func (NullMonitor) OnSnapshot(Snapshot)            {}
func (NullMonitor) OnHandClosed(handfsm.HandState) {}
func (NullMonitor) OnDiagnostic(Diagnostic)        {}

// MultiMonitor fans events out to multiple monitors.
type MultiMonitor struct {
	monitors []Monitor
}

// NewMultiMonitor builds a composite monitor, pruning nil entries and
// returning a NullMonitor when no monitors are provided.
func NewMultiMonitor(monitors ...Monitor) Monitor {
	filtered := make([]Monitor, 0, len(monitors))
	for _, monitor := range monitors {
		if monitor != nil {
			filtered = append(filtered, monitor)
		}
	}

	switch len(filtered) {
	case 0:
		return NullMonitor{}
	case 1:
		return filtered[0]
	default:
		return MultiMonitor{monitors: filtered}
	}
}

func (m MultiMonitor) OnSnapshot(snap Snapshot) {
	for _, monitor := range m.monitors {
		monitor.OnSnapshot(snap)
	}
}

func (m MultiMonitor) OnHandClosed(hand handfsm.HandState) {
	for _, monitor := range m.monitors {
		monitor.OnHandClosed(hand)
	}
}

func (m MultiMonitor) OnDiagnostic(d Diagnostic) {
	for _, monitor := range m.monitors {
		monitor.OnDiagnostic(d)
	}
}

// ChannelMonitor delivers snapshots to a subscriber over a buffered channel.
// When the subscriber falls behind, the oldest pending snapshot is dropped.
type ChannelMonitor struct {
	NullMonitor

	mu      sync.Mutex
	ch      chan Snapshot
	closed  bool
	dropped uint64
}

// NewChannelMonitor creates a subscription holding up to buffer snapshots
func NewChannelMonitor(buffer int) *ChannelMonitor {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelMonitor{ch: make(chan Snapshot, buffer)}
}

// C returns the subscription channel. It is closed by Close.
func (c *ChannelMonitor) C() <-chan Snapshot { return c.ch }

// OnSnapshot enqueues the snapshot without blocking
func (c *ChannelMonitor) OnSnapshot(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.ch <- snap:
			return
		default:
		}
		select {
		case <-c.ch:
			c.dropped++
		default:
		}
	}
}

// Dropped returns how many snapshots were discarded for this subscriber
func (c *ChannelMonitor) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close ends the subscription
func (c *ChannelMonitor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

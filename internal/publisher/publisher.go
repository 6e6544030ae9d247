package publisher

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/tablesight/internal/handfsm"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Input is the working state handed to Publish. It is copied, never retained.
type Input struct {
	// At stamps the snapshot; the zero value means now.
	At          time.Time
	Hand        handfsm.HandState
	Trust       TrustLevel
	Fields      map[string]FieldStatus
	Diagnostics []Diagnostic
}

// Publisher stamps versions on snapshots and delivers them. Publish,
// HandClosed and Diagnose are called by the single fusion goroutine; Latest
// may be called from anywhere.
type Publisher struct {
	clock   quartz.Clock
	monitor Monitor
	logger  *log.Logger

	mu      sync.RWMutex
	version uint64
	latest  *Snapshot
	closed  bool
}

// New creates a publisher delivering to monitor
func New(monitor Monitor, clock quartz.Clock, logger *log.Logger) *Publisher {
	if monitor == nil {
		monitor = NullMonitor{}
	}
	return &Publisher{
		clock:   clock,
		monitor: monitor,
		logger:  logger.WithPrefix("publisher"),
	}
}

// Publish builds the next snapshot from in and delivers it
func (p *Publisher) Publish(reason Reason, in Input) (Snapshot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrClosed
	}

	at := in.At
	if at.IsZero() {
		at = p.clock.Now()
	}
	p.version++
	snap := Snapshot{
		Version:     p.version,
		PublishedAt: at,
		Reason:      reason,
		Hand:        in.Hand.Clone(),
		Trust:       in.Trust,
		Fields:      maps.Clone(in.Fields),
		Diagnostics: slices.Clone(in.Diagnostics),
	}
	snap.Changes = diff(p.latest, &snap)
	kept := snap.Clone()
	p.latest = &kept
	p.mu.Unlock()

	p.logger.Debug("Snapshot published",
		"version", snap.Version, "reason", reason, "phase", snap.Hand.Phase, "trust", snap.Trust)
	p.monitor.OnSnapshot(snap)
	return snap, nil
}

// HandClosed hands the final state of a hand to the monitors
func (p *Publisher) HandClosed(hand handfsm.HandState) {
	if p.Closed() {
		return
	}
	p.monitor.OnHandClosed(hand.Clone())
}

// Diagnose forwards a diagnostic event to the monitors
func (p *Publisher) Diagnose(d Diagnostic) {
	if p.Closed() {
		return
	}
	p.monitor.OnDiagnostic(d)
}

// Latest returns a copy of the most recent snapshot
func (p *Publisher) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Snapshot{}, false
	}
	return p.latest.Clone(), true
}

// Version returns the version of the most recent snapshot
func (p *Publisher) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Closed reports whether Close was called
func (p *Publisher) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close stops all further emission
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Package fusion is the single-writer coordinator that turns the observation
// stream into published game-state snapshots.
//
// Producers call Submit from any goroutine. One logical consumer, either Run
// or a caller driving Cycle directly, drains the queue and pushes each batch
// through smoothing, validation and the hand state machine before publishing.
package fusion

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/publisher"
	"github.com/lox/tablesight/internal/smoother"
	"github.com/lox/tablesight/internal/validator"
)

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("engine shut down")

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for cycle timestamps and the run loop
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMonitor sets the monitor receiving snapshots, closed hands and diagnostics
func WithMonitor(monitor publisher.Monitor) Option {
	return func(e *Engine) { e.monitor = monitor }
}

// WithObservationLog records every processed observation
func WithObservationLog(w *observation.LogWriter) Option {
	return func(e *Engine) { e.record = w }
}

// Stats are engine counters
type Stats struct {
	Submitted uint64               `json:"submitted"`
	Invalid   uint64               `json:"invalid"`
	Dropped   uint64               `json:"dropped"`
	Accepted  uint64               `json:"accepted"`
	Filtered  uint64               `json:"filtered"`
	Cycles    uint64               `json:"cycles"`
	Snapshots uint64               `json:"snapshots"`
	Hands     uint64               `json:"hands_closed"`
	Pending   int                  `json:"pending"`
	HandID    uint64               `json:"hand_id"`
	Phase     handfsm.Phase        `json:"phase"`
	Trust     publisher.TrustLevel `json:"trust_level"`
}

// Engine owns every field estimate and the current hand. All state is
// mutated under mu by one cycle at a time, so a snapshot never sees a
// half-applied batch.
type Engine struct {
	cfg     config.Fusion
	clock   quartz.Clock
	logger  *log.Logger
	monitor publisher.Monitor
	record  *observation.LogWriter

	queue     *observation.Queue
	publisher *publisher.Publisher

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	bank      *smoother.Bank
	validator *validator.Validator
	machine   *handfsm.Machine
	batch     []observation.Observation

	trust       publisher.TrustLevel
	fields      map[string]publisher.FieldStatus
	contested   map[observation.FieldID]string
	potFlagged  bool
	artifact    bool
	lastDropped uint64
	pending     []publisher.Diagnostic

	invalid   atomic.Uint64
	cycles    uint64
	snapshots uint64
	hands     uint64
}

// New creates an engine. It does not start the run loop.
func New(cfg config.Fusion, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		clock:   quartz.NewReal(),
		logger:  log.Default(),
		monitor: publisher.NullMonitor{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.WithPrefix("fusion")
	e.queue = observation.NewQueue(cfg.QueueSize)
	e.bank = smoother.NewBank(cfg)
	e.validator = validator.New(e.logger)
	e.machine = handfsm.NewMachine(cfg, e.logger)
	e.publisher = publisher.New(e.monitor, e.clock, e.logger)
	return e, nil
}

// Submit enqueues one observation. It is safe for concurrent use and never
// waits for the consumer; when the queue is full the oldest pending
// observation is dropped.
func (e *Engine) Submit(obs observation.Observation) error {
	obs, err := obs.Normalize()
	if err != nil {
		e.invalid.Add(1)
		return err
	}
	if !e.queue.Push(obs) {
		return ErrClosed
	}
	return nil
}

// SubmitRaw builds and enqueues an observation from its parts
func (e *Engine) SubmitRaw(field observation.FieldID, raw string, confidence float64, observedAt time.Time, source string) error {
	return e.Submit(observation.Observation{
		Field:      field,
		Value:      raw,
		Confidence: confidence,
		ObservedAt: observedAt,
		Source:     source,
	})
}

// Cycle runs one fusion cycle and returns the snapshots it published.
func (e *Engine) Cycle() []publisher.Snapshot {
	return e.cycleAt(e.clock.Now())
}

func (e *Engine) cycleAt(now time.Time) []publisher.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.runCycle(now)
}

// runCycle is one atomic pass: drain, smooth, validate, step, publish.
func (e *Engine) runCycle(now time.Time) []publisher.Snapshot {
	e.cycles++

	e.batch = e.queue.Drain(e.batch)
	for _, obs := range e.batch {
		e.bank.Ingest(obs)
		if e.record != nil {
			if err := e.record.Write(obs); err != nil {
				e.logger.Error("Failed to record observation", "error", err)
			}
		}
	}
	e.bank.Tick()
	changed := e.bank.TakeChanged()

	view := validator.Assemble(e.bank.Estimates(), now)
	view.Committed = e.machine.CommunityCards()
	report := e.validator.Check(&view)
	res := e.machine.Step(&view, changed)

	e.trust = e.trustLevel(&view, report)
	e.fields = e.fieldStatuses(report)
	e.collectDiagnostics(report, res, now)

	var published []publisher.Snapshot
	for _, tr := range res.Transitions {
		if tr.Skip {
			e.diagnose(publisher.Diagnostic{
				Code:    publisher.DiagPhaseSkip,
				Message: fmt.Sprintf("%s -> %s caught up in one cycle", tr.From, tr.To),
				HandID:  tr.HandID,
				At:      now,
			})
		}
		if snap, ok := e.publish(publisher.ReasonTransition, tr.State, now); ok {
			published = append(published, snap)
		}
	}

	if res.Closed != nil {
		e.hands++
		e.publisher.HandClosed(*res.Closed)
	}
	if res.ResetHand {
		e.bank.Reset(nil)
		e.bank.TakeChanged()
	}
	if res.Closed != nil || res.Started {
		e.validator.ResetHand()
	}
	return published
}

// Heartbeat publishes the current state without a transition
func (e *Engine) Heartbeat() (publisher.Snapshot, error) {
	return e.heartbeatAt(e.clock.Now())
}

func (e *Engine) heartbeatAt(now time.Time) (publisher.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return publisher.Snapshot{}, ErrClosed
	}
	snap, ok := e.publish(publisher.ReasonHeartbeat, e.machine.Current(), now)
	if !ok {
		return publisher.Snapshot{}, ErrClosed
	}
	return snap, nil
}

func (e *Engine) publish(reason publisher.Reason, hand handfsm.HandState, at time.Time) (publisher.Snapshot, bool) {
	snap, err := e.publisher.Publish(reason, publisher.Input{
		At:          at,
		Hand:        hand,
		Trust:       e.trust,
		Fields:      e.fields,
		Diagnostics: e.pending,
	})
	if err != nil {
		return publisher.Snapshot{}, false
	}
	e.pending = e.pending[:0]
	e.snapshots++
	return snap, true
}

func (e *Engine) diagnose(d publisher.Diagnostic) {
	e.pending = append(e.pending, d)
	e.publisher.Diagnose(d)
}

// Latest returns the most recently published snapshot
func (e *Engine) Latest() (publisher.Snapshot, bool) {
	return e.publisher.Latest()
}

// Shutdown stops the engine. With drain, observations still queued are
// processed in a final cycle; otherwise they are discarded. A last snapshot
// is published and nothing is emitted afterwards.
func (e *Engine) Shutdown(drain bool) error {
	e.queue.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	now := e.clock.Now()
	if drain {
		e.runCycle(now)
	} else if n := e.queue.Discard(); n > 0 {
		e.logger.Info("Discarded queued observations", "count", n)
	}
	e.publish(publisher.ReasonShutdown, e.machine.Current(), now)

	e.publisher.Close()
	e.closed = true
	close(e.done)

	if e.record != nil {
		if err := e.record.Flush(); err != nil {
			return fmt.Errorf("flush observation log: %w", err)
		}
	}
	e.logger.Info("Engine stopped", "cycles", e.cycles, "hands", e.hands, "snapshots", e.snapshots)
	return nil
}

// Done is closed once Shutdown completes
func (e *Engine) Done() <-chan struct{} { return e.done }

// Stats returns a copy of the engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Submitted: e.queue.Pushed(),
		Invalid:   e.invalid.Load(),
		Dropped:   e.queue.Dropped(),
		Accepted:  e.bank.Accepted(),
		Filtered:  e.bank.Rejected(),
		Cycles:    e.cycles,
		Snapshots: e.snapshots,
		Hands:     e.hands,
		Pending:   e.queue.Len(),
		HandID:    e.machine.HandID(),
		Phase:     e.machine.Phase(),
		Trust:     e.trust,
	}
}

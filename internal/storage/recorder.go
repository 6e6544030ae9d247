package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/tablesight/internal/fileutil"
	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
)

const writeTimeout = 5 * time.Second

// RecorderOptions selects what the recorder keeps
type RecorderOptions struct {
	// Snapshots stores transition and shutdown snapshots, not heartbeats.
	Snapshots bool
	// SnapshotFile, when set, is rewritten with every published snapshot.
	SnapshotFile string
	// Buffer is the number of pending writes before new ones are dropped.
	Buffer int
}

type record struct {
	snap *publisher.Snapshot
	hand *handfsm.HandState
}

// Recorder is a publisher.Monitor that writes to a Store off the fusion
// goroutine. Writes queue in a bounded buffer; when the store falls behind,
// new records are dropped and counted rather than stalling the engine.
type Recorder struct {
	publisher.NullMonitor

	store   Store
	session string
	opts    RecorderOptions
	logger  *log.Logger

	records chan record
	quit    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	written atomic.Uint64

	mu     sync.Mutex
	latest *publisher.Snapshot
	dirty  chan struct{}
}

// NewRecorder creates a recorder for one session. Call Run to start writing.
func NewRecorder(store Store, session string, opts RecorderOptions, logger *log.Logger) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &Recorder{
		store:   store,
		session: session,
		opts:    opts,
		logger:  logger.WithPrefix("recorder"),
		records: make(chan record, opts.Buffer),
		quit:    make(chan struct{}),
		dirty:   make(chan struct{}, 1),
	}
}

// OnSnapshot queues the snapshot for storage and the snapshot file
func (r *Recorder) OnSnapshot(snap publisher.Snapshot) {
	if r.opts.SnapshotFile != "" {
		r.mu.Lock()
		r.latest = &snap
		r.mu.Unlock()
		select {
		case r.dirty <- struct{}{}:
		default:
		}
	}
	if r.opts.Snapshots && snap.Reason != publisher.ReasonHeartbeat {
		r.enqueue(record{snap: &snap})
	}
}

// OnHandClosed queues the hand for storage
func (r *Recorder) OnHandClosed(hand handfsm.HandState) {
	r.enqueue(record{hand: &hand})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case <-r.quit:
		r.dropped.Add(1)
		return
	default:
	}
	select {
	case r.records <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("Store is falling behind, dropping records", "dropped", n)
		}
	}
}

// Run writes queued records until Close is called, then flushes what is
// left and returns.
func (r *Recorder) Run() error {
	for {
		select {
		case rec := <-r.records:
			r.write(rec)
		case <-r.dirty:
			r.writeSnapshotFile()
		case <-r.quit:
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					r.writeSnapshotFile()
					r.logger.Info("Recorder stopped", "written", r.written.Load(), "dropped", r.dropped.Load())
					return nil
				}
			}
		}
	}
}

// Close stops the recorder. Records queued before Close are still written.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.quit) })
}

// Dropped returns how many records were discarded
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many records reached the store
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case rec.snap != nil:
		err = r.store.SaveSnapshot(ctx, r.session, *rec.snap)
	case rec.hand != nil:
		err = r.store.SaveHand(ctx, r.session, *rec.hand)
		if err == nil {
			r.logger.Debug("Hand stored", "hand_id", rec.hand.HandID)
		}
	}
	if err != nil {
		r.logger.Error("Failed to store record", "error", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) writeSnapshotFile() {
	r.mu.Lock()
	snap := r.latest
	r.latest = nil
	r.mu.Unlock()
	if snap == nil {
		return
	}
	if err := fileutil.WriteJSONAtomic(r.opts.SnapshotFile, snap); err != nil {
		r.logger.Error("Failed to write snapshot file", "error", err)
	}
}

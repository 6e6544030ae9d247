// Package handhistory archives closed hands as numbered TOML sections, one
// file per capture session. Hands are buffered and appended in batches.
package handhistory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
)

// maxFailures is how many flushes in a row may fail before archiving stops.
const maxFailures = 3

// Archive is a publisher.Monitor that buffers closed hands and appends them
// to the session file.
type Archive struct {
	publisher.NullMonitor

	cfg     Config
	logger  *log.Logger
	clock   quartz.Clock
	outPath string

	mu       sync.Mutex
	flushMu  sync.Mutex
	buffer   []Record
	section  int
	failures int
	disabled bool
	flushReq chan struct{}
}

// New creates an archive, continuing the section numbering of an existing file
func New(cfg Config, logger *log.Logger) (*Archive, error) {
	if cfg.Session == "" {
		return nil, errors.New("handhistory: session is required")
	}
	if cfg.Dir == "" {
		cfg.Dir = "hands"
	}
	if cfg.FlushHands <= 0 {
		cfg.FlushHands = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("handhistory: create dir: %w", err)
	}
	outPath := filepath.Join(cfg.Dir, fmt.Sprintf("session-%s.toml", cfg.Session))
	section, err := lastSection(outPath)
	if err != nil {
		return nil, fmt.Errorf("handhistory: read sections: %w", err)
	}

	return &Archive{
		cfg:      cfg,
		logger:   logger.WithPrefix("archive"),
		clock:    cfg.Clock,
		outPath:  outPath,
		buffer:   make([]Record, 0, cfg.FlushHands),
		section:  section,
		flushReq: make(chan struct{}, 1),
	}, nil
}

// Path returns the archive file
func (a *Archive) Path() string { return a.outPath }

// OnHandClosed buffers the hand and asks for a flush when the batch is full
func (a *Archive) OnHandClosed(hand handfsm.HandState) {
	a.mu.Lock()
	if a.disabled {
		a.mu.Unlock()
		return
	}
	a.buffer = append(a.buffer, NewRecord(a.cfg.Session, hand, a.clock.Now()))
	full := len(a.buffer) >= a.cfg.FlushHands
	a.mu.Unlock()

	if full {
		select {
		case a.flushReq <- struct{}{}:
		default:
		}
	}
}

// Run flushes on the interval and on request until ctx is done, then
// flushes once more.
func (a *Archive) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.cfg.FlushInterval, "archive")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush()
			return nil
		case <-ticker.C:
			a.flush()
		case <-a.flushReq:
			a.flush()
		}
	}
}

func (a *Archive) flush() {
	err := a.Flush()
	if err != nil {
		a.logger.Error("Hand archive flush failed", "error", err)
	}
	if disabled, dropped := a.handleFlushResult(err); disabled {
		a.logger.Error("Hand archiving disabled after repeated failures", "dropped_hands", dropped)
	}
}

// Flush appends buffered hands to the archive file
func (a *Archive) Flush() error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if a.disabled || len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	hands := append([]Record(nil), a.buffer...)
	base := a.section
	a.mu.Unlock()

	file, err := os.OpenFile(a.outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	written := 0
	for _, hand := range hands {
		if err := writeSection(w, base+written+1, hand); err != nil {
			break
		}
		written++
	}
	err = w.Flush()
	if err != nil {
		written = 0
	}
	a.finishFlush(written, base+written)
	if written < len(hands) && err == nil {
		err = fmt.Errorf("handhistory: wrote %d of %d hands", written, len(hands))
	}
	if written > 0 {
		a.logger.Debug("Hands archived", "count", written, "path", a.outPath)
	}
	return err
}

func (a *Archive) finishFlush(flushed, last int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = a.buffer[flushed:]
	if last > a.section {
		a.section = last
	}
}

// handleFlushResult counts consecutive failures and disables the archive
// once there are too many, dropping whatever is still buffered.
func (a *Archive) handleFlushResult(err error) (disabled bool, dropped int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err == nil {
		a.failures = 0
		return false, 0
	}
	a.failures++
	if a.failures >= maxFailures && !a.disabled {
		dropped = len(a.buffer)
		a.buffer = nil
		a.disabled = true
		return true, dropped
	}
	return false, 0
}

// Disabled reports whether archiving stopped after repeated failures
func (a *Archive) Disabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabled
}

// Pending returns the number of buffered hands
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Close flushes remaining hands
func (a *Archive) Close() error {
	return a.Flush()
}

func writeSection(w *bufio.Writer, section int, rec Record) error {
	return toml.NewEncoder(w).Encode(map[string]Record{strconv.Itoa(section): rec})
}

// Read loads every hand from an archive file in section order
func Read(path string) ([]Record, error) {
	var sections map[string]Record
	if _, err := toml.DecodeFile(path, &sections); err != nil {
		return nil, fmt.Errorf("handhistory: decode %s: %w", filepath.Base(path), err)
	}

	keys := make([]int, 0, len(sections))
	for k := range sections {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("handhistory: unexpected section %q", k)
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, sections[strconv.Itoa(k)])
	}
	return out, nil
}

func lastSection(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	last := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) >= 3 && line[0] == '[' && line[1] != '[' && line[len(line)-1] == ']' {
			if n, err := strconv.Atoi(line[1 : len(line)-1]); err == nil && n > last {
				last = n
			}
		}
	}
	return last, scanner.Err()
}

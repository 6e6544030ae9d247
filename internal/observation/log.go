package observation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// LogWriter appends observations to a JSON-lines log so a live session can
// be replayed later. It is safe for concurrent use.
type LogWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	n   int
}

// NewLogWriter creates a log writer on top of w
func NewLogWriter(w io.Writer) *LogWriter {
	bw := bufio.NewWriter(w)
	return &LogWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends a single observation
func (l *LogWriter) Write(obs Observation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(obs); err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	l.n++
	return nil
}

// Count returns the number of observations written
func (l *LogWriter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Flush writes buffered data to the underlying writer
func (l *LogWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Flush()
}

// ReadLog streams observations from a JSON-lines log, calling fn for each
// one in file order. Lines that fail validation are reported through
// skip (if non-nil) and otherwise ignored.
func ReadLog(r io.Reader, fn func(Observation) error, skip func(line int, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var obs Observation
		err := json.Unmarshal(raw, &obs)
		if err == nil {
			obs, err = obs.Normalize()
		}
		if err != nil {
			if skip != nil {
				skip(line, err)
			}
			continue
		}

		if err := fn(obs); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read observation log: %w", err)
	}
	return nil
}

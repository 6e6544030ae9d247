package handhistory

import (
	"time"

	"github.com/coder/quartz"
)

// Config configures an archive
type Config struct {
	Dir string
	// Session names the archive file, session-<id>.toml.
	Session string
	// FlushHands requests a flush once this many hands are buffered.
	FlushHands int
	// FlushInterval flushes whatever is buffered on a timer.
	FlushInterval time.Duration
	Clock         quartz.Clock
}

// Record is one archived hand
type Record struct {
	HandID       uint64       `toml:"hand_id"`
	Session      string       `toml:"session"`
	StartedAt    time.Time    `toml:"started_at"`
	ClosedAt     time.Time    `toml:"closed_at"`
	ArchivedAt   time.Time    `toml:"archived_at"`
	Phase        string       `toml:"phase"`
	Pot          float64      `toml:"pot"`
	Board        []string     `toml:"board"`
	HandStrength string       `toml:"hand_strength,omitempty"`
	Players      []SeatRecord `toml:"players"`
}

// SeatRecord is one seat at the end of a hand
type SeatRecord struct {
	Seat      int      `toml:"seat"`
	Name      string   `toml:"name,omitempty"`
	Stack     float64  `toml:"stack"`
	Bet       float64  `toml:"bet"`
	Active    bool     `toml:"active"`
	HoleCards []string `toml:"hole_cards,omitempty"`
	// Category is the preflop bucket when both hole cards were seen.
	Category string `toml:"category,omitempty"`
	// BestHand describes the best five cards when the full board and both
	// hole cards were seen.
	BestHand string `toml:"best_hand,omitempty"`
}

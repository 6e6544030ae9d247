// Package publisher turns the engine's working state into immutable,
// versioned snapshots and delivers them to monitors.
package publisher

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/lox/tablesight/internal/handfsm"
)

// TrustLevel is the coarse health of the reconstructed state
type TrustLevel int

const (
	TrustOK TrustLevel = iota
	TrustDegraded
	TrustLost
)

var trustNames = [...]string{"OK", "DEGRADED", "LOST"}

func (t TrustLevel) String() string {
	if t < 0 || int(t) >= len(trustNames) {
		return fmt.Sprintf("TrustLevel(%d)", int(t))
	}
	return trustNames[t]
}

// MarshalText implements encoding.TextMarshaler
func (t TrustLevel) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TrustLevel) UnmarshalText(text []byte) error {
	for i, name := range trustNames {
		if name == string(text) {
			*t = TrustLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown trust level %q", text)
}

// Reason says why a snapshot was published
type Reason string

const (
	ReasonTransition Reason = "transition"
	ReasonHeartbeat  Reason = "heartbeat"
	ReasonShutdown   Reason = "shutdown"
)

// Field status markers
const (
	StatusOK        = "OK"
	StatusStale     = "STALE"
	StatusContested = "CONTESTED"
)

// FieldStatus describes one field's estimate at publish time
type FieldStatus struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	Misses     int     `json:"misses,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Diagnostic codes
const (
	DiagPhaseSkip     = "PHASE_SKIP"
	DiagContested     = "CONTESTED"
	DiagPotDecrease   = "POT_DECREASE"
	DiagBoardArtifact = "BOARD_ARTIFACT"
	DiagLost          = "LOST"
	DiagRecovered     = "RECOVERED"
	DiagQueueOverflow = "QUEUE_OVERFLOW"
)

// Diagnostic is a notable event that does not change the state by itself
type Diagnostic struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	HandID  uint64    `json:"hand_id"`
	At      time.Time `json:"at"`
}

// Snapshot is an immutable, versioned publication of the reconstructed state
type Snapshot struct {
	Version     uint64                 `json:"version"`
	PublishedAt time.Time              `json:"published_at"`
	Reason      Reason                 `json:"reason"`
	Hand        handfsm.HandState      `json:"hand"`
	Trust       TrustLevel             `json:"trust_level"`
	Fields      map[string]FieldStatus `json:"fields,omitempty"`
	Changes     []string               `json:"changes,omitempty"`
	Diagnostics []Diagnostic           `json:"diagnostics,omitempty"`
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Hand = s.Hand.Clone()
	out.Fields = maps.Clone(s.Fields)
	out.Changes = slices.Clone(s.Changes)
	out.Diagnostics = slices.Clone(s.Diagnostics)
	return out
}

// HasDiagnostic reports whether the snapshot carries a diagnostic with code
func (s Snapshot) HasDiagnostic(code string) bool {
	return slices.ContainsFunc(s.Diagnostics, func(d Diagnostic) bool { return d.Code == code })
}

// diff lists what changed between two snapshots, in a stable order.
func diff(prev *Snapshot, next *Snapshot) []string {
	if prev == nil {
		return []string{"initial"}
	}
	var changes []string
	add := func(cond bool, name string) {
		if cond {
			changes = append(changes, name)
		}
	}

	a, b := prev.Hand, next.Hand
	add(a.HandID != b.HandID, "hand_id")
	add(a.Phase != b.Phase, "phase")
	add(prev.Trust != next.Trust, "trust_level")
	add(a.PotSize != b.PotSize, "pot_size")
	add(!slices.Equal(a.CommunityCards, b.CommunityCards), "community_cards")
	add(a.TimerRemaining != b.TimerRemaining, "timer_remaining")
	add(a.CurrentPlayer != b.CurrentPlayer, "current_player")
	add(!slices.Equal(a.AvailableActions, b.AvailableActions), "available_actions")
	add(a.HandStrength != b.HandStrength, "hand_strength")
	for i := range b.Players {
		pa, pb := a.Players[i], b.Players[i]
		prefix := fmt.Sprintf("player[%d].", i)
		add(pa.Name != pb.Name, prefix+"name")
		add(pa.StackSize != pb.StackSize, prefix+"stack")
		add(pa.CurrentBet != pb.CurrentBet, prefix+"current_bet")
		add(pa.HoleCards != pb.HoleCards, prefix+"hole_cards")
		add(pa.IsActive != pb.IsActive, prefix+"active")
	}
	return changes
}

// Package handfsm detects hand boundaries and street transitions from the
// validated table view and owns the current HandState.
package handfsm

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/validator"
	"github.com/lox/tablesight/poker"
)

// Transition is one committed phase change
type Transition struct {
	From   Phase
	To     Phase
	HandID uint64
	At     time.Time
	Reason string
	// Skip marks transitions made while catching up over missed streets.
	Skip bool
	// State is a deep copy of the hand right after the transition.
	State HandState
}

// Result is everything one step decided
type Result struct {
	Transitions []Transition
	// Closed is the final state of a hand that ended this step.
	Closed *HandState
	// Started is set when a new hand began this step.
	Started bool
	// ResetHand asks the caller to forget hand-scoped observations.
	ResetHand bool
	// LostChanged is set when the lost flag flipped this step.
	LostChanged bool
}

type residue struct {
	hole     [observation.NumPlayers][observation.NumHoleCards]HoleCard
	pot      float64
	potKnown bool
	strength string
}

// Machine is the hand-boundary state machine. It is driven once per fusion
// cycle and is not safe for concurrent use.
type Machine struct {
	cfg    config.Fusion
	logger *log.Logger

	phase  Phase
	hand   HandState
	lastID uint64
	lost   bool

	lastActivity time.Time
	lastProgress time.Time
	potSeen      bool

	residue residue
}

// NewMachine creates a machine waiting for the first hand
func NewMachine(cfg config.Fusion, logger *log.Logger) *Machine {
	m := &Machine{
		cfg:    cfg,
		logger: logger.WithPrefix("hand"),
		hand:   newHandState(),
	}
	return m
}

// Phase returns the current phase
func (m *Machine) Phase() Phase { return m.phase }

// Lost reports whether no hand progress was seen for longer than the hand timeout
func (m *Machine) Lost() bool { return m.lost }

// HandID returns the id of the current hand, or of the last one while waiting
func (m *Machine) HandID() uint64 { return m.lastID }

// CommunityCards returns a copy of the board committed for the current hand
func (m *Machine) CommunityCards() []poker.Card {
	return slices.Clone(m.hand.CommunityCards)
}

// Current returns a deep copy of the current hand state
func (m *Machine) Current() HandState {
	m.dedupe()
	return m.hand.Clone()
}

// Step evaluates the transition rules against one validated view. changed
// lists the fields whose smoothed value changed since the previous step.
func (m *Machine) Step(v *validator.View, changed []observation.FieldID) Result {
	now := v.At
	if m.lastProgress.IsZero() {
		m.lastProgress, m.lastActivity = now, now
	}

	activity, progress := classify(changed)
	if activity {
		m.lastActivity = now
	}
	if progress && m.phase.InHand() {
		m.lastProgress = now
	}

	var res Result
	wasLost := m.lost
	if m.lost && progress && m.phase.InHand() {
		m.lost = false
		m.logger.Info("Hand progress resumed", "hand_id", m.hand.HandID, "phase", m.phase)
	}

	turnover := m.phase.InHand() && m.turnover(v)
	m.refreshSession(v)
	if m.phase.InHand() && !turnover {
		m.refreshHand(v)
	}

	switch m.phase {
	case WaitingForHand:
		m.tryStart(v, &res)
	case Showdown:
		if turnover || m.quiet(now) {
			reason := "quiet period elapsed"
			if turnover {
				reason = "new deal"
			}
			m.close(v, reason, &res)
			if turnover {
				m.tryStart(v, &res)
				res.ResetHand = !res.Started
			}
		}
	default:
		m.advance(v, &res)
		if reason := m.showdownSignal(v, turnover); reason != "" {
			m.emit(&res, Showdown, reason, false, now)
		}
	}

	if len(res.Transitions) > 0 {
		m.lastProgress = now
		m.lost = false
	}
	if !m.lost && now.Sub(m.lastProgress) >= m.cfg.HandTimeout {
		m.lost = true
		m.logger.Warn("No hand progress, state is lost",
			"hand_id", m.hand.HandID, "phase", m.phase, "idle", now.Sub(m.lastProgress))
	}
	res.LostChanged = wasLost != m.lost
	m.dedupe()
	return res
}

// classify splits changed fields into activity, which keeps a showdown
// open, and progress, which proves a hand is still live.
func classify(changed []observation.FieldID) (activity, progress bool) {
	for _, f := range changed {
		switch f.Kind {
		case observation.KindCommunityCard, observation.KindHoleCard,
			observation.KindPotSize, observation.KindCurrentBet, observation.KindHandStrength:
			activity, progress = true, true
		case observation.KindTimerRemaining, observation.KindCurrentPlayer, observation.KindAvailableActions:
			progress = true
		}
	}
	return activity, progress
}

func (m *Machine) quiet(now time.Time) bool {
	return !m.lost && now.Sub(m.lastActivity) >= m.cfg.QuietPeriod
}

// tryStart begins a hand on fresh hole-card or pot activity with an empty
// board. Values left on screen by the hand that just closed do not count.
func (m *Machine) tryStart(v *validator.View, res *Result) {
	if v.BoardCount() != 0 {
		return
	}

	fresh := false
	for p := range v.Seats {
		for i, s := range v.Seats[p].Hole {
			left := m.residue.hole[p][i]
			if s.Present && !s.Stale && !(left.Seen && left.Card == s.Card) {
				fresh = true
			}
		}
	}
	if v.Pot.Known && !v.Pot.Stale && v.Pot.Value > 0 && !(m.residue.potKnown && v.Pot.Value == m.residue.pot) {
		fresh = true
	}
	if !fresh {
		return
	}

	m.lastID++
	m.hand = newHandState()
	m.hand.HandID = m.lastID
	m.hand.StartedAt = v.At
	m.potSeen = false
	m.residue.hole = [observation.NumPlayers][observation.NumHoleCards]HoleCard{}
	m.residue.pot, m.residue.potKnown = 0, false
	m.refreshSession(v)
	m.refreshHand(v)
	m.lastActivity = v.At

	res.Started = true
	m.emit(res, Preflop, "hand started", false, v.At)
}

// advance commits street changes. A board that jumps more than one street
// is walked through every street in between, each flagged as a skip.
func (m *Machine) advance(v *validator.View, res *Result) {
	n := v.BoardCount()
	if n < m.phase.BoardSize() || n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		if v.Board[i].Confidence < m.cfg.PublishThreshold {
			return
		}
	}

	if n == m.phase.BoardSize() {
		// Same street: accept corrections to cards already shown.
		m.hand.CommunityCards = v.BoardCards(n)
		return
	}

	target := streetFor(n)
	skip := target-m.phase > 1
	for ph := m.phase + 1; ph <= target; ph++ {
		m.hand.CommunityCards = v.BoardCards(ph.BoardSize())
		m.emit(res, ph, fmt.Sprintf("board shows %d cards", ph.BoardSize()), skip, v.At)
	}
}

func (m *Machine) showdownSignal(v *validator.View, turnover bool) string {
	switch {
	case v.HandStrength != "" && v.HandStrength != m.residue.strength:
		return "hand strength shown"
	case m.potSeen && v.Pot.Known && v.Pot.Value == 0:
		return "pot collected"
	case m.phase >= Flop && v.Board[0].Empty && v.Board[1].Empty && v.Board[2].Empty:
		return "board cleared"
	case turnover:
		return "hole cards replaced"
	}
	return ""
}

// turnover reports whether some seat now shows two different hole cards
// from the two recorded for this hand, which only happens on a new deal.
func (m *Machine) turnover(v *validator.View) bool {
	for p, seat := range v.Seats {
		recorded := m.hand.Players[p].HoleCards
		if !recorded[0].Seen || !recorded[1].Seen {
			continue
		}
		if !seat.Hole[0].Present || !seat.Hole[1].Present || seat.Hole[0].Stale || seat.Hole[1].Stale {
			continue
		}
		was := []poker.Card{recorded[0].Card, recorded[1].Card}
		if !slices.Contains(was, seat.Hole[0].Card) && !slices.Contains(was, seat.Hole[1].Card) {
			return true
		}
	}
	return false
}

func (m *Machine) close(v *validator.View, reason string, res *Result) {
	m.hand.ClosedAt = v.At
	m.dedupe()
	closed := m.hand.Clone()
	res.Closed = &closed
	res.ResetHand = true

	for p := range m.hand.Players {
		m.residue.hole[p] = m.hand.Players[p].HoleCards
	}
	m.residue.pot, m.residue.potKnown = v.Pot.Value, v.Pot.Known
	if v.StrengthKnown {
		m.residue.strength = v.HandStrength
	}

	m.logger.Info("Hand closed", "hand_id", closed.HandID, "reason", reason, "pot", closed.PotSize)

	waiting := newHandState()
	waiting.HandID = m.lastID
	m.hand = waiting
	m.refreshSession(v)
	m.emit(res, WaitingForHand, reason, false, v.At)
}

func (m *Machine) emit(res *Result, to Phase, reason string, skip bool, at time.Time) {
	from := m.phase
	m.phase = to
	m.hand.Phase = to
	m.dedupe()

	if skip {
		m.logger.Warn("Phase skipped", "hand_id", m.hand.HandID, "from", from, "to", to, "reason", reason)
	} else {
		m.logger.Debug("Phase transition", "hand_id", m.hand.HandID, "from", from, "to", to, "reason", reason)
	}
	res.Transitions = append(res.Transitions, Transition{
		From:   from,
		To:     to,
		HandID: m.hand.HandID,
		At:     at,
		Reason: reason,
		Skip:   skip,
		State:  m.hand.Clone(),
	})
}

// refreshSession copies fields that outlive a hand
func (m *Machine) refreshSession(v *validator.View) {
	for p, seat := range v.Seats {
		pl := &m.hand.Players[p]
		if seat.Name != "" {
			pl.Name = seat.Name
		}
		if seat.Stack.Known {
			pl.StackSize = seat.Stack.Value
		}
		pl.IsActive = !seat.ActiveKnown || seat.Active
	}
}

// refreshHand copies the live hand-scoped fields. Community cards are only
// changed by street transitions.
func (m *Machine) refreshHand(v *validator.View) {
	h := &m.hand
	h.PotSize = 0
	if v.Pot.Known {
		h.PotSize = v.Pot.Value
		if v.Pot.Value > 0 {
			m.potSeen = true
		}
	}
	h.TimerRemaining = 0
	if v.Timer.Known {
		h.TimerRemaining = v.Timer.Value
	}
	h.CurrentPlayer = v.CurrentPlayer
	h.AvailableActions = slices.Clone(v.Actions)
	if v.HandStrength != m.residue.strength {
		h.HandStrength = v.HandStrength
	}

	for p, seat := range v.Seats {
		pl := &h.Players[p]
		pl.CurrentBet = 0
		if seat.Bet.Known {
			pl.CurrentBet = seat.Bet.Value
		}
		pl.IsCurrent = p == v.CurrentPlayer
		for i, s := range seat.Hole {
			pl.HoleCards[i] = HoleCard{Card: s.Card, Seen: s.Present}
		}
	}
}

// dedupe hides any hole card that duplicates a committed board card, so a
// committed state never shows the same card twice.
func (m *Machine) dedupe() {
	seen := make(map[poker.Card]bool, 11)
	for _, c := range m.hand.CommunityCards {
		seen[c] = true
	}
	for p := range m.hand.Players {
		for i, h := range m.hand.Players[p].HoleCards {
			if !h.Seen {
				continue
			}
			if seen[h.Card] {
				m.hand.Players[p].HoleCards[i] = HoleCard{}
				continue
			}
			seen[h.Card] = true
		}
	}
}

// Package validator applies cross-field consistency rules to the per-cycle
// table view: card uniqueness, pot monotonicity, stack bounds and board
// cardinality. Violations are never errors; affected fields are marked
// contested and the view is repaired in place.
package validator

import (
	"strconv"
	"strings"
	"time"

	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/smoother"
	"github.com/lox/tablesight/poker"
)

// Slot is one card position as seen this cycle.
type Slot struct {
	Card poker.Card
	// Present is true when a card is asserted in the slot.
	Present bool
	// Empty is true when the slot was positively observed to be empty.
	Empty      bool
	Confidence float64
	Stale      bool
}

// Amount is a numeric field as seen this cycle.
type Amount struct {
	Value      float64
	Raw        float64
	Known      bool
	Stale      bool
	Confidence float64
}

// Seat is one table position as seen this cycle.
type Seat struct {
	Name        string
	Stack       Amount
	Bet         Amount
	Active      bool
	ActiveKnown bool
	Hole        [observation.NumHoleCards]Slot
}

// View is the assembled table state for one fusion cycle.
type View struct {
	At            time.Time
	Board         [observation.NumCommunityCards]Slot
	Seats         [observation.NumPlayers]Seat
	Pot           Amount
	Timer         Amount
	CurrentPlayer int
	Actions       []string
	HandStrength  string
	// StrengthKnown distinguishes an observed empty hand-strength field from
	// one never seen.
	StrengthKnown bool
	// Committed lists the board cards already published for the current
	// hand. They win every uniqueness conflict.
	Committed []poker.Card
}

// BoardCount returns the number of leading present board cards
func (v *View) BoardCount() int {
	n := 0
	for _, s := range v.Board {
		if !s.Present {
			break
		}
		n++
	}
	return n
}

// BoardCards returns the first n present board cards
func (v *View) BoardCards(n int) []poker.Card {
	cards := make([]poker.Card, 0, n)
	for i := 0; i < n && i < len(v.Board); i++ {
		if v.Board[i].Present {
			cards = append(cards, v.Board[i].Card)
		}
	}
	return cards
}

// Assemble builds a view from the current smoother estimates
func Assemble(estimates map[observation.FieldID]smoother.Estimate, at time.Time) View {
	v := View{At: at, CurrentPlayer: -1}

	for i := range v.Board {
		v.Board[i] = slotFrom(estimates[observation.CommunityCard(i)])
	}
	for p := range v.Seats {
		seat := &v.Seats[p]
		if est := estimates[observation.PlayerName(p)]; est.Known {
			seat.Name = est.Value
		}
		seat.Stack = amountFrom(estimates[observation.Stack(p)])
		seat.Bet = amountFrom(estimates[observation.CurrentBet(p)])
		if est := estimates[observation.PlayerActive(p)]; est.Known {
			seat.Active = est.Value == "true"
			seat.ActiveKnown = true
		}
		for i := range seat.Hole {
			seat.Hole[i] = slotFrom(estimates[observation.HoleCard(p, i)])
		}
	}

	v.Pot = amountFrom(estimates[observation.PotSize])
	v.Timer = amountFrom(estimates[observation.TimerRemaining])
	if est := estimates[observation.CurrentPlayer]; est.Known {
		if p, err := strconv.Atoi(est.Value); err == nil {
			v.CurrentPlayer = p
		}
	}
	if est := estimates[observation.AvailableActions]; est.Known && est.Value != "" {
		v.Actions = strings.Split(est.Value, ",")
	}
	if est := estimates[observation.HandStrength]; est.Known {
		v.HandStrength = est.Value
		v.StrengthKnown = true
	}
	return v
}

func slotFrom(est smoother.Estimate) Slot {
	if !est.Known {
		return Slot{}
	}
	s := Slot{Confidence: est.Confidence, Stale: est.Stale}
	if est.Value == observation.EmptySlot {
		s.Empty = true
		return s
	}
	c, err := poker.ParseCard(est.Value)
	if err != nil {
		return Slot{}
	}
	s.Card = c
	s.Present = true
	return s
}

func amountFrom(est smoother.Estimate) Amount {
	if !est.Known {
		return Amount{}
	}
	raw, err := observation.ParseAmount(est.LastRaw)
	if err != nil {
		raw = est.Number
	}
	return Amount{
		Value:      est.Number,
		Raw:        raw,
		Known:      true,
		Stale:      est.Stale,
		Confidence: est.Confidence,
	}
}

package validator

import (
	"fmt"
	"math"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/poker"
)

// Report describes what the rules found in one cycle.
type Report struct {
	// Contested maps each provisionally held field to the reason.
	Contested map[observation.FieldID]string
	// Rejected lists transient artifacts that were discarded without a flag.
	Rejected []string
	// PotDecrease is set when the pot went down within a betting round.
	PotDecrease bool
}

func (r *Report) contest(f observation.FieldID, format string, args ...any) {
	if r.Contested == nil {
		r.Contested = make(map[observation.FieldID]string)
	}
	r.Contested[f] = fmt.Sprintf(format, args...)
}

// Degraded reports whether any rule fired that lowers trust
func (r Report) Degraded() bool {
	return len(r.Contested) > 0 || r.PotDecrease
}

// Validator keeps the last-known-good values the rules fall back on. It
// belongs to the fusion goroutine.
type Validator struct {
	logger *log.Logger

	prevBoard [observation.NumCommunityCards]Slot

	pot      float64
	potKnown bool
	potRound int

	stacks     [observation.NumPlayers]float64
	stackKnown [observation.NumPlayers]bool
	bets       [observation.NumPlayers]float64
	betKnown   [observation.NumPlayers]bool
}

// New creates a validator
func New(logger *log.Logger) *Validator {
	return &Validator{logger: logger.WithPrefix("validator"), potRound: -1}
}

// Check applies every rule to v, repairing it in place.
func (val *Validator) Check(v *View) Report {
	var r Report
	val.checkCardinality(v, &r)
	val.checkUniqueness(v, &r)
	val.checkPot(v, &r)
	val.checkStacks(v, &r)
	return r
}

// ResetHand forgets hand-scoped history. Stacks carry over between hands.
func (val *Validator) ResetHand() {
	val.prevBoard = [observation.NumCommunityCards]Slot{}
	val.pot, val.potKnown, val.potRound = 0, false, -1
	val.bets, val.betKnown = [observation.NumPlayers]float64{}, [observation.NumPlayers]bool{}
}

// checkCardinality keeps the previous board when the visible cards do not
// form a legal board: 0, 3, 4 or 5 cards filling the leading slots.
func (val *Validator) checkCardinality(v *View, r *Report) {
	count, contiguous := 0, true
	for i, s := range v.Board {
		if s.Present {
			count++
			if i >= count {
				contiguous = false
			}
		}
	}
	legal := contiguous && (count == 0 || count >= 3)
	if !legal {
		r.Rejected = append(r.Rejected, fmt.Sprintf("board with %d cards", count))
		val.logger.Debug("Board artifact rejected", "cards", count, "contiguous", contiguous)
		v.Board = val.prevBoard
		return
	}
	val.prevBoard = v.Board
}

type assertion struct {
	field observation.FieldID
	conf  float64
	clear func()
}

// checkUniqueness resolves cards asserted in more than one place. A committed
// board card always wins; otherwise the higher confidence assertion wins, ties
// go to the board, and the loser is shown unseen.
func (val *Validator) checkUniqueness(v *View, r *Report) {
	owners := make(map[poker.Card]assertion)

	claim := func(c poker.Card, a assertion) {
		prev, ok := owners[c]
		if !ok {
			owners[c] = a
			return
		}
		winner, loser := prev, a
		if a.conf > prev.conf {
			winner, loser = a, prev
		}
		owners[c] = winner
		loser.clear()
		r.contest(loser.field, "%s also asserted by %s", c, winner.field)
		val.logger.Debug("Duplicate card", "card", c, "kept", winner.field, "contested", loser.field)
	}

	// Board first so that equal confidence resolves in its favour.
	for i := range v.Board {
		s := &v.Board[i]
		if s.Present {
			conf := s.Confidence
			if slices.Contains(v.Committed, s.Card) {
				conf = math.Inf(1)
			}
			claim(s.Card, assertion{observation.CommunityCard(i), conf, func() { s.Present = false }})
		}
	}
	for p := range v.Seats {
		for i := range v.Seats[p].Hole {
			s := &v.Seats[p].Hole[i]
			if s.Present {
				claim(s.Card, assertion{observation.HoleCard(p, i), s.Confidence, func() { s.Present = false }})
			}
		}
	}
}

// checkPot flags a pot that shrinks within a betting round, holding the last
// good value. A run of zero readings is the pot being collected and is let
// through once the smoothed pot has itself reached zero; until then a zero is
// indistinguishable from a misread.
func (val *Validator) checkPot(v *View, r *Report) {
	if !v.Pot.Known {
		return
	}
	if v.Pot.Raw < 0 {
		r.contest(observation.PotSize, "negative pot reading %v", v.Pot.Raw)
		if val.potKnown {
			v.Pot.Value = val.pot
		}
		return
	}
	round := v.BoardCount()
	if val.potKnown && round == val.potRound && v.Pot.Value < val.pot {
		if v.Pot.Raw == 0 && v.Pot.Value == 0 {
			val.pot = 0
			return
		}
		r.PotDecrease = true
		r.contest(observation.PotSize, "pot decreased from %v to %v", val.pot, v.Pot.Value)
		val.logger.Debug("Pot decrease flagged", "last_good", val.pot, "seen", v.Pot.Value, "raw", v.Pot.Raw)
		v.Pot.Value = val.pot
		return
	}
	val.pot, val.potKnown, val.potRound = v.Pot.Value, true, round
}

// checkStacks holds stacks and bets at their last good value when a reading
// is negative.
func (val *Validator) checkStacks(v *View, r *Report) {
	for p := range v.Seats {
		seat := &v.Seats[p]
		if seen, bad := val.negative(&seat.Stack, &val.stacks[p], &val.stackKnown[p]); bad {
			r.contest(observation.Stack(p), "negative stack %v", seen)
		}
		if seen, bad := val.negative(&seat.Bet, &val.bets[p], &val.betKnown[p]); bad {
			r.contest(observation.CurrentBet(p), "negative bet %v", seen)
		}
	}
}

// negative clamps a to last when either its raw or smoothed value is below
// zero, returning the offending value. Otherwise a becomes the new last good
// value.
func (val *Validator) negative(a *Amount, last *float64, known *bool) (float64, bool) {
	if !a.Known {
		return 0, false
	}
	if seen := min(a.Raw, a.Value); seen < 0 {
		a.Value = 0
		if *known {
			a.Value = *last
		}
		return seen, true
	}
	*last, *known = a.Value, true
	return 0, false
}

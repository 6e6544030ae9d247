package handfsm

import "fmt"

// Phase is one stage of a hand's lifecycle
type Phase int

const (
	WaitingForHand Phase = iota
	Preflop
	Flop
	Turn
	River
	Showdown
)

var phaseNames = [...]string{"WAITING_FOR_HAND", "PREFLOP", "FLOP", "TURN", "RIVER", "SHOWDOWN"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// InHand reports whether a hand is live in this phase
func (p Phase) InHand() bool {
	return p >= Preflop && p <= Showdown
}

// BoardSize is the number of community cards a street shows
func (p Phase) BoardSize() int {
	switch p {
	case Flop:
		return 3
	case Turn:
		return 4
	case River:
		return 5
	}
	return 0
}

// streetFor maps a legal board size to its street.
func streetFor(cards int) Phase {
	switch cards {
	case 3:
		return Flop
	case 4:
		return Turn
	case 5:
		return River
	}
	return Preflop
}

package observation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Table geometry. Seats are fixed for the lifetime of a session.
const (
	NumPlayers        = 3
	NumCommunityCards = 5
	NumHoleCards      = 2
)

// ErrUnknownField is returned when a field identifier is not part of the closed set.
var ErrUnknownField = errors.New("unknown field")

// FieldKind enumerates every kind of perceptual fact the engine understands.
type FieldKind uint8

const (
	KindUnknown FieldKind = iota
	KindCommunityCard
	KindHoleCard
	KindStack
	KindCurrentBet
	KindPlayerName
	KindPlayerActive
	KindPotSize
	KindTimerRemaining
	KindCurrentPlayer
	KindAvailableActions
	KindHandStrength
)

var kindNames = map[FieldKind]string{
	KindCommunityCard:    "community_card",
	KindHoleCard:         "hole_card",
	KindStack:            "stack",
	KindCurrentBet:       "current_bet",
	KindPlayerName:       "name",
	KindPlayerActive:     "active",
	KindPotSize:          "pot_size",
	KindTimerRemaining:   "timer_remaining",
	KindCurrentPlayer:    "current_player",
	KindAvailableActions: "available_actions",
	KindHandStrength:     "hand_strength",
}

// String returns the textual name of the kind
func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsNumeric reports whether the kind is smoothed by exponential blending.
// Every other kind is treated as a discrete symbol and voted on.
func (k FieldKind) IsNumeric() bool {
	switch k {
	case KindStack, KindCurrentBet, KindPotSize, KindTimerRemaining:
		return true
	}
	return false
}

// IsCard reports whether the kind carries a card identity
func (k FieldKind) IsCard() bool {
	return k == KindCommunityCard || k == KindHoleCard
}

// IsHandScoped reports whether values of this kind belong to a single hand
// and must be forgotten when the hand closes. Stacks, names and seat activity
// carry over between hands.
func (k FieldKind) IsHandScoped() bool {
	switch k {
	case KindStack, KindPlayerName, KindPlayerActive:
		return false
	}
	return true
}

func (k FieldKind) perPlayer() bool {
	switch k {
	case KindHoleCard, KindStack, KindCurrentBet, KindPlayerName, KindPlayerActive:
		return true
	}
	return false
}

// FieldID identifies a single observable field. It is comparable and used as
// a map key. Player and Index are only meaningful for kinds that use them.
type FieldID struct {
	Kind   FieldKind
	Player int
	Index  int
}

// CommunityCard returns the field for board slot i
func CommunityCard(i int) FieldID { return FieldID{Kind: KindCommunityCard, Index: i} }

// HoleCard returns the field for hole card i of player p
func HoleCard(p, i int) FieldID { return FieldID{Kind: KindHoleCard, Player: p, Index: i} }

// Stack returns the stack field of player p
func Stack(p int) FieldID { return FieldID{Kind: KindStack, Player: p} }

// CurrentBet returns the current bet field of player p
func CurrentBet(p int) FieldID { return FieldID{Kind: KindCurrentBet, Player: p} }

// PlayerName returns the name field of player p
func PlayerName(p int) FieldID { return FieldID{Kind: KindPlayerName, Player: p} }

// PlayerActive returns the seat activity field of player p
func PlayerActive(p int) FieldID { return FieldID{Kind: KindPlayerActive, Player: p} }

// Singleton table-level fields.
var (
	PotSize          = FieldID{Kind: KindPotSize}
	TimerRemaining   = FieldID{Kind: KindTimerRemaining}
	CurrentPlayer    = FieldID{Kind: KindCurrentPlayer}
	AvailableActions = FieldID{Kind: KindAvailableActions}
	HandStrength     = FieldID{Kind: KindHandStrength}
)

// Valid reports whether the field is part of the closed field set
func (f FieldID) Valid() bool {
	switch f.Kind {
	case KindCommunityCard:
		return f.Player == 0 && f.Index >= 0 && f.Index < NumCommunityCards
	case KindHoleCard:
		return validPlayer(f.Player) && f.Index >= 0 && f.Index < NumHoleCards
	case KindStack, KindCurrentBet, KindPlayerName, KindPlayerActive:
		return validPlayer(f.Player) && f.Index == 0
	case KindPotSize, KindTimerRemaining, KindCurrentPlayer, KindAvailableActions, KindHandStrength:
		return f.Player == 0 && f.Index == 0
	}
	return false
}

func validPlayer(p int) bool { return p >= 0 && p < NumPlayers }

// String renders the canonical textual identifier, e.g. "player[1].hole_card[0]"
func (f FieldID) String() string {
	switch f.Kind {
	case KindCommunityCard:
		return fmt.Sprintf("community_card[%d]", f.Index)
	case KindHoleCard:
		return fmt.Sprintf("player[%d].hole_card[%d]", f.Player, f.Index)
	}
	if f.Kind.perPlayer() {
		return fmt.Sprintf("player[%d].%s", f.Player, f.Kind)
	}
	return f.Kind.String()
}

// MarshalText implements encoding.TextMarshaler
func (f FieldID) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrUnknownField, f)
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *FieldID) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldID(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFieldID parses a canonical field identifier.
func ParseFieldID(s string) (FieldID, error) {
	s = strings.TrimSpace(s)
	var id FieldID

	if rest, ok := strings.CutPrefix(s, "player["); ok {
		num, tail, ok := strings.Cut(rest, "].")
		if !ok {
			return FieldID{}, fmt.Errorf("%w: %q", ErrUnknownField, s)
		}
		p, err := strconv.Atoi(num)
		if err != nil {
			return FieldID{}, fmt.Errorf("%w: %q", ErrUnknownField, s)
		}
		id.Player = p

		if idx, ok := indexed(tail, "hole_card"); ok {
			id.Kind = KindHoleCard
			id.Index = idx
		} else {
			id.Kind = kindByName(tail)
			if !id.Kind.perPlayer() {
				id.Kind = KindUnknown
			}
		}
	} else if idx, ok := indexed(s, "community_card"); ok {
		id.Kind = KindCommunityCard
		id.Index = idx
	} else {
		id.Kind = kindByName(s)
		if id.Kind.perPlayer() || id.Kind == KindCommunityCard {
			id.Kind = KindUnknown
		}
	}

	if !id.Valid() {
		return FieldID{}, fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return id, nil
}

// indexed parses "name[i]" and returns i.
func indexed(s, name string) (int, bool) {
	rest, ok := strings.CutPrefix(s, name+"[")
	if !ok {
		return 0, false
	}
	num, ok := strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	return i, true
}

func kindByName(name string) FieldKind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// AllFields returns every field in the closed set in a stable order.
func AllFields() []FieldID {
	fields := make([]FieldID, 0, 32)
	for i := 0; i < NumCommunityCards; i++ {
		fields = append(fields, CommunityCard(i))
	}
	for p := 0; p < NumPlayers; p++ {
		for i := 0; i < NumHoleCards; i++ {
			fields = append(fields, HoleCard(p, i))
		}
		fields = append(fields, Stack(p), CurrentBet(p), PlayerName(p), PlayerActive(p))
	}
	return append(fields, PotSize, TimerRemaining, CurrentPlayer, AvailableActions, HandStrength)
}

package handfsm

import (
	"slices"
	"time"

	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/poker"
)

// Unseen is the textual form of a hole card that is not visible
const Unseen = "UNSEEN"

// HoleCard is one hole card slot. Slots that are not visible are explicit.
type HoleCard struct {
	Card poker.Card
	Seen bool
}

// MarshalText implements encoding.TextMarshaler
func (h HoleCard) MarshalText() ([]byte, error) {
	if !h.Seen {
		return []byte(Unseen), nil
	}
	return []byte(h.Card.Label()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *HoleCard) UnmarshalText(text []byte) error {
	if string(text) == Unseen {
		*h = HoleCard{}
		return nil
	}
	c, err := poker.ParseCard(string(text))
	if err != nil {
		return err
	}
	*h = HoleCard{Card: c, Seen: true}
	return nil
}

func (h HoleCard) String() string {
	if !h.Seen {
		return Unseen
	}
	return h.Card.String()
}

// Player is one table position. Identity is the position, not the name.
type Player struct {
	Position   int                                `json:"position"`
	Name       string                             `json:"name"`
	StackSize  float64                            `json:"stack_size"`
	HoleCards  [observation.NumHoleCards]HoleCard `json:"hole_cards"`
	CurrentBet float64                            `json:"current_bet"`
	IsActive   bool                               `json:"is_active"`
	IsCurrent  bool                               `json:"is_current"`
}

// VisibleHoleCards returns the seen hole cards
func (p Player) VisibleHoleCards() []poker.Card {
	var cards []poker.Card
	for _, h := range p.HoleCards {
		if h.Seen {
			cards = append(cards, h.Card)
		}
	}
	return cards
}

// HandState is the reconstructed state of one hand
type HandState struct {
	HandID           uint64                         `json:"hand_id"`
	Phase            Phase                          `json:"phase"`
	PotSize          float64                        `json:"pot_size"`
	CommunityCards   []poker.Card                   `json:"community_cards"`
	Players          [observation.NumPlayers]Player `json:"players"`
	TimerRemaining   float64                        `json:"timer_remaining"`
	CurrentPlayer    int                            `json:"current_player"`
	AvailableActions []string                       `json:"available_actions,omitempty"`
	HandStrength     string                         `json:"hand_strength,omitempty"`
	StartedAt        time.Time                      `json:"started_at,omitzero"`
	ClosedAt         time.Time                      `json:"closed_at,omitzero"`
}

// Clone returns a deep copy that shares no memory with h
func (h HandState) Clone() HandState {
	out := h
	out.CommunityCards = slices.Clone(h.CommunityCards)
	out.AvailableActions = slices.Clone(h.AvailableActions)
	if out.CommunityCards == nil {
		out.CommunityCards = []poker.Card{}
	}
	return out
}

// Cards returns every visible card of the hand, board first
func (h HandState) Cards() []poker.Card {
	cards := slices.Clone(h.CommunityCards)
	for _, p := range h.Players {
		cards = append(cards, p.VisibleHoleCards()...)
	}
	return cards
}

func newHandState() HandState {
	h := HandState{CommunityCards: []poker.Card{}, CurrentPlayer: -1}
	for i := range h.Players {
		h.Players[i].Position = i
	}
	return h
}

package handhistory

import (
	"time"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/poker"
)

// NewRecord converts a closed hand into its archived form
func NewRecord(session string, hand handfsm.HandState, archivedAt time.Time) Record {
	rec := Record{
		HandID:       hand.HandID,
		Session:      session,
		StartedAt:    hand.StartedAt.UTC(),
		ClosedAt:     hand.ClosedAt.UTC(),
		ArchivedAt:   archivedAt.UTC(),
		Phase:        hand.Phase.String(),
		Pot:          hand.PotSize,
		Board:        labels(hand.CommunityCards),
		HandStrength: hand.HandStrength,
		Players:      make([]SeatRecord, 0, len(hand.Players)),
	}

	for _, p := range hand.Players {
		seat := SeatRecord{
			Seat:   p.Position,
			Name:   p.Name,
			Stack:  p.StackSize,
			Bet:    p.CurrentBet,
			Active: p.IsActive,
		}
		hole := p.VisibleHoleCards()
		seat.HoleCards = labels(hole)
		if len(hole) == 2 {
			seat.Category = string(poker.Category(hole))
			if len(hand.CommunityCards) == 5 {
				if s, err := poker.Evaluate([2]poker.Card{hole[0], hole[1]}, hand.CommunityCards); err == nil {
					seat.BestHand = s.Description
				}
			}
		}
		rec.Players = append(rec.Players, seat)
	}
	return rec
}

func labels(cards []poker.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Label()
	}
	return out
}

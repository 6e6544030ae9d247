package poker

import (
	"fmt"

	ph "github.com/paulhankin/poker"
)

// toLib converts a card to the evaluator library representation.
// The library ranks aces as 1 and kings as 13.
func toLib(c Card) (ph.Card, error) {
	var s ph.Suit
	switch c.Suit {
	case Clubs:
		s = ph.Club
	case Diamonds:
		s = ph.Diamond
	case Hearts:
		s = ph.Heart
	case Spades:
		s = ph.Spade
	default:
		return 0, fmt.Errorf("%w: suit %d", ErrInvalidCard, c.Suit)
	}
	r := ph.Rank(c.Rank)
	if c.Rank == Ace {
		r = ph.Rank(1)
	}
	return ph.MakeCard(s, r)
}

// Strength is the evaluated best five-card hand for a seven-card holding.
type Strength struct {
	Score       int16  // higher is stronger
	Description string // e.g. "pair of tens"
}

// Evaluate returns the best-hand strength for two hole cards and a complete board.
func Evaluate(hole [2]Card, board []Card) (Strength, error) {
	if len(board) != 5 {
		return Strength{}, fmt.Errorf("board must have 5 cards, got %d", len(board))
	}

	var seven [7]ph.Card
	var seen [52]bool
	all := append([]Card{hole[0], hole[1]}, board...)
	for i, c := range all {
		if !c.IsValid() {
			return Strength{}, fmt.Errorf("%w: %v", ErrInvalidCard, c)
		}
		if seen[c.Index()] {
			return Strength{}, fmt.Errorf("duplicate card %s", c)
		}
		seen[c.Index()] = true
		lc, err := toLib(c)
		if err != nil {
			return Strength{}, err
		}
		seven[i] = lc
	}

	desc, err := ph.Describe(seven[:])
	if err != nil {
		return Strength{}, fmt.Errorf("describe hand: %w", err)
	}
	return Strength{Score: ph.Eval7(&seven), Description: desc}, nil
}

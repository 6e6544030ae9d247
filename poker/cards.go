package poker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCard is returned when a card label cannot be parsed.
var ErrInvalidCard = errors.New("invalid card")

// Suit represents a card suit
type Suit uint8

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

// String returns the symbol for the suit
func (s Suit) String() string {
	switch s {
	case Clubs:
		return "♣"
	case Diamonds:
		return "♦"
	case Hearts:
		return "♥"
	case Spades:
		return "♠"
	default:
		return "?"
	}
}

// Letter returns the single-letter ASCII form of the suit
func (s Suit) Letter() byte {
	switch s {
	case Clubs:
		return 'c'
	case Diamonds:
		return 'd'
	case Hearts:
		return 'h'
	case Spades:
		return 's'
	default:
		return '?'
	}
}

// IsRed returns true for hearts and diamonds
func (s Suit) IsRed() bool {
	return s == Hearts || s == Diamonds
}

// Rank represents a card rank, Two=2 through Ace=14
type Rank uint8

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

const rankChars = "23456789TJQKA"

// String returns the single-character form of the rank
func (r Rank) String() string {
	if r < Two || r > Ace {
		return "?"
	}
	return string(rankChars[r-Two])
}

// Card is a playing card. The zero value is not a valid card.
type Card struct {
	Rank Rank
	Suit Suit
}

// NewCard creates a card from rank and suit
func NewCard(rank Rank, suit Suit) Card {
	return Card{Rank: rank, Suit: suit}
}

// IsValid reports whether the card is one of the 52 real cards
func (c Card) IsValid() bool {
	return c.Rank >= Two && c.Rank <= Ace && c.Suit <= Spades
}

// String returns the display form of the card (e.g. "T♣")
func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}

// Label returns the ASCII form of the card (e.g. "Tc")
func (c Card) Label() string {
	return c.Rank.String() + string(c.Suit.Letter())
}

// Index returns a dense 0..51 index for the card
func (c Card) Index() int {
	return int(c.Suit)*13 + int(c.Rank-Two)
}

// MarshalText implements encoding.TextMarshaler using the ASCII label.
func (c Card) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidCard, c.Rank, c.Suit)
	}
	return []byte(c.Label()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Card) UnmarshalText(text []byte) error {
	parsed, err := ParseCard(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCard parses detector and OCR card labels. Accepted forms include
// "As", "Tc", "10c", "10♣", "4♦" and lower-case ranks.
func ParseCard(s string) (Card, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Card{}, fmt.Errorf("%w: empty", ErrInvalidCard)
	}

	runes := []rune(s)
	suitRune := runes[len(runes)-1]
	rankPart := strings.ToUpper(string(runes[:len(runes)-1]))

	var suit Suit
	switch suitRune {
	case 'c', 'C', '♣', '♧':
		suit = Clubs
	case 'd', 'D', '♦', '♢':
		suit = Diamonds
	case 'h', 'H', '♥', '♡':
		suit = Hearts
	case 's', 'S', '♠', '♤':
		suit = Spades
	default:
		return Card{}, fmt.Errorf("%w: unknown suit in %q", ErrInvalidCard, s)
	}

	if rankPart == "10" {
		rankPart = "T"
	}
	if len(rankPart) != 1 {
		return Card{}, fmt.Errorf("%w: unknown rank in %q", ErrInvalidCard, s)
	}
	idx := strings.IndexByte(rankChars, rankPart[0])
	if idx < 0 {
		return Card{}, fmt.Errorf("%w: unknown rank in %q", ErrInvalidCard, s)
	}

	return Card{Rank: Two + Rank(idx), Suit: suit}, nil
}

// MustParseCard parses a card and panics on error. Intended for tests and constants.
func MustParseCard(s string) Card {
	c, err := ParseCard(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCards parses a list of card labels
func ParseCards(labels ...string) ([]Card, error) {
	cards := make([]Card, 0, len(labels))
	for _, l := range labels {
		c, err := ParseCard(l)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// FormatCards renders cards as space separated display strings
func FormatCards(cards []Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

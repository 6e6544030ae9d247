package validator

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/smoother"
	"github.com/lox/tablesight/poker"
)

func newValidator() *Validator {
	return New(log.New(io.Discard))
}

func card(s string, conf float64) Slot {
	return Slot{Card: poker.MustParseCard(s), Present: true, Confidence: conf}
}

func flop(cards ...string) View {
	var v View
	for i, c := range cards {
		v.Board[i] = card(c, 0.95)
	}
	return v
}

func TestDuplicateCardPrefersHigherConfidence(t *testing.T) {
	v := flop("4d", "Th", "Tc")
	v.Board[2].Confidence = 0.9
	v.Seats[1].Hole[0] = card("Tc", 0.6)
	v.Seats[1].Hole[1] = card("As", 0.8)

	r := newValidator().Check(&v)

	assert.True(t, v.Board[2].Present, "community assignment wins")
	assert.False(t, v.Seats[1].Hole[0].Present, "loser shown unseen")
	assert.True(t, v.Seats[1].Hole[1].Present)
	require.Contains(t, r.Contested, observation.HoleCard(1, 0))
	assert.NotContains(t, r.Contested, observation.CommunityCard(2))
	assert.True(t, r.Degraded())
}

func TestDuplicateCardHoleWinsWhenMoreConfident(t *testing.T) {
	v := flop("4d", "Th", "Tc")
	v.Board[2].Confidence = 0.5
	v.Seats[0].Hole[1] = card("Tc", 0.9)

	r := newValidator().Check(&v)

	assert.True(t, v.Seats[0].Hole[1].Present)
	assert.False(t, v.Board[2].Present)
	assert.Contains(t, r.Contested, observation.CommunityCard(2))
}

func TestDuplicateCardTiePrefersBoard(t *testing.T) {
	v := flop("4d", "Th", "Tc")
	v.Seats[2].Hole[0] = card("4d", 0.95)

	r := newValidator().Check(&v)

	assert.True(t, v.Board[0].Present)
	assert.False(t, v.Seats[2].Hole[0].Present)
	assert.Contains(t, r.Contested, observation.HoleCard(2, 0))
}

func TestDuplicateHoleCardsAcrossSeats(t *testing.T) {
	var v View
	v.Seats[0].Hole[0] = card("Ks", 0.7)
	v.Seats[2].Hole[1] = card("Ks", 0.9)

	r := newValidator().Check(&v)

	assert.False(t, v.Seats[0].Hole[0].Present)
	assert.True(t, v.Seats[2].Hole[1].Present)
	assert.Contains(t, r.Contested, observation.HoleCard(0, 0))
}

func TestBoardCardinality(t *testing.T) {
	tests := []struct {
		name  string
		board []string
		gaps  []int
		want  int
		legal bool
	}{
		{name: "empty", want: 0, legal: true},
		{name: "flop", board: []string{"2c", "3c", "4c"}, want: 3, legal: true},
		{name: "turn", board: []string{"2c", "3c", "4c", "5c"}, want: 4, legal: true},
		{name: "river", board: []string{"2c", "3c", "4c", "5c", "6c"}, want: 5, legal: true},
		{name: "one card", board: []string{"2c"}},
		{name: "two cards", board: []string{"2c", "3c"}},
		{name: "gap", board: []string{"2c", "3c", "4c", "5c"}, gaps: []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val := newValidator()
			v := flop(tt.board...)
			for _, g := range tt.gaps {
				v.Board[g] = Slot{}
			}

			r := val.Check(&v)

			assert.Empty(t, r.Contested, "cardinality never flags")
			if tt.legal {
				assert.Empty(t, r.Rejected)
				assert.Equal(t, tt.want, v.BoardCount())
			} else {
				assert.Len(t, r.Rejected, 1)
				assert.Zero(t, v.BoardCount(), "previous board kept")
			}
		})
	}
}

func TestBoardCardinalityKeepsPreviousBoard(t *testing.T) {
	val := newValidator()
	v := flop("2c", "3c", "4c")
	val.Check(&v)

	v = flop("2c", "3c", "4c")
	v.Board[1] = Slot{}
	val.Check(&v)
	assert.Equal(t, 3, v.BoardCount())
	assert.Equal(t, []poker.Card{poker.MustParseCard("2c"), poker.MustParseCard("3c"), poker.MustParseCard("4c")}, v.BoardCards(3))
}

func TestPotMonotonicity(t *testing.T) {
	val := newValidator()

	v := View{Pot: Amount{Value: 120, Raw: 120, Known: true}}
	r := val.Check(&v)
	assert.False(t, r.PotDecrease)

	v = View{Pot: Amount{Value: 60, Raw: 12, Known: true}}
	r = val.Check(&v)
	assert.True(t, r.PotDecrease)
	assert.Contains(t, r.Contested, observation.PotSize)
	assert.Equal(t, 120.0, v.Pot.Value, "last known good kept")

	v = View{Pot: Amount{Value: 150, Raw: 150, Known: true}}
	r = val.Check(&v)
	assert.False(t, r.Degraded())
	assert.Equal(t, 150.0, v.Pot.Value)
}

func TestPotCollectedOnceSmoothedToZero(t *testing.T) {
	val := newValidator()
	v := View{Pot: Amount{Value: 240, Raw: 240, Known: true}}
	val.Check(&v)

	// Zero readings pull the blend down; the decrease is held until the
	// smoothed pot itself reaches zero.
	for _, blended := range []float64{110.4, 50.8} {
		v = View{Pot: Amount{Value: blended, Raw: 0, Known: true}}
		r := val.Check(&v)
		assert.True(t, r.PotDecrease)
		assert.Equal(t, 240.0, v.Pot.Value)
	}

	v = View{Pot: Amount{Value: 0, Raw: 0, Known: true}}
	r := val.Check(&v)
	assert.False(t, r.PotDecrease)
	assert.Equal(t, 0.0, v.Pot.Value)
}

func TestPotZeroMisreadFlagged(t *testing.T) {
	val := newValidator()
	v := View{Pot: Amount{Value: 80, Raw: 80, Known: true}}
	val.Check(&v)

	v = View{Pot: Amount{Value: 36.8, Raw: 0, Known: true}}
	r := val.Check(&v)
	assert.True(t, r.PotDecrease)
	assert.Contains(t, r.Contested, observation.PotSize)
	assert.Equal(t, 80.0, v.Pot.Value)

	v = View{Pot: Amount{Value: 80, Raw: 80, Known: true}}
	r = val.Check(&v)
	assert.False(t, r.Degraded())
	assert.Equal(t, 80.0, v.Pot.Value)
}

func TestPotDecreaseAcrossRoundsIsAllowed(t *testing.T) {
	val := newValidator()
	v := View{Pot: Amount{Value: 90, Raw: 90, Known: true}}
	val.Check(&v)

	v = flop("2c", "3c", "4c")
	v.Pot = Amount{Value: 80, Raw: 80, Known: true}
	r := val.Check(&v)
	assert.False(t, r.PotDecrease)
}

func TestResetHandForgetsPot(t *testing.T) {
	val := newValidator()
	v := View{Pot: Amount{Value: 300, Raw: 300, Known: true}}
	val.Check(&v)
	val.ResetHand()

	v = View{Pot: Amount{Value: 30, Raw: 30, Known: true}}
	r := val.Check(&v)
	assert.False(t, r.PotDecrease)
}

func TestNegativeStackClamped(t *testing.T) {
	val := newValidator()
	var v View
	v.Seats[1].Stack = Amount{Value: 480, Known: true}
	val.Check(&v)

	v.Seats[1].Stack = Amount{Value: -20, Known: true}
	v.Seats[2].Stack = Amount{Value: -5, Known: true}
	r := val.Check(&v)

	assert.Equal(t, 480.0, v.Seats[1].Stack.Value)
	assert.Equal(t, 0.0, v.Seats[2].Stack.Value)
	assert.Contains(t, r.Contested, observation.Stack(1))
	assert.Contains(t, r.Contested, observation.Stack(2))
}

func TestNegativeRawReadingFlagged(t *testing.T) {
	val := newValidator()
	var v View
	v.Seats[0].Stack = Amount{Value: 1000, Raw: 1000, Known: true}
	v.Seats[0].Bet = Amount{Value: 20, Raw: 20, Known: true}
	v.Pot = Amount{Value: 60, Raw: 60, Known: true}
	require.False(t, val.Check(&v).Degraded())

	// The smoother holds the value; only the raw reading is negative.
	v.Seats[0].Stack = Amount{Value: 1000, Raw: -50, Known: true}
	v.Seats[0].Bet = Amount{Value: 20, Raw: -20, Known: true}
	v.Pot = Amount{Value: 60, Raw: -60, Known: true}
	r := val.Check(&v)

	assert.Contains(t, r.Contested, observation.Stack(0))
	assert.Contains(t, r.Contested, observation.CurrentBet(0))
	assert.Contains(t, r.Contested, observation.PotSize)
	assert.Equal(t, 1000.0, v.Seats[0].Stack.Value)
	assert.Equal(t, 20.0, v.Seats[0].Bet.Value)
	assert.Equal(t, 60.0, v.Pot.Value)
}

func TestCommittedBoardCardWinsUniqueness(t *testing.T) {
	val := newValidator()
	v := flop("4d", "Th", "Tc")
	v.Board[3] = card("2s", 0.7)
	v.Seats[1].Hole[0] = card("2s", 0.99)
	v.Committed = []poker.Card{
		poker.MustParseCard("4d"), poker.MustParseCard("Th"),
		poker.MustParseCard("Tc"), poker.MustParseCard("2s"),
	}

	r := val.Check(&v)
	assert.True(t, v.Board[3].Present)
	assert.False(t, v.Seats[1].Hole[0].Present)
	assert.Contains(t, r.Contested, observation.HoleCard(1, 0))
	assert.NotContains(t, r.Contested, observation.CommunityCard(3))
}

func TestAssemble(t *testing.T) {
	at := time.Date(2025, time.March, 4, 20, 0, 0, 0, time.UTC)
	estimates := map[observation.FieldID]smoother.Estimate{
		observation.CommunityCard(0): {Value: "4d", Confidence: 0.9, Known: true},
		observation.CommunityCard(1): {Value: "", Confidence: 0.9, Known: true},
		observation.HoleCard(0, 1):   {Value: "Ah", Confidence: 0.8, Known: true, Stale: true},
		observation.Stack(2):         {Value: "470", Number: 470, LastRaw: "470", Known: true},
		observation.PotSize:          {Value: "30", Number: 30, LastRaw: "0", Known: true},
		observation.PlayerName(1):    {Value: "villain", Known: true},
		observation.PlayerActive(1):  {Value: "false", Known: true},
		observation.CurrentPlayer:    {Value: "2", Known: true},
		observation.AvailableActions: {Value: "call,fold,raise", Known: true},
		observation.HandStrength:     {Value: "", Known: true},
	}

	v := Assemble(estimates, at)

	assert.Equal(t, at, v.At)
	assert.True(t, v.Board[0].Present)
	assert.True(t, v.Board[1].Empty)
	assert.False(t, v.Board[2].Present || v.Board[2].Empty)
	assert.True(t, v.Seats[0].Hole[1].Stale)
	assert.Equal(t, 470.0, v.Seats[2].Stack.Value)
	assert.Equal(t, 30.0, v.Pot.Value)
	assert.Equal(t, 0.0, v.Pot.Raw)
	assert.Equal(t, "villain", v.Seats[1].Name)
	assert.True(t, v.Seats[1].ActiveKnown)
	assert.False(t, v.Seats[1].Active)
	assert.Equal(t, 2, v.CurrentPlayer)
	assert.Equal(t, []string{"call", "fold", "raise"}, v.Actions)
	assert.True(t, v.StrengthKnown)
	assert.Empty(t, v.HandStrength)
	assert.Equal(t, 1, v.BoardCount())
}

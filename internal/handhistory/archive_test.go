package handhistory

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/poker"
)

func newArchive(t *testing.T, dir string, flushHands int) *Archive {
	t.Helper()
	a, err := New(Config{
		Dir:        dir,
		Session:    "01jtest",
		FlushHands: flushHands,
		Clock:      quartz.NewMock(t),
	}, log.New(io.Discard))
	require.NoError(t, err)
	return a
}

func riverHand(id uint64) handfsm.HandState {
	board, err := poker.ParseCards("Ad", "Kc", "Kd", "2s", "3h")
	if err != nil {
		panic(err)
	}
	start := time.Date(2026, 4, 1, 19, 0, 0, 0, time.UTC)
	h := handfsm.HandState{
		HandID:         id,
		Phase:          handfsm.Showdown,
		PotSize:        240,
		CommunityCards: board,
		CurrentPlayer:  -1,
		HandStrength:   "Full House",
		StartedAt:      start,
		ClosedAt:       start.Add(90 * time.Second),
	}
	for i := range h.Players {
		h.Players[i].Position = i
		h.Players[i].IsActive = true
		h.Players[i].StackSize = 1000
	}
	h.Players[0].Name = "hero"
	h.Players[0].HoleCards = [2]handfsm.HoleCard{
		{Card: poker.MustParseCard("As"), Seen: true},
		{Card: poker.MustParseCard("Ah"), Seen: true},
	}
	h.Players[1].HoleCards[0] = handfsm.HoleCard{Card: poker.MustParseCard("9c"), Seen: true}
	return h
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("s1", riverHand(4), time.Date(2026, 4, 1, 19, 5, 0, 0, time.UTC))

	assert.Equal(t, uint64(4), rec.HandID)
	assert.Equal(t, "SHOWDOWN", rec.Phase)
	assert.Equal(t, []string{"Ad", "Kc", "Kd", "2s", "3h"}, rec.Board)
	require.Len(t, rec.Players, 3)

	hero := rec.Players[0]
	assert.Equal(t, "hero", hero.Name)
	assert.Equal(t, []string{"As", "Ah"}, hero.HoleCards)
	assert.Equal(t, string(poker.CategoryPremium), hero.Category)
	assert.NotEmpty(t, hero.BestHand)

	villain := rec.Players[1]
	assert.Equal(t, []string{"9c"}, villain.HoleCards)
	assert.Empty(t, villain.Category)
	assert.Empty(t, villain.BestHand)
	assert.Empty(t, rec.Players[2].HoleCards)
}

func TestArchiveFlushAndRead(t *testing.T) {
	dir := t.TempDir()
	a := newArchive(t, dir, 2)

	for id := uint64(1); id <= 3; id++ {
		a.OnHandClosed(riverHand(id))
	}
	assert.Equal(t, 3, a.Pending())
	require.NoError(t, a.Flush())
	assert.Equal(t, 0, a.Pending())

	hands, err := Read(a.Path())
	require.NoError(t, err)
	require.Len(t, hands, 3)
	for i, h := range hands {
		assert.Equal(t, uint64(i+1), h.HandID)
		assert.Equal(t, "01jtest", h.Session)
		assert.Equal(t, 240.0, h.Pot)
		assert.Len(t, h.Players, 3)
		assert.True(t, h.ClosedAt.Equal(h.StartedAt.Add(90*time.Second)))
	}

	// A new archive on the same file continues the numbering.
	b := newArchive(t, dir, 2)
	b.OnHandClosed(riverHand(4))
	require.NoError(t, b.Close())

	hands, err = Read(b.Path())
	require.NoError(t, err)
	require.Len(t, hands, 4)
	assert.Equal(t, uint64(4), hands[3].HandID)
}

func TestArchiveDisablesAfterFailures(t *testing.T) {
	dir := t.TempDir()
	a := newArchive(t, dir, 10)
	require.NoError(t, os.Mkdir(a.Path(), 0o755))

	a.OnHandClosed(riverHand(1))
	for i := 0; i < maxFailures; i++ {
		assert.False(t, a.Disabled())
		a.flush()
	}
	assert.True(t, a.Disabled())
	assert.Equal(t, 0, a.Pending())

	a.OnHandClosed(riverHand(2))
	assert.Equal(t, 0, a.Pending())
}

func TestArchiveRunFlushesFullBatch(t *testing.T) {
	a := newArchive(t, t.TempDir(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.OnHandClosed(riverHand(1))
	require.Eventually(t, func() bool { return a.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	a.OnHandClosed(riverHand(2))
	cancel()
	require.NoError(t, <-done)

	hands, err := Read(a.Path())
	require.NoError(t, err)
	assert.Len(t, hands, 2)
}

func TestNewRequiresSession(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()}, log.New(io.Discard))
	assert.Error(t, err)
}

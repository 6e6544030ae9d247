package publisher

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/poker"
)

// recordingMonitor keeps everything it is given.
type recordingMonitor struct {
	snapshots   []Snapshot
	hands       []handfsm.HandState
	diagnostics []Diagnostic
}

func (r *recordingMonitor) OnSnapshot(s Snapshot)            { r.snapshots = append(r.snapshots, s) }
func (r *recordingMonitor) OnHandClosed(h handfsm.HandState) { r.hands = append(r.hands, h) }
func (r *recordingMonitor) OnDiagnostic(d Diagnostic)        { r.diagnostics = append(r.diagnostics, d) }

func newPublisher(t *testing.T, monitor Monitor) (*Publisher, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	return New(monitor, clock, log.New(io.Discard)), clock
}

func mustCards(labels ...string) []poker.Card {
	cards, err := poker.ParseCards(labels...)
	if err != nil {
		panic(err)
	}
	return cards
}

func flopHand() handfsm.HandState {
	h := handfsm.HandState{
		HandID:         3,
		Phase:          handfsm.Flop,
		PotSize:        120,
		CommunityCards: mustCards("4d", "Th", "Tc"),
		CurrentPlayer:  -1,
	}
	h.Players[0].HoleCards[0] = handfsm.HoleCard{Card: poker.MustParseCard("Ah"), Seen: true}
	return h
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	rec := &recordingMonitor{}
	p, _ := newPublisher(t, rec)

	var last uint64
	for i := 0; i < 20; i++ {
		reason := ReasonHeartbeat
		if i%3 == 0 {
			reason = ReasonTransition
		}
		snap, err := p.Publish(reason, Input{Hand: flopHand()})
		require.NoError(t, err)
		assert.Greater(t, snap.Version, last)
		last = snap.Version
	}
	require.Len(t, rec.snapshots, 20)
	assert.Equal(t, uint64(20), p.Version())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	p, _ := newPublisher(t, nil)
	hand := flopHand()
	fields := map[string]FieldStatus{"pot_size": {Value: "120", Status: StatusOK}}

	snap, err := p.Publish(ReasonTransition, Input{Hand: hand, Fields: fields})
	require.NoError(t, err)

	hand.CommunityCards[0] = poker.MustParseCard("2c")
	hand.Players[0].HoleCards[0] = handfsm.HoleCard{}
	fields["pot_size"] = FieldStatus{Value: "0"}

	assert.Equal(t, "4d", snap.Hand.CommunityCards[0].Label())
	assert.True(t, snap.Hand.Players[0].HoleCards[0].Seen)
	assert.Equal(t, "120", snap.Fields["pot_size"].Value)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, snap, latest)

	latest.Hand.CommunityCards[1] = poker.MustParseCard("2c")
	again, _ := p.Latest()
	assert.Equal(t, "Th", again.Hand.CommunityCards[1].Label())
}

func TestSnapshotChanges(t *testing.T) {
	p, clock := newPublisher(t, nil)

	first, err := p.Publish(ReasonTransition, Input{Hand: flopHand()})
	require.NoError(t, err)
	assert.Equal(t, []string{"initial"}, first.Changes)
	assert.Equal(t, clock.Now(), first.PublishedAt)

	clock.Advance(150 * time.Millisecond)
	same, _ := p.Publish(ReasonHeartbeat, Input{Hand: flopHand()})
	assert.Empty(t, same.Changes)
	assert.Equal(t, first.PublishedAt.Add(150*time.Millisecond), same.PublishedAt)

	turn := flopHand()
	turn.Phase = handfsm.Turn
	turn.CommunityCards = append(turn.CommunityCards, poker.MustParseCard("2s"))
	turn.Players[1].StackSize = 410
	next, _ := p.Publish(ReasonTransition, Input{Hand: turn, Trust: TrustDegraded})
	assert.Equal(t, []string{"phase", "trust_level", "community_cards", "player[1].stack"}, next.Changes)
}

func TestPublishAfterClose(t *testing.T) {
	rec := &recordingMonitor{}
	p, _ := newPublisher(t, rec)
	_, err := p.Publish(ReasonHeartbeat, Input{Hand: flopHand()})
	require.NoError(t, err)

	p.Close()
	_, err = p.Publish(ReasonHeartbeat, Input{Hand: flopHand()})
	assert.ErrorIs(t, err, ErrClosed)
	p.HandClosed(flopHand())
	p.Diagnose(Diagnostic{Code: DiagLost})

	assert.Len(t, rec.snapshots, 1)
	assert.Empty(t, rec.hands)
	assert.Empty(t, rec.diagnostics)
}

func TestMultiMonitor(t *testing.T) {
	assert.IsType(t, NullMonitor{}, NewMultiMonitor())
	assert.IsType(t, NullMonitor{}, NewMultiMonitor(nil, nil))

	a := &recordingMonitor{}
	assert.Same(t, a, NewMultiMonitor(nil, a))

	b := &recordingMonitor{}
	p, _ := newPublisher(t, NewMultiMonitor(a, b))
	_, err := p.Publish(ReasonTransition, Input{Hand: flopHand()})
	require.NoError(t, err)
	p.HandClosed(flopHand())
	p.Diagnose(Diagnostic{Code: DiagPhaseSkip})

	for _, m := range []*recordingMonitor{a, b} {
		assert.Len(t, m.snapshots, 1)
		assert.Len(t, m.hands, 1)
		assert.Len(t, m.diagnostics, 1)
	}
}

func TestChannelMonitorDropsOldest(t *testing.T) {
	sub := NewChannelMonitor(2)
	for v := uint64(1); v <= 5; v++ {
		sub.OnSnapshot(Snapshot{Version: v})
	}
	assert.Equal(t, uint64(3), sub.Dropped())

	assert.Equal(t, uint64(4), (<-sub.C()).Version)
	assert.Equal(t, uint64(5), (<-sub.C()).Version)

	sub.Close()
	sub.OnSnapshot(Snapshot{Version: 6})
	_, open := <-sub.C()
	assert.False(t, open)
	sub.Close()
}

func TestSnapshotJSON(t *testing.T) {
	p, _ := newPublisher(t, nil)
	snap, err := p.Publish(ReasonTransition, Input{
		Hand:        flopHand(),
		Trust:       TrustLost,
		Diagnostics: []Diagnostic{{Code: DiagPhaseSkip, Message: "PREFLOP -> FLOP"}},
	})
	require.NoError(t, err)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"trust_level":"LOST"`)
	assert.Contains(t, s, `"phase":"FLOP"`)
	assert.Contains(t, s, `"community_cards":["4d","Th","Tc"]`)
	assert.Contains(t, s, `"hole_cards":["Ah","UNSEEN"]`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, snap.Version, back.Version)
	assert.Equal(t, TrustLost, back.Trust)
	assert.Equal(t, handfsm.Flop, back.Hand.Phase)
	assert.True(t, back.HasDiagnostic(DiagPhaseSkip))
	assert.Equal(t, snap.Hand.CommunityCards, back.Hand.CommunityCards)
}

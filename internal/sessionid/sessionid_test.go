package sessionid

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	clock := quartz.NewMock(t)
	g := NewGenerator(clock, nil)

	id, err := g.Generate()
	require.NoError(t, err)
	assert.Len(t, id, 26)
	require.NoError(t, Validate(id))

	ts, err := Timestamp(id)
	require.NoError(t, err)
	assert.True(t, ts.Equal(clock.Now().Truncate(time.Millisecond)), "got %s want %s", ts, clock.Now())

	parsed, err := Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, encode(parsed))
}

func TestGenerateSortsByTime(t *testing.T) {
	clock := quartz.NewMock(t)
	g := NewGenerator(clock, rand.New(rand.NewSource(1)))
	ctx := context.Background()

	prev, err := g.Generate()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		clock.Advance(time.Millisecond).MustWait(ctx)
		next, err := g.Generate()
		require.NoError(t, err)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestGenerateDeterministic(t *testing.T) {
	clock := quartz.NewMock(t)
	a, err := NewGenerator(clock, rand.New(rand.NewSource(42))).Generate()
	require.NoError(t, err)
	b, err := NewGenerator(clock, rand.New(rand.NewSource(42))).Generate()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateShortRandom(t *testing.T) {
	_, err := NewGenerator(quartz.NewMock(t), bytes.NewReader([]byte{1, 2, 3})).Generate()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid, err := NewGenerator(quartz.NewMock(t), nil).Generate()
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
	}{
		{"too short", valid[:25]},
		{"too long", valid + "0"},
		{"first character too large", "8" + valid[1:]},
		{"excluded letter", valid[:10] + "u" + valid[11:]},
		{"not version 7", "00000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.id))
		})
	}
}

package tetris

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerBagsArePermutations(t *testing.T) {
	s := NewSequencer(42)

	for bag := 0; bag < 50; bag++ {
		seen := make(map[PieceType]int, BagSize)
		for i := 0; i < BagSize; i++ {
			seen[s.Next()]++
		}
		require.Len(t, seen, BagSize, "bag %d", bag)
		for pt, n := range seen {
			require.Equal(t, 1, n, "bag %d type %s", bag, pt)
		}
	}
}

func TestSequencerPeekDoesNotConsume(t *testing.T) {
	s := NewSequencer(7)
	s.Next()

	peeked := s.Peek(40)
	require.Len(t, peeked, 40)
	assert.Equal(t, 1, s.Drawn())

	for i, want := range peeked {
		assert.Equal(t, want, s.Next(), "draw %d", i)
	}
	assert.Nil(t, s.Peek(0))
}

func TestSequencerSameSeedSameStream(t *testing.T) {
	a, b := NewSequencer(1234), NewSequencer(1234)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestSequencerMaxGapBetweenRepeats(t *testing.T) {
	s := NewSequencer(99)
	last := make(map[PieceType]int)
	for i := 0; i < 7*200; i++ {
		pt := s.Next()
		if prev, ok := last[pt]; ok {
			require.LessOrEqual(t, i-prev, 13, "gap for %s", pt)
		}
		last[pt] = i
	}
}

func TestSequencerShuffleIsUnbiased(t *testing.T) {
	const bags = 7000
	s := NewSequencer(2024)

	// counts[position][type]
	var counts [BagSize]map[PieceType]int
	for i := range counts {
		counts[i] = make(map[PieceType]int)
	}
	for b := 0; b < bags; b++ {
		for pos := 0; pos < BagSize; pos++ {
			counts[pos][s.Next()]++
		}
	}

	expected := bags / BagSize
	for pos, byType := range counts {
		for _, pt := range AllPieces {
			n := byType[pt]
			assert.InDelta(t, expected, n, float64(expected)*0.15, "position %d type %s", pos, pt)
		}
	}
}

func TestPieceTypeText(t *testing.T) {
	b, err := json.Marshal([]PieceType{PieceI, PieceL})
	require.NoError(t, err)
	assert.JSONEq(t, `["I","L"]`, string(b))

	var back []PieceType
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []PieceType{PieceI, PieceL}, back)

	_, err = PieceType(0).MarshalText()
	assert.Error(t, err)
}

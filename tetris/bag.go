package tetris

import (
	"math/rand/v2"
)

// BagSize is the number of pieces in one shuffled bag.
const BagSize = len(AllPieces)

// initialBags is how many bags a new sequencer materialises up front.
const initialBags = 3

// Sequencer produces an unbounded stream of piece types built from shuffled
// bags of all seven types. Every bag-aligned run of seven draws contains each
// type exactly once.
//
// A Sequencer is not safe for concurrent use.
type Sequencer struct {
	rng      *rand.Rand
	sequence []PieceType
	cursor   int
}

// NewSequencer returns a sequencer whose bags are shuffled by a PCG source
// seeded with seed. Two sequencers with the same seed yield the same stream.
func NewSequencer(seed uint64) *Sequencer {
	return newSequencer(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func newSequencer(rng *rand.Rand) *Sequencer {
	s := &Sequencer{
		rng:      rng,
		sequence: make([]PieceType, 0, initialBags*BagSize),
	}
	for i := 0; i < initialBags; i++ {
		s.addBag()
	}
	return s
}

// addBag appends one Fisher-Yates shuffled permutation of all piece types.
func (s *Sequencer) addBag() {
	bag := AllPieces
	for i := len(bag) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		bag[i], bag[j] = bag[j], bag[i]
	}
	s.sequence = append(s.sequence, bag[:]...)
}

// Next consumes and returns the next piece type.
func (s *Sequencer) Next() PieceType {
	if s.cursor >= len(s.sequence) {
		s.addBag()
	}
	t := s.sequence[s.cursor]
	s.cursor++
	return t
}

// Peek returns the next n piece types without consuming them.
func (s *Sequencer) Peek(n int) []PieceType {
	if n <= 0 {
		return nil
	}
	for s.cursor+n > len(s.sequence) {
		s.addBag()
	}
	out := make([]PieceType, n)
	copy(out, s.sequence[s.cursor:s.cursor+n])
	return out
}

// Drawn returns how many pieces have been consumed so far.
func (s *Sequencer) Drawn() int {
	return s.cursor
}

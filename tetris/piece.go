package tetris

import (
	"fmt"
)

// PieceType identifies one of the seven tetrominoes. Its numeric value is the
// cell code written into the grid when a piece of that type locks.
type PieceType uint8

const (
	PieceI PieceType = iota + 1
	PieceO
	PieceT
	PieceS
	PieceZ
	PieceJ
	PieceL
)

// AllPieces lists every piece type in canonical order.
var AllPieces = [...]PieceType{PieceI, PieceO, PieceT, PieceS, PieceZ, PieceJ, PieceL}

var pieceNames = map[PieceType]string{
	PieceI: "I",
	PieceO: "O",
	PieceT: "T",
	PieceS: "S",
	PieceZ: "Z",
	PieceJ: "J",
	PieceL: "L",
}

// Point is a (row, col) grid coordinate or a displacement from a piece's anchor.
type Point struct {
	Row, Col int
}

// shapes holds the occupied cells of each piece type per rotation state,
// relative to the anchor at the top-left of the bounding box.
var shapes = map[PieceType][][4]Point{
	PieceI: {
		{{0, 0}, {0, 1}, {0, 2}, {0, 3}},
		{{0, 0}, {1, 0}, {2, 0}, {3, 0}},
	},
	PieceO: {
		{{0, 0}, {0, 1}, {1, 0}, {1, 1}},
	},
	PieceT: {
		{{0, 0}, {0, 1}, {0, 2}, {1, 1}},
		{{0, 1}, {1, 0}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {0, 1}},
		{{0, 0}, {1, 0}, {2, 0}, {1, 1}},
	},
	PieceS: {
		{{0, 1}, {0, 2}, {1, 0}, {1, 1}},
		{{0, 0}, {1, 0}, {1, 1}, {2, 1}},
	},
	PieceZ: {
		{{0, 0}, {0, 1}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 0}, {1, 1}, {2, 0}},
	},
	PieceJ: {
		{{0, 0}, {1, 0}, {2, 0}, {2, 1}},
		{{0, 0}, {0, 1}, {0, 2}, {1, 0}},
		{{0, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{0, 2}, {1, 0}, {1, 1}, {1, 2}},
	},
	PieceL: {
		{{0, 1}, {1, 1}, {2, 0}, {2, 1}},
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
		{{0, 0}, {0, 1}, {1, 0}, {2, 0}},
		{{0, 0}, {0, 1}, {0, 2}, {1, 2}},
	},
}

// Valid reports whether t is one of the seven piece types.
func (t PieceType) Valid() bool {
	_, ok := pieceNames[t]
	return ok
}

// Code returns the grid cell code for locked cells of this type.
func (t PieceType) Code() int {
	return int(t)
}

// Rotations returns the number of distinct rotation states of the type.
func (t PieceType) Rotations() int {
	return len(shapes[t])
}

func (t PieceType) String() string {
	if name, ok := pieceNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PieceType(%d)", uint8(t))
}

// MarshalText encodes the type as its single-letter name.
func (t PieceType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("tetris: invalid piece type %d", uint8(t))
	}
	return []byte(pieceNames[t]), nil
}

// UnmarshalText decodes a single-letter piece name.
func (t *PieceType) UnmarshalText(text []byte) error {
	for pt, name := range pieceNames {
		if name == string(text) {
			*t = pt
			return nil
		}
	}
	return fmt.Errorf("tetris: unknown piece type %q", text)
}

// Piece is an active piece: its type, rotation index and anchor position.
type Piece struct {
	Type     PieceType `json:"type"`
	Row      int       `json:"row"`
	Col      int       `json:"col"`
	Rotation int       `json:"rotation"`
}

// Cells returns the absolute grid coordinates the piece occupies.
func (p Piece) Cells() [4]Point {
	return cellsAt(p.Type, p.Row, p.Col, p.Rotation)
}

func cellsAt(t PieceType, row, col, rotation int) [4]Point {
	rotations := shapes[t]
	shape := rotations[rotation%len(rotations)]
	var cells [4]Point
	for i, o := range shape {
		cells[i] = Point{Row: row + o.Row, Col: col + o.Col}
	}
	return cells
}

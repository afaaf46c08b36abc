package tetris

import (
	"fmt"
	"time"
)

// Action is a discrete player input applied to the active piece.
type Action string

const (
	ActionLeft   Action = "left"
	ActionRight  Action = "right"
	ActionDown   Action = "down"
	ActionRotate Action = "rotate"
	ActionDrop   Action = "drop"
)

// ParseAction validates a client-supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionLeft, ActionRight, ActionDown, ActionRotate, ActionDrop:
		return a, nil
	}
	return "", fmt.Errorf("tetris: unknown action %q", s)
}

// SpawnRow and SpawnCol are the anchor of every newly spawned piece.
const (
	SpawnRow = 0
	SpawnCol = Cols/2 - 1
)

const (
	baseFallInterval = 1000 * time.Millisecond
	fallStep         = 80 * time.Millisecond
	minFallInterval  = 100 * time.Millisecond
	linesPerLevel    = 10
)

// linePoints is indexed by the number of rows cleared by one lock.
var linePoints = [...]int{0, 100, 300, 500, 800}

// Result reports the outcome of one action.
type Result struct {
	Locked       bool `json:"locked"`
	LinesCleared int  `json:"linesCleared"`
}

// Engine is the game state of a single player: the grid, the active piece,
// score, level and cleared line count.
//
// An Engine is not safe for concurrent use; callers serialise access.
type Engine struct {
	grid         Grid
	piece        *Piece
	score        int
	level        int
	linesCleared int
	alive        bool
	pieceIndex   int
}

// NewEngine returns an engine with an empty grid at level 1.
func NewEngine() *Engine {
	return &Engine{
		level: 1,
		alive: true,
	}
}

// NewEngineWithGrid returns a level 1 engine over an existing playfield.
func NewEngineWithGrid(g Grid) *Engine {
	e := NewEngine()
	e.grid = g
	return e
}

// Spawn places a new piece of type t at the spawn anchor. If the spawn
// position is blocked the player is eliminated and Spawn returns false.
func (e *Engine) Spawn(t PieceType) bool {
	if !e.alive {
		return false
	}
	p := Piece{Type: t, Row: SpawnRow, Col: SpawnCol}
	if !e.grid.fits(p.Cells()) {
		e.alive = false
		return false
	}
	e.piece = &p
	e.pieceIndex++
	return true
}

// Apply performs action on the active piece. Illegal moves leave the piece
// untouched. With no active piece, or once eliminated, Apply does nothing.
func (e *Engine) Apply(action Action) Result {
	p := e.piece
	if p == nil || !e.alive {
		return Result{}
	}

	switch action {
	case ActionLeft:
		e.tryMove(p.Row, p.Col-1, p.Rotation)
	case ActionRight:
		e.tryMove(p.Row, p.Col+1, p.Rotation)
	case ActionRotate:
		e.tryMove(p.Row, p.Col, (p.Rotation+1)%p.Type.Rotations())
	case ActionDown:
		if e.tryMove(p.Row+1, p.Col, p.Rotation) {
			return Result{}
		}
		return Result{Locked: true, LinesCleared: e.lock()}
	case ActionDrop:
		for e.tryMove(p.Row+1, p.Col, p.Rotation) {
		}
		return Result{Locked: true, LinesCleared: e.lock()}
	}
	return Result{}
}

// tryMove relocates the active piece if the target placement is legal.
func (e *Engine) tryMove(row, col, rotation int) bool {
	p := e.piece
	if !e.grid.fits(cellsAt(p.Type, row, col, rotation)) {
		return false
	}
	p.Row, p.Col, p.Rotation = row, col, rotation
	return true
}

// lock commits the active piece into the grid and clears full rows.
func (e *Engine) lock() int {
	p := e.piece
	e.grid.paint(p.Cells(), p.Type.Code())
	e.piece = nil

	cleared := e.grid.clearFull()
	e.linesCleared += cleared
	if cleared < len(linePoints) {
		e.score += linePoints[cleared] * e.level
	}
	e.level = e.linesCleared/linesPerLevel + 1
	return cleared
}

// AddPenaltyLines removes count rows from the top of the grid and appends
// count filler rows at the bottom. If the active piece no longer fits the
// player is eliminated and AddPenaltyLines returns false.
func (e *Engine) AddPenaltyLines(count int) bool {
	e.grid.raise(count)
	if e.piece != nil && !e.grid.fits(e.piece.Cells()) {
		e.alive = false
		return false
	}
	return true
}

// Eliminate marks the player as out of the game.
func (e *Engine) Eliminate() {
	e.alive = false
}

// RenderedGrid returns a copy of the grid with the active piece overlaid.
func (e *Engine) RenderedGrid() Grid {
	g := e.grid
	if e.piece != nil {
		g.paint(e.piece.Cells(), e.piece.Type.Code())
	}
	return g
}

// FallInterval is the gravity period for the current level.
func (e *Engine) FallInterval() time.Duration {
	return FallInterval(e.level)
}

// FallInterval returns max(100ms, 1000ms - (level-1)*80ms).
func FallInterval(level int) time.Duration {
	d := baseFallInterval - time.Duration(level-1)*fallStep
	if d < minFallInterval {
		return minFallInterval
	}
	return d
}

func (e *Engine) Grid() Grid        { return e.grid }
func (e *Engine) Score() int        { return e.score }
func (e *Engine) Level() int        { return e.level }
func (e *Engine) LinesCleared() int { return e.linesCleared }
func (e *Engine) Alive() bool       { return e.alive }
func (e *Engine) PieceIndex() int   { return e.pieceIndex }

// ActivePiece returns a copy of the active piece, if any.
func (e *Engine) ActivePiece() (Piece, bool) {
	if e.piece == nil {
		return Piece{}, false
	}
	return *e.piece, true
}

// State is a serialisable copy of an engine's state.
type State struct {
	Grid         Grid        `json:"grid"`
	Score        int         `json:"score"`
	Level        int         `json:"level"`
	LinesCleared int         `json:"linesCleared"`
	CurrentPiece *Piece      `json:"currentPiece"`
	Alive        bool        `json:"isAlive"`
	PieceIndex   int         `json:"pieceIndex"`
	Next         []PieceType `json:"next,omitempty"`
}

// Snapshot copies the engine state. The active piece is copied, not shared.
func (e *Engine) Snapshot() State {
	s := State{
		Grid:         e.grid,
		Score:        e.score,
		Level:        e.level,
		LinesCleared: e.linesCleared,
		Alive:        e.alive,
		PieceIndex:   e.pieceIndex,
	}
	if e.piece != nil {
		p := *e.piece
		s.CurrentPiece = &p
	}
	return s
}

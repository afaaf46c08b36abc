package tetris

const (
	Rows = 20
	Cols = 10

	// Empty marks an unoccupied cell.
	Empty = 0
	// PenaltyCode fills rows injected by an opponent's attack.
	PenaltyCode = 8
)

// Row is one horizontal line of cells.
type Row [Cols]int

// Grid is the fixed-size playfield. Row 0 is the top.
type Grid [Rows]Row

// Full reports whether every cell in the row is occupied.
func (r Row) Full() bool {
	for _, c := range r {
		if c == Empty {
			return false
		}
	}
	return true
}

func inBounds(p Point) bool {
	return p.Row >= 0 && p.Row < Rows && p.Col >= 0 && p.Col < Cols
}

// fits reports whether every cell is inside the grid and unoccupied.
func (g *Grid) fits(cells [4]Point) bool {
	for _, p := range cells {
		if !inBounds(p) || g[p.Row][p.Col] != Empty {
			return false
		}
	}
	return true
}

// paint writes code into every in-bounds cell.
func (g *Grid) paint(cells [4]Point, code int) {
	for _, p := range cells {
		if inBounds(p) {
			g[p.Row][p.Col] = code
		}
	}
}

// clearFull removes every full row, keeps the remaining rows in order and
// pads the top with empty rows. It returns the number of rows removed.
func (g *Grid) clearFull() int {
	var next Grid
	dst := Rows - 1
	for src := Rows - 1; src >= 0; src-- {
		if g[src].Full() {
			continue
		}
		next[dst] = g[src]
		dst--
	}
	*g = next
	return dst + 1
}

// raise drops the top n rows and appends n penalty rows at the bottom.
func (g *Grid) raise(n int) {
	if n <= 0 {
		return
	}
	if n > Rows {
		n = Rows
	}
	var next Grid
	copy(next[:], g[n:])
	for r := Rows - n; r < Rows; r++ {
		for c := range next[r] {
			next[r][c] = PenaltyCode
		}
	}
	*g = next
}

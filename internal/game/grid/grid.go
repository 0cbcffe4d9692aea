// Package grid provides the immutable obstacle map the simulation plans over.
//
// A Map is a uniform axis-aligned grid of square cells. Each cell is either
// passable or blocked; coordinates outside the grid are always blocked.
package grid

import (
	"fmt"
	"math"
)

// Cell addresses a single grid cell by column (X) and row (Y).
type Cell struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Point is a position in world units.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Finite reports whether both coordinates are neither NaN nor infinite.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Map is an immutable passability grid. All methods are safe for concurrent use.
type Map struct {
	width    int
	height   int
	cellSize float64
	blocked  []bool
}

// New builds a Map of width x height cells with the given cells marked blocked.
// Blocked cells outside the grid are ignored.
//
// Precondition: width, height and cellSize must be > 0.
// Postcondition: Returns an immutable Map or a non-nil error.
func New(width, height int, cellSize float64, blocked []Cell) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", width, height)
	}
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("grid cell size must be a positive finite number, got %v", cellSize)
	}
	m := &Map{
		width:    width,
		height:   height,
		cellSize: cellSize,
		blocked:  make([]bool, width*height),
	}
	for _, c := range blocked {
		if m.InBounds(c) {
			m.blocked[m.index(c)] = true
		}
	}
	return m, nil
}

// Width returns the number of columns.
func (m *Map) Width() int { return m.width }

// Height returns the number of rows.
func (m *Map) Height() int { return m.height }

// CellSize returns the edge length of one cell in world units.
func (m *Map) CellSize() float64 { return m.cellSize }

// Bounds returns the world-space extent of the map.
func (m *Map) Bounds() (width, height float64) {
	return float64(m.width) * m.cellSize, float64(m.height) * m.cellSize
}

// InBounds reports whether c lies inside the grid.
func (m *Map) InBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.width && c.Y < m.height
}

func (m *Map) index(c Cell) int {
	return c.Y*m.width + c.X
}

// IsPassable reports whether the cell at (cellX, cellY) can be entered.
// Out-of-range coordinates report false rather than failing.
func (m *Map) IsPassable(cellX, cellY int) bool {
	return m.Passable(Cell{X: cellX, Y: cellY})
}

// Passable is IsPassable for a Cell value.
func (m *Map) Passable(c Cell) bool {
	if !m.InBounds(c) {
		return false
	}
	return !m.blocked[m.index(c)]
}

// WorldToCell returns the cell containing p. The result may be out of bounds;
// callers treat such cells as blocked.
func (m *Map) WorldToCell(p Point) Cell {
	return Cell{
		X: int(math.Floor(p.X / m.cellSize)),
		Y: int(math.Floor(p.Y / m.cellSize)),
	}
}

// CellToWorld returns the world-space center of c.
func (m *Map) CellToWorld(c Cell) Point {
	return Point{
		X: (float64(c.X) + 0.5) * m.cellSize,
		Y: (float64(c.Y) + 0.5) * m.cellSize,
	}
}

// Contains reports whether p lies within the map's world bounds.
func (m *Map) Contains(p Point) bool {
	return m.InBounds(m.WorldToCell(p))
}

// BlockedCells returns every blocked cell in row-major order.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (m *Map) BlockedCells() []Cell {
	out := make([]Cell, 0)
	for i, b := range m.blocked {
		if b {
			out = append(out, Cell{X: i % m.width, Y: i / m.width})
		}
	}
	return out
}

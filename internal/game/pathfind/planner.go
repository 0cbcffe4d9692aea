package pathfind

import (
	"github.com/cory-johannsen/simverse/internal/game/grid"
)

// Planner converts world-space move requests into waypoint sequences.
// The zero value plans without simplification.
type Planner struct {
	// Simplify collapses collinear runs so only turning points and the
	// destination remain.
	Simplify bool
}

// Plan returns the waypoints from the cell containing start to the cell
// containing goal. Waypoints are cell centers. The start cell's center leads
// the path when start is off it, so the first leg stays inside the start cell
// and every later leg runs center to center. When start and goal share a
// cell the single waypoint is that cell's center.
//
// Precondition: m must be non-nil.
// Postcondition: Returns a non-empty path ending at the goal cell center, or
// ErrNoPath.
func (p Planner) Plan(m *grid.Map, start, goal grid.Point) ([]grid.Point, error) {
	cells, err := FindCells(m, m.WorldToCell(start), m.WorldToCell(goal))
	if err != nil {
		return nil, err
	}
	if p.Simplify {
		cells = Simplify(cells)
	}
	waypoints := ToWaypoints(m, cells)
	if center := m.CellToWorld(cells[0]); len(cells) > 1 && start != center {
		waypoints = append([]grid.Point{center}, waypoints...)
	}
	return waypoints, nil
}

// ToWaypoints maps a cell path (including its start cell) to world waypoints,
// dropping the start cell when the path has more than one cell.
func ToWaypoints(m *grid.Map, cells []grid.Cell) []grid.Point {
	if len(cells) == 0 {
		return nil
	}
	if len(cells) == 1 {
		return []grid.Point{m.CellToWorld(cells[0])}
	}
	out := make([]grid.Point, 0, len(cells)-1)
	for _, c := range cells[1:] {
		out = append(out, m.CellToWorld(c))
	}
	return out
}

// Simplify removes interior cells that continue in the same direction as the
// previous step. Endpoints are always kept.
func Simplify(cells []grid.Cell) []grid.Cell {
	if len(cells) < 3 {
		return cells
	}
	out := []grid.Cell{cells[0]}
	for i := 1; i < len(cells)-1; i++ {
		inX, inY := cells[i].X-cells[i-1].X, cells[i].Y-cells[i-1].Y
		outX, outY := cells[i+1].X-cells[i].X, cells[i+1].Y-cells[i].Y
		if inX != outX || inY != outY {
			out = append(out, cells[i])
		}
	}
	return append(out, cells[len(cells)-1])
}

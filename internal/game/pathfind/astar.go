// Package pathfind plans collision-free routes across a grid.Map using A*.
//
// Planning is pure: it reads the immutable map and allocates its own search
// state, so any number of searches may run concurrently.
package pathfind

import (
	"container/heap"
	"errors"
	"math"

	"github.com/cory-johannsen/simverse/internal/game/grid"
)

// ErrNoPath is returned when the start or goal cell is blocked (including out
// of bounds) or the goal cannot be reached.
var ErrNoPath = errors.New("no path found")

type step struct {
	dx, dy   int
	cost     float64
	diagonal bool
}

// Orthogonal neighbours first, then diagonals; the order is part of the
// deterministic output.
var steps = [...]step{
	{dx: 0, dy: -1, cost: 1},
	{dx: 1, dy: 0, cost: 1},
	{dx: 0, dy: 1, cost: 1},
	{dx: -1, dy: 0, cost: 1},
	{dx: 1, dy: -1, cost: math.Sqrt2, diagonal: true},
	{dx: 1, dy: 1, cost: math.Sqrt2, diagonal: true},
	{dx: -1, dy: 1, cost: math.Sqrt2, diagonal: true},
	{dx: -1, dy: -1, cost: math.Sqrt2, diagonal: true},
}

// Octile returns the octile distance between a and b, the exact cost of an
// unobstructed 8-directional walk.
func Octile(a, b grid.Cell) float64 {
	dx := math.Abs(float64(a.X - b.X))
	dy := math.Abs(float64(a.Y - b.Y))
	if dx > dy {
		return dx + (math.Sqrt2-1)*dy
	}
	return dy + (math.Sqrt2-1)*dx
}

// CanStep reports whether a single move from c by (dx, dy) is legal: the
// destination must be passable, and a diagonal move is refused when both
// orthogonal cells it squeezes between are blocked.
func CanStep(m *grid.Map, c grid.Cell, dx, dy int) bool {
	if !m.IsPassable(c.X+dx, c.Y+dy) {
		return false
	}
	if dx != 0 && dy != 0 {
		if !m.IsPassable(c.X+dx, c.Y) && !m.IsPassable(c.X, c.Y+dy) {
			return false
		}
	}
	return true
}

type node struct {
	cell  int
	g     float64
	f     float64
	seq   uint64
	index int
}

type frontier []*node

func (q frontier) Len() int { return len(q) }

// Less orders by estimated total cost, then by discovery order.
func (q frontier) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}

func (q frontier) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *frontier) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// FindCells runs A* from start to goal and returns the cell sequence,
// including both endpoints.
//
// Precondition: m must be non-nil.
// Postcondition: Returns a shortest 8-directional path, or ErrNoPath when
// start or goal is not passable or the goal is unreachable.
func FindCells(m *grid.Map, start, goal grid.Cell) ([]grid.Cell, error) {
	if !m.Passable(start) || !m.Passable(goal) {
		return nil, ErrNoPath
	}
	if start == goal {
		return []grid.Cell{start}, nil
	}

	width := m.Width()
	size := width * m.Height()
	toCell := func(i int) grid.Cell { return grid.Cell{X: i % width, Y: i / width} }
	toIndex := func(c grid.Cell) int { return c.Y*width + c.X }

	gScore := make([]float64, size)
	for i := range gScore {
		gScore[i] = math.Inf(1)
	}
	parent := make([]int, size)
	for i := range parent {
		parent[i] = -1
	}
	closed := make([]bool, size)

	var seq uint64
	open := &frontier{}
	startIdx := toIndex(start)
	goalIdx := toIndex(goal)
	gScore[startIdx] = 0
	heap.Push(open, &node{cell: startIdx, f: Octile(start, goal), seq: seq})

	for open.Len() > 0 {
		current := heap.Pop(open).(*node)
		if closed[current.cell] {
			continue
		}
		closed[current.cell] = true
		if current.cell == goalIdx {
			return reconstruct(parent, goalIdx, toCell), nil
		}

		cc := toCell(current.cell)
		for _, s := range steps {
			if !CanStep(m, cc, s.dx, s.dy) {
				continue
			}
			next := grid.Cell{X: cc.X + s.dx, Y: cc.Y + s.dy}
			ni := toIndex(next)
			if closed[ni] {
				continue
			}
			tentative := current.g + s.cost
			if tentative >= gScore[ni] {
				continue
			}
			gScore[ni] = tentative
			parent[ni] = current.cell
			seq++
			heap.Push(open, &node{
				cell: ni,
				g:    tentative,
				f:    tentative + Octile(next, goal),
				seq:  seq,
			})
		}
	}
	return nil, ErrNoPath
}

func reconstruct(parent []int, goal int, toCell func(int) grid.Cell) []grid.Cell {
	var path []grid.Cell
	for i := goal; i != -1; i = parent[i] {
		path = append(path, toCell(i))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PathCost returns the 8-directional movement cost of walking cells in order.
func PathCost(cells []grid.Cell) float64 {
	var total float64
	for i := 1; i < len(cells); i++ {
		dx := cells[i].X - cells[i-1].X
		dy := cells[i].Y - cells[i-1].Y
		if dx != 0 && dy != 0 {
			total += math.Sqrt2
		} else {
			total++
		}
	}
	return total
}

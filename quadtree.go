/*
Copyright © 2021 the Bathygrid authors.
This file is part of Bathygrid.

Bathygrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Bathygrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Bathygrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package bathygrid

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// DefaultAlignment is the coordinate multiple the root cell is snapped to,
// so that grids built from different surveys of the same area share cell
// boundaries and can be merged.
const DefaultAlignment = 512.

// NoNode marks an absent node reference in the tree arena.
const NoNode = int32(-1)

// Quadrant indices of a node's children. Quadrants are numbered
// row-major from the top-left, with y increasing upward.
const (
	QuadTopLeft = iota
	QuadTopRight
	QuadBottomLeft
	QuadBottomRight
)

// GridConfig controls how the quadtree subdivides.
type GridConfig struct {
	// MaxPointsPerCell is the occupancy threshold above which a cell
	// is considered for splitting.
	MaxPointsPerCell int
	// MinCellSize and MaxCellSize bound the side length of leaf cells.
	// Both must be powers of two (fractional powers such as 0.5 are
	// allowed) with MinCellSize <= MaxCellSize.
	MinCellSize, MaxCellSize float64
	// Alignment is the coordinate multiple the root cell origin and
	// size are snapped to. Zero means DefaultAlignment.
	Alignment float64
}

// withDefaults fills unset optional fields.
func (c GridConfig) withDefaults() GridConfig {
	if c.Alignment == 0 {
		c.Alignment = DefaultAlignment
	}
	return c
}

// Validate checks the configuration for internal consistency.
func (c GridConfig) Validate() error {
	c = c.withDefaults()
	if c.MaxPointsPerCell < 1 {
		return fmt.Errorf("bathygrid: max points per cell must be at least 1, got %d: %w",
			c.MaxPointsPerCell, ErrInvalidConfiguration)
	}
	if c.MinCellSize <= 0 || c.MaxCellSize <= 0 {
		return fmt.Errorf("bathygrid: cell sizes must be positive: %w", ErrInvalidConfiguration)
	}
	if c.MinCellSize > c.MaxCellSize {
		return fmt.Errorf("bathygrid: min cell size %g exceeds max cell size %g: %w",
			c.MinCellSize, c.MaxCellSize, ErrInvalidConfiguration)
	}
	for _, v := range []float64{c.MinCellSize, c.MaxCellSize, c.Alignment} {
		if !isPowerOfTwo(v) {
			return fmt.Errorf("bathygrid: %g is not a power of two: %w", v, ErrInvalidConfiguration)
		}
	}
	return nil
}

// isPowerOfTwo reports whether v is an integer or fractional power of two
// (..., 0.25, 0.5, 1, 2, 4, ...).
func isPowerOfTwo(v float64) bool {
	if v <= 0 {
		return false
	}
	l := math.Log2(v)
	return l == math.Trunc(l)
}

// A Node is one cell of the quadtree. Nodes are stored in a flat arena and
// refer to each other by index, so the tree serializes without pointer
// cycles. A node is a leaf when all four children are NoNode.
type Node struct {
	Bounds   geom.Bounds
	Parent   int32
	Children [4]int32
	// Location is the quadrant path from the root to this node.
	Location []uint8
	// Points holds buffer row indices for leaves; interior nodes hold none.
	Points []int32
	// Stat is the index into the grid's leaf statistics, or NoNode for
	// interior and empty nodes.
	Stat int32
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Children[0] == NoNode && n.Children[1] == NoNode &&
		n.Children[2] == NoNode && n.Children[3] == NoNode
}

// Width returns the side length of the (square) cell.
func (n *Node) Width() float64 { return n.Bounds.Max.X - n.Bounds.Min.X }

// Tree is an adaptive quadtree over rows of a PointBuffer. The zero value
// is not usable; build trees with BuildTree.
type Tree struct {
	Config GridConfig
	Nodes  []Node
}

// alignedBounds snaps the data envelope outward to the alignment grid and
// grows it into a square whose side is a multiple of the alignment, so that
// independently built grids over the same area tile identically.
func alignedBounds(xs, ys []float64, align float64) geom.Bounds {
	minX, maxX := xs[0], xs[0]
	for _, v := range xs[1:] {
		minX = math.Min(minX, v)
		maxX = math.Max(maxX, v)
	}
	minY, maxY := ys[0], ys[0]
	for _, v := range ys[1:] {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}
	ox := math.Floor(minX/align) * align
	oy := math.Floor(minY/align) * align
	side := math.Max(maxX-ox, maxY-oy)
	side = math.Ceil(side/align) * align
	if side == 0 {
		side = align
	}
	return geom.Bounds{
		Min: geom.Point{X: ox, Y: oy},
		Max: geom.Point{X: ox + side, Y: oy + side},
	}
}

// quadrantOf assigns a point to one quadrant of a cell. Points on the
// midlines belong to the first quadrant that contains them in top-left,
// top-right, bottom-left, bottom-right order, so every point in the cell
// maps to exactly one child. Query and build must agree on this rule.
func quadrantOf(b geom.Bounds, x, y float64) int {
	midX := b.Min.X + (b.Max.X-b.Min.X)/2
	midY := b.Min.Y + (b.Max.Y-b.Min.Y)/2
	if x <= midX && y >= midY {
		return QuadTopLeft
	}
	if x >= midX && y >= midY {
		return QuadTopRight
	}
	if x <= midX && y <= midY {
		return QuadBottomLeft
	}
	return QuadBottomRight
}

// quadrantBounds returns the bounds of child quadrant q of b.
func quadrantBounds(b geom.Bounds, q int) geom.Bounds {
	midX := b.Min.X + (b.Max.X-b.Min.X)/2
	midY := b.Min.Y + (b.Max.Y-b.Min.Y)/2
	switch q {
	case QuadTopLeft:
		return geom.Bounds{Min: geom.Point{X: b.Min.X, Y: midY}, Max: geom.Point{X: midX, Y: b.Max.Y}}
	case QuadTopRight:
		return geom.Bounds{Min: geom.Point{X: midX, Y: midY}, Max: b.Max}
	case QuadBottomLeft:
		return geom.Bounds{Min: b.Min, Max: geom.Point{X: midX, Y: midY}}
	default:
		return geom.Bounds{Min: geom.Point{X: midX, Y: b.Min.Y}, Max: geom.Point{X: b.Max.X, Y: midY}}
	}
}

// candidateCounts counts the points of a cell that fall in each quadrant
// under the overlapping midline masks, where a point exactly on a midline
// counts toward every quadrant it touches. These counts drive the split
// decision; the final one-to-one assignment uses quadrantOf.
func candidateCounts(b geom.Bounds, pts []int32, xs, ys []float64) [4]int {
	midX := b.Min.X + (b.Max.X-b.Min.X)/2
	midY := b.Min.Y + (b.Max.Y-b.Min.Y)/2
	var c [4]int
	for _, i := range pts {
		x, y := xs[i], ys[i]
		if x <= midX && y >= midY {
			c[QuadTopLeft]++
		}
		if x >= midX && y >= midY {
			c[QuadTopRight]++
		}
		if x <= midX && y <= midY {
			c[QuadBottomLeft]++
		}
		if x >= midX && y <= midY {
			c[QuadBottomRight]++
		}
	}
	return c
}

// shouldSplit decides whether a cell subdivides. A cell splits when halving
// it would not violate the minimum cell size, when it is over-occupied,
// oversized, or concentrated in a single quadrant, and when splitting would
// not scatter its points into under-occupied children.
func (t *Tree) shouldSplit(b geom.Bounds, pts []int32, xs, ys []float64) bool {
	w := b.Max.X - b.Min.X
	if w/2 < t.Config.MinCellSize {
		return false
	}
	n := len(pts)
	pointCheck := n > t.Config.MaxPointsPerCell
	maxSizeCheck := w > t.Config.MaxCellSize
	var counts [4]int
	emptyQuad := false
	if n > 0 && n <= t.Config.MaxPointsPerCell {
		counts = candidateCounts(b, pts, xs, ys)
		empties := 0
		for _, c := range counts {
			if c == 0 {
				empties++
			}
		}
		emptyQuad = empties == 3
	}
	if !pointCheck && !maxSizeCheck && !emptyQuad {
		return false
	}
	// Cells holding no more than a quad's worth of points always pass the
	// scatter check, so an oversized cell splits down to MaxCellSize even
	// when its few points land in different quadrants.
	tooFew := true
	if n > t.Config.MaxPointsPerCell && n <= 4*t.Config.MaxPointsPerCell {
		counts = candidateCounts(b, pts, xs, ys)
		for _, c := range counts {
			if c != 0 && c < t.Config.MaxPointsPerCell {
				tooFew = false
				break
			}
		}
	}
	return tooFew
}

// BuildTree constructs the quadtree for the given buffer. The root covers
// bounds, which must be an alignment-snapped square; pass a zero bounds to
// derive it from the data. Every buffer row is assigned to exactly one leaf.
func BuildTree(cfg GridConfig, buf *PointBuffer, bounds geom.Bounds) (*Tree, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buf == nil || buf.IsEmpty() {
		return nil, fmt.Errorf("bathygrid: cannot build a tree from an empty point buffer: %w", ErrInvalidPointData)
	}
	if bounds == (geom.Bounds{}) {
		bounds = alignedBounds(buf.X, buf.Y, cfg.Alignment)
	}
	t := &Tree{Config: cfg}
	root := Node{Bounds: bounds, Parent: NoNode, Children: [4]int32{NoNode, NoNode, NoNode, NoNode}, Stat: NoNode}
	root.Points = make([]int32, buf.Len())
	for i := range root.Points {
		root.Points[i] = int32(i)
	}
	t.Nodes = append(t.Nodes, root)
	t.split(0, buf.X, buf.Y)
	return t, nil
}

// split recursively subdivides the node at index i. Nodes are re-fetched by
// index after every arena append because appends may move the backing array.
func (t *Tree) split(i int32, xs, ys []float64) {
	b := t.Nodes[i].Bounds
	pts := t.Nodes[i].Points
	if !t.shouldSplit(b, pts, xs, ys) {
		return
	}
	var childPts [4][]int32
	for _, p := range pts {
		q := quadrantOf(b, xs[p], ys[p])
		childPts[q] = append(childPts[q], p)
	}
	loc := t.Nodes[i].Location
	for q := 0; q < 4; q++ {
		child := Node{
			Bounds:   quadrantBounds(b, q),
			Parent:   i,
			Children: [4]int32{NoNode, NoNode, NoNode, NoNode},
			Location: append(append([]uint8{}, loc...), uint8(q)),
			Points:   childPts[q],
			Stat:     NoNode,
		}
		ci := int32(len(t.Nodes))
		t.Nodes = append(t.Nodes, child)
		t.Nodes[i].Children[q] = ci
	}
	t.Nodes[i].Points = nil
	for q := 0; q < 4; q++ {
		t.split(t.Nodes[i].Children[q], xs, ys)
	}
}

// TraverseLeaves returns a restartable iterator over the arena indices of
// all leaf nodes in depth-first order. The second return value is false
// when the traversal is exhausted.
func (t *Tree) TraverseLeaves() func() (int, bool) {
	stack := []int32{0}
	if len(t.Nodes) == 0 {
		stack = nil
	}
	return func() (int, bool) {
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := &t.Nodes[i]
			if n.IsLeaf() {
				return int(i), true
			}
			// Push in reverse so children pop in quadrant order.
			for q := 3; q >= 0; q-- {
				if c := n.Children[q]; c != NoNode {
					stack = append(stack, c)
				}
			}
		}
		return -1, false
	}
}

// Locate follows a quadrant path from the root and returns the arena index
// of the node it ends at. Path elements must be quadrant indices 0 through
// 3. When the path leaves the built tree, Locate returns ErrChildNotFound,
// or int(NoNode) with a nil error when silent is set.
func (t *Tree) Locate(path []int, silent bool) (int, error) {
	i := int32(0)
	if len(t.Nodes) == 0 {
		return int(NoNode), fmt.Errorf("bathygrid: tree is empty: %w", ErrChildNotFound)
	}
	for depth, q := range path {
		if q < 0 || q > 3 {
			return int(NoNode), fmt.Errorf("bathygrid: quadrant %d at depth %d: %w", q, depth, ErrInvalidChildIndex)
		}
		c := t.Nodes[i].Children[q]
		if c == NoNode {
			if silent {
				return int(NoNode), nil
			}
			return int(NoNode), fmt.Errorf("bathygrid: no child %d at depth %d: %w", q, depth, ErrChildNotFound)
		}
		i = c
	}
	return int(i), nil
}

// QueryPoint returns the arena index of the leaf whose cell contains the
// point, or int(NoNode) when the point falls outside the root cell. Every
// point inside the root resolves to exactly one leaf.
func (t *Tree) QueryPoint(x, y float64) int {
	if len(t.Nodes) == 0 {
		return int(NoNode)
	}
	b := t.Nodes[0].Bounds
	if x < b.Min.X || x > b.Max.X || y < b.Min.Y || y > b.Max.Y {
		return int(NoNode)
	}
	i := int32(0)
	for !t.Nodes[i].IsLeaf() {
		q := quadrantOf(t.Nodes[i].Bounds, x, y)
		i = t.Nodes[i].Children[q]
	}
	return int(i)
}

// Siblings returns the arena indices of the other children of node i's
// parent. The root has none.
func (t *Tree) Siblings(i int) []int {
	p := t.Nodes[i].Parent
	if p == NoNode {
		return nil
	}
	var out []int
	for _, c := range t.Nodes[p].Children {
		if c != NoNode && c != int32(i) {
			out = append(out, int(c))
		}
	}
	return out
}

// MaxDepth returns the depth of the deepest node, with the root at depth 0.
func (t *Tree) MaxDepth() int {
	d := 0
	for i := range t.Nodes {
		if l := len(t.Nodes[i].Location); l > d {
			d = l
		}
	}
	return d
}

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
	"math"
	"sort"
)

// Edge directions used when probing for orthogonal neighbors.
const (
	edgeTop = iota
	edgeRight
	edgeBottom
	edgeLeft
)

// borderChildren lists, for a neighbor found in each direction, the two
// child quadrants of that neighbor that touch the shared border. A neighbor
// above us faces us with its bottom children, and so on.
var borderChildren = [4][2]int{
	edgeTop:    {QuadBottomLeft, QuadBottomRight},
	edgeRight:  {QuadTopLeft, QuadBottomLeft},
	edgeBottom: {QuadTopLeft, QuadTopRight},
	edgeLeft:   {QuadTopRight, QuadBottomRight},
}

// Neighbors returns the arena indices of every leaf sharing an edge or a
// corner with leaf i. Edge neighbors larger than i are found whole; edge
// neighbors smaller than i are enumerated down to the leaves lining the
// shared border. Leaves on the root boundary simply have fewer neighbors.
func (t *Tree) Neighbors(i int) []int {
	n := &t.Nodes[i]
	b := n.Bounds
	w := n.Width()
	cx := b.Min.X + w/2
	cy := b.Min.Y + w/2
	depth := len(n.Location)

	found := map[int]bool{}

	// Orthogonal: probe half a cell beyond each edge midpoint, walk back
	// up to a cell of our own size, then collect the leaves lining the
	// shared border.
	probes := [4][2]float64{
		edgeTop:    {cx, b.Max.Y + w/2},
		edgeRight:  {b.Max.X + w/2, cy},
		edgeBottom: {cx, b.Min.Y - w/2},
		edgeLeft:   {b.Min.X - w/2, cy},
	}
	for dir, p := range probes {
		leaf := t.QueryPoint(p[0], p[1])
		if leaf == int(NoNode) {
			continue
		}
		loc := t.Nodes[leaf].Location
		if len(loc) <= depth {
			// The neighbor is our size or larger; it is a leaf itself.
			found[leaf] = true
			continue
		}
		path := make([]int, depth)
		for k := 0; k < depth; k++ {
			path[k] = int(loc[k])
		}
		anc, err := t.Locate(path, true)
		if err != nil || anc == int(NoNode) {
			continue
		}
		t.collectBorderLeaves(int32(anc), dir, found)
	}

	// Diagonal: probe just beyond each corner by half the smallest cell
	// the tree could contain, so the probe cannot overshoot a neighbor.
	eps := (t.Nodes[0].Bounds.Max.X - t.Nodes[0].Bounds.Min.X) /
		math.Pow(2, float64(t.MaxDepth())) / 2
	corners := [4][2]float64{
		{b.Min.X - eps, b.Max.Y + eps},
		{b.Max.X + eps, b.Max.Y + eps},
		{b.Min.X - eps, b.Min.Y - eps},
		{b.Max.X + eps, b.Min.Y - eps},
	}
	for _, p := range corners {
		if leaf := t.QueryPoint(p[0], p[1]); leaf != int(NoNode) {
			found[leaf] = true
		}
	}

	delete(found, i)
	out := make([]int, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// collectBorderLeaves descends from node i, following only the children
// that touch the border named by dir, and records the leaves it reaches.
func (t *Tree) collectBorderLeaves(i int32, dir int, found map[int]bool) {
	if t.Nodes[i].IsLeaf() {
		found[int(i)] = true
		return
	}
	for _, q := range borderChildren[dir] {
		if c := t.Nodes[i].Children[q]; c != NoNode {
			t.collectBorderLeaves(c, dir, found)
		}
	}
}

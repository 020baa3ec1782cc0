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
	"errors"
	"testing"

	"github.com/ctessum/geom"
)

func TestGridConfigValidate(t *testing.T) {
	good := clusterGridConfig()
	if err := good.Validate(); err != nil {
		t.Error(err)
	}
	bad := []GridConfig{
		{MaxPointsPerCell: 0, MinCellSize: 0.5, MaxCellSize: 128},
		{MaxPointsPerCell: 5, MinCellSize: 3, MaxCellSize: 128},
		{MaxPointsPerCell: 5, MinCellSize: 0.5, MaxCellSize: 100},
		{MaxPointsPerCell: 5, MinCellSize: 256, MaxCellSize: 128},
		{MaxPointsPerCell: 5, MinCellSize: -1, MaxCellSize: 128},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("config %d: err = %v, want ErrInvalidConfiguration", i, err)
		}
	}
	// Fractional powers of two are valid resolutions.
	frac := GridConfig{MaxPointsPerCell: 5, MinCellSize: 0.25, MaxCellSize: 64}
	if err := frac.Validate(); err != nil {
		t.Error(err)
	}
}

func TestAlignedBounds(t *testing.T) {
	cases := []struct {
		xs, ys []float64
		want   geom.Bounds
	}{
		{
			[]float64{10, 200}, []float64{10, 200},
			geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 512, Y: 512}},
		},
		{
			[]float64{600, 700}, []float64{100, 1100},
			geom.Bounds{Min: geom.Point{X: 512, Y: 0}, Max: geom.Point{X: 512 + 1536, Y: 1536}},
		},
		{
			[]float64{-10, 10}, []float64{-10, 10},
			geom.Bounds{Min: geom.Point{X: -512, Y: -512}, Max: geom.Point{X: 512, Y: 512}},
		},
	}
	for i, c := range cases {
		got := alignedBounds(c.xs, c.ys, DefaultAlignment)
		if got != c.want {
			t.Errorf("case %d: aligned bounds = %v, want %v", i, got, c.want)
		}
		if w, h := got.Max.X-got.Min.X, got.Max.Y-got.Min.Y; w != h {
			t.Errorf("case %d: bounds are not square: %g x %g", i, w, h)
		}
	}
}

// Twenty points in four clusters with max cell size 128 must produce a
// sixteen leaf tree two levels deep, with each cluster in its own cell.
func TestTreeStructure(t *testing.T) {
	g := newClusterGrid(t)
	tr := g.Tree

	var leaves, populated int
	next := tr.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		n := &tr.Nodes[i]
		leaves++
		if len(n.Points) > 0 {
			populated++
			if len(n.Points) != 5 {
				t.Errorf("populated leaf holds %d points, want 5", len(n.Points))
			}
			if n.Width() != 128 {
				t.Errorf("populated leaf width = %g, want 128", n.Width())
			}
		}
		if len(n.Points) > tr.Config.MaxPointsPerCell {
			t.Errorf("leaf holds %d points, over the limit %d", len(n.Points), tr.Config.MaxPointsPerCell)
		}
	}
	if leaves != 16 {
		t.Errorf("leaf count = %d, want 16", leaves)
	}
	if populated != 4 {
		t.Errorf("populated leaf count = %d, want 4", populated)
	}
	if d := tr.MaxDepth(); d != 2 {
		t.Errorf("max depth = %d, want 2", d)
	}

	// Interior nodes hold no points and children quarter their parent.
	for i := range tr.Nodes {
		n := &tr.Nodes[i]
		if !n.IsLeaf() && len(n.Points) != 0 {
			t.Errorf("interior node %d holds %d points", i, len(n.Points))
		}
		for _, c := range n.Children {
			if c == NoNode {
				continue
			}
			if tr.Nodes[c].Width() != n.Width()/2 {
				t.Errorf("child width %g is not half of parent width %g", tr.Nodes[c].Width(), n.Width())
			}
			if tr.Nodes[c].Parent != int32(i) {
				t.Errorf("child %d has parent %d, want %d", c, tr.Nodes[c].Parent, i)
			}
		}
	}
}

// Every stored point must resolve through QueryPoint to the leaf that
// holds it.
func TestTreeCoverage(t *testing.T) {
	g := newClusterGrid(t)
	tr := g.Tree
	for row := 0; row < g.Points.Len(); row++ {
		x, y := g.Points.X[row], g.Points.Y[row]
		i := tr.QueryPoint(x, y)
		if i == int(NoNode) {
			t.Errorf("point (%g, %g) resolves to no leaf", x, y)
			continue
		}
		held := false
		for _, p := range tr.Nodes[i].Points {
			if p == int32(row) {
				held = true
				break
			}
		}
		if !held {
			t.Errorf("point (%g, %g) resolves to a leaf that does not hold it", x, y)
		}
	}
	if i := tr.QueryPoint(-1, 50); i != int(NoNode) {
		t.Errorf("QueryPoint outside root = %d, want none", i)
	}
	if i := tr.QueryPoint(513, 50); i != int(NoNode) {
		t.Errorf("QueryPoint outside root = %d, want none", i)
	}
}

// With min and max cell size equal to the root size, a lone sounding never
// forces a split and the root itself is the gridded cell.
func TestTreeSinglePointRootLeaf(t *testing.T) {
	cfg := GridConfig{MaxPointsPerCell: 5, MinCellSize: 512, MaxCellSize: 512}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d := &PointData{X: []float64{10}, Y: []float64{10}, Z: []float32{42}}
	if err := g.Create(d, "c", "EPSG:26917", "mllw", []string{"l.all"}); err != nil {
		t.Fatal(err)
	}
	tr := g.Tree
	if len(tr.Nodes) != 1 || !tr.Nodes[0].IsLeaf() {
		t.Fatalf("tree has %d nodes, want a lone root leaf", len(tr.Nodes))
	}
	want := geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 512, Y: 512}}
	if tr.Nodes[0].Bounds != want {
		t.Errorf("root bounds = %v, want %v", tr.Nodes[0].Bounds, want)
	}
	if tr.Nodes[0].Stat == NoNode {
		t.Fatal("root leaf has no statistics")
	}
	if s := g.Stats[tr.Nodes[0].Stat]; s.Z != 42 {
		t.Errorf("mean z = %g, want 42", s.Z)
	}
	if d := tr.MaxDepth(); d != 0 {
		t.Errorf("max depth = %d, want 0", d)
	}
}

// A lone cluster in the corner of an oversized cell splits down to a
// localized leaf instead of leaving one large mostly empty cell.
func TestTreeEmptyQuadrantSplit(t *testing.T) {
	cfg := GridConfig{MaxPointsPerCell: 5, MinCellSize: 32, MaxCellSize: 512}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d := &PointData{
		X: []float64{10, 40, 10, 40, 25},
		Y: []float64{10, 10, 40, 40, 25},
		Z: []float32{1, 1, 1, 1, 1},
	}
	if err := g.Create(d, "c", "EPSG:26917", "mllw", []string{"l.all"}); err != nil {
		t.Fatal(err)
	}
	// Without the empty quadrant rule this would be a single 512 leaf.
	i := g.Tree.QueryPoint(25, 25)
	if i == int(NoNode) {
		t.Fatal("cluster resolves to no leaf")
	}
	if w := g.Tree.Nodes[i].Width(); w != 64 {
		t.Errorf("cluster leaf width = %g, want 64", w)
	}
	if len(g.Tree.Nodes[i].Points) != 5 {
		t.Errorf("cluster leaf holds %d points, want 5", len(g.Tree.Nodes[i].Points))
	}
}

// A handful of points scattered across quadrants must not keep an
// oversized cell from splitting down to the maximum cell size.
func TestTreeSparsePointsSplitOversizedCell(t *testing.T) {
	cfg := GridConfig{MaxPointsPerCell: 5, MinCellSize: 128, MaxCellSize: 128}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	d := &PointData{
		X: []float64{10, 300},
		Y: []float64{10, 300},
		Z: []float32{1, 2},
	}
	if err := g.Create(d, "c", "EPSG:26917", "mllw", []string{"l.all"}); err != nil {
		t.Fatal(err)
	}
	var leaves int
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		leaves++
		if w := g.Tree.Nodes[i].Width(); w > cfg.MaxCellSize {
			t.Errorf("leaf width = %g exceeds the maximum cell size %g", w, cfg.MaxCellSize)
		}
	}
	if leaves != 16 {
		t.Errorf("leaf count = %d, want 16", leaves)
	}
	// Each point ends up in its own cell.
	a := g.Tree.QueryPoint(10, 10)
	b := g.Tree.QueryPoint(300, 300)
	if a == int(NoNode) || b == int(NoNode) || a == b {
		t.Errorf("points share leaf %d, %d, want distinct cells", a, b)
	}
	if w := g.Tree.Nodes[a].Width(); w != 128 {
		t.Errorf("leaf width = %g, want 128", w)
	}
}

func TestTreeLocate(t *testing.T) {
	g := newClusterGrid(t)
	tr := g.Tree

	// The cluster at (64, 64) lives at bottom-left, bottom-left.
	i, err := tr.Locate([]int{QuadBottomLeft, QuadBottomLeft}, false)
	if err != nil {
		t.Fatal(err)
	}
	want := geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 128, Y: 128}}
	if tr.Nodes[i].Bounds != want {
		t.Errorf("located bounds = %v, want %v", tr.Nodes[i].Bounds, want)
	}

	if _, err := tr.Locate([]int{5}, false); !errors.Is(err, ErrInvalidChildIndex) {
		t.Errorf("bad quadrant: err = %v, want ErrInvalidChildIndex", err)
	}
	if _, err := tr.Locate([]int{0, 0, 0, 0, 0}, false); !errors.Is(err, ErrChildNotFound) {
		t.Errorf("path past the leaves: err = %v, want ErrChildNotFound", err)
	}
	i, err = tr.Locate([]int{0, 0, 0, 0, 0}, true)
	if err != nil || i != int(NoNode) {
		t.Errorf("silent locate = %d, %v; want no node and no error", i, err)
	}
}

// TraverseLeaves is restartable: two traversals yield the same sequence.
func TestTraverseLeavesRestartable(t *testing.T) {
	g := newClusterGrid(t)
	var first, second []int
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		first = append(first, i)
	}
	next = g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		second = append(second, i)
	}
	if len(first) != len(second) {
		t.Fatalf("traversals yield %d and %d leaves", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("traversals diverge at position %d: %d != %d", i, first[i], second[i])
		}
	}
	seen := map[int]bool{}
	for _, i := range first {
		if seen[i] {
			t.Errorf("leaf %d yielded twice", i)
		}
		seen[i] = true
	}
}

func TestSiblings(t *testing.T) {
	g := newClusterGrid(t)
	tr := g.Tree
	if s := tr.Siblings(0); s != nil {
		t.Errorf("root siblings = %v, want none", s)
	}
	i := leafAt(t, tr, 64, 64)
	sibs := tr.Siblings(i)
	if len(sibs) != 3 {
		t.Fatalf("sibling count = %d, want 3", len(sibs))
	}
	parent := tr.Nodes[i].Parent
	for _, s := range sibs {
		if s == i {
			t.Error("a node is its own sibling")
		}
		if tr.Nodes[s].Parent != parent {
			t.Errorf("sibling %d has parent %d, want %d", s, tr.Nodes[s].Parent, parent)
		}
	}
}

func TestQuadrantOf(t *testing.T) {
	b := geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 100, Y: 100}}
	cases := []struct {
		x, y float64
		want int
	}{
		{10, 90, QuadTopLeft},
		{90, 90, QuadTopRight},
		{10, 10, QuadBottomLeft},
		{90, 10, QuadBottomRight},
		// Midline points are assigned to the first matching quadrant.
		{50, 50, QuadTopLeft},
		{50, 10, QuadBottomLeft},
		{90, 50, QuadTopRight},
	}
	for _, c := range cases {
		if got := quadrantOf(b, c.x, c.y); got != c.want {
			t.Errorf("quadrantOf(%g, %g) = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

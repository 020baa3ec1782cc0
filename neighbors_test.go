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
	"testing"

	"github.com/ctessum/geom"
)

// uniformTree builds a 4x4 grid of 128 unit leaves by forcing subdivision
// with the maximum cell size while the minimum cell size stops anything
// deeper.
func uniformTree(t *testing.T) *Tree {
	cfg := GridConfig{MaxPointsPerCell: 5, MinCellSize: 128, MaxCellSize: 128}
	buf := &PointBuffer{X: []float64{10}, Y: []float64{10}, Z: []float32{1}}
	tr, err := BuildTree(cfg, buf, geom.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// leafAt resolves a coordinate to its leaf and fails the test if there is
// none.
func leafAt(t *testing.T, tr *Tree, x, y float64) int {
	t.Helper()
	i := tr.QueryPoint(x, y)
	if i == int(NoNode) {
		t.Fatalf("no leaf at (%g, %g)", x, y)
	}
	return i
}

// checkNeighbors compares a neighbor list against the leaves at the given
// probe coordinates.
func checkNeighbors(t *testing.T, tr *Tree, got []int, wantAt [][2]float64) {
	t.Helper()
	want := map[int]bool{}
	for _, p := range wantAt {
		want[leafAt(t, tr, p[0], p[1])] = true
	}
	if len(got) != len(want) {
		t.Errorf("neighbor count = %d, want %d (%v)", len(got), len(want), got)
	}
	for _, i := range got {
		if !want[i] {
			t.Errorf("unexpected neighbor %v", tr.Nodes[i].Bounds)
		}
	}
}

func TestNeighborsUniform(t *testing.T) {
	tr := uniformTree(t)

	// An interior cell touches eight cells.
	checkNeighbors(t, tr, tr.Neighbors(leafAt(t, tr, 192, 192)), [][2]float64{
		{64, 64}, {192, 64}, {320, 64},
		{64, 192}, {320, 192},
		{64, 320}, {192, 320}, {320, 320},
	})

	// A corner cell touches three.
	checkNeighbors(t, tr, tr.Neighbors(leafAt(t, tr, 64, 64)), [][2]float64{
		{192, 64}, {64, 192}, {192, 192},
	})

	// An edge cell touches five.
	checkNeighbors(t, tr, tr.Neighbors(leafAt(t, tr, 192, 64)), [][2]float64{
		{64, 64}, {320, 64},
		{64, 192}, {192, 192}, {320, 192},
	})
}

// mixedTree clusters six points in one corner so a single 128 cell is
// subdivided into 64 unit leaves while its surroundings stay at 128.
func mixedTree(t *testing.T) *Tree {
	cfg := GridConfig{MaxPointsPerCell: 5, MinCellSize: 64, MaxCellSize: 128}
	buf := &PointBuffer{
		X: []float64{10, 20, 30, 40, 50, 60},
		Y: []float64{70, 80, 90, 100, 110, 120},
		Z: []float32{1, 1, 1, 1, 1, 1},
	}
	tr, err := BuildTree(cfg, buf, geom.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestNeighborsAcrossDepths(t *testing.T) {
	tr := mixedTree(t)

	// The populated 64 leaf must exist where the cluster is.
	deep := leafAt(t, tr, 30, 90)
	if w := tr.Nodes[deep].Width(); w != 64 {
		t.Fatalf("cluster leaf width = %g, want 64", w)
	}

	// A coarse cell bordering the subdivided cell sees the two 64 leaves
	// lining the shared edge, not the subdivided cell as a whole.
	coarse := leafAt(t, tr, 192, 64)
	checkNeighbors(t, tr, tr.Neighbors(coarse), [][2]float64{
		{96, 96}, {96, 32}, // the 64 leaves along the shared edge
		{192, 192}, // above
		{320, 64},  // right
		{64, 192}, {320, 192}, // diagonals
	})

	// The deep leaf sees its same size siblings and the whole larger
	// cell above it.
	checkNeighbors(t, tr, tr.Neighbors(deep), [][2]float64{
		{64, 192}, // the larger cell above
		{96, 96}, {32, 32}, // right and below
		{96, 32}, // diagonal
	})
}

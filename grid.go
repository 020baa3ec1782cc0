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
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"gonum.org/v1/gonum/floats"
)

// Layer names accepted by gridded-data accessors and exports, mapped to the
// point buffer columns that back them.
var layerColumns = map[string]string{
	"depth":                  ColZ,
	"vertical_uncertainty":   ColTVU,
	"horizontal_uncertainty": ColTHU,
	ColZ:                     ColZ,
	ColTVU:                   ColTVU,
	ColTHU:                   ColTHU,
}

// LayerNames returns the gridded layer names the grid carries data for.
func (g *Grid) LayerNames() []string {
	var names []string
	if g.Points == nil {
		return nil
	}
	if g.Points.Z != nil {
		names = append(names, "depth")
	}
	if g.Points.TVU != nil {
		names = append(names, "vertical_uncertainty")
	}
	if g.Points.THU != nil {
		names = append(names, "horizontal_uncertainty")
	}
	return names
}

// LayerColumn resolves a gridded layer name to its backing buffer column.
func LayerColumn(layer string) (string, error) {
	if c, ok := layerColumns[layer]; ok {
		return c, nil
	}
	return "", fmt.Errorf("bathygrid: layer %q: %w", layer, ErrColumnNotFound)
}

// A LeafStat is the gridded summary of one populated leaf cell: the cell
// center and the mean of each data column over the cell's soundings.
// Uncertainty means skip no-data values; a mean over no data is NaN.
type LeafStat struct {
	X, Y float64
	Z    float32
	TVU  float32
	THU  float32
}

// Grid is a quadtree-gridded bathymetric surface. It owns the point
// buffer, the spatial index over it, per-leaf statistics, and the source
// bookkeeping needed to add and remove whole containers of soundings.
//
// Exported fields are serialized by the persistence backends; the r-tree
// leaf index is derived state and is rebuilt on load.
type Grid struct {
	Config GridConfig
	Points *PointBuffer
	Tree   *Tree
	// Stats holds one entry per populated leaf, indexed by Node.Stat.
	Stats []LeafStat
	// Sources maps a container name to the data files it contributed.
	Sources map[string][]string
	// Ranges maps a container name to its row ranges in Points.
	Ranges map[string][]IndexRange

	CRS               string
	VerticalReference string

	// Grid-wide extrema over the populated leaves.
	MinZ, MaxZ     float32
	MinTVU, MaxTVU float32

	index   *rtree.Rtree
	logChan chan string
}

// New returns an empty grid with the given configuration.
func New(cfg GridConfig) (*Grid, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
		Config:  cfg,
		Points:  &PointBuffer{},
		Sources: make(map[string][]string),
		Ranges:  make(map[string][]IndexRange),
	}, nil
}

// SetLogChan directs progress and data-quality messages to c. A nil
// channel silences them.
func (g *Grid) SetLogChan(c chan string) { g.logChan = c }

func (g *Grid) logf(format string, args ...interface{}) {
	if g.logChan != nil {
		g.logChan <- fmt.Sprintf(format, args...)
	}
}

// IsEmpty reports whether the grid holds no soundings.
func (g *Grid) IsEmpty() bool { return g.Points == nil || g.Points.IsEmpty() }

// PointCount returns the number of soundings in the grid.
func (g *Grid) PointCount() int {
	if g.Points == nil {
		return 0
	}
	return g.Points.Len()
}

// CellCount returns the number of populated leaf cells.
func (g *Grid) CellCount() int { return len(g.Stats) }

// Extents returns the root cell bounds, or a zero bounds for an empty grid.
func (g *Grid) Extents() geom.Bounds {
	if g.Tree == nil || len(g.Tree.Nodes) == 0 {
		return geom.Bounds{}
	}
	return g.Tree.Nodes[0].Bounds
}

// checkMetadata verifies that new data is compatible with the grid's
// coordinate system and vertical reference, and that none of its files
// were already added. CRS strings compare by exact match; proj4 strings
// must also parse.
func (g *Grid) checkMetadata(container, crs, verticalReference string, files []string) error {
	if strings.HasPrefix(crs, "+") {
		if _, err := proj.Parse(crs); err != nil {
			return fmt.Errorf("bathygrid: parsing CRS %q: %w", crs, err)
		}
	}
	if g.CRS != "" && crs != "" && g.CRS != crs {
		return fmt.Errorf("bathygrid: grid CRS is %q but new data is in %q: %w",
			g.CRS, crs, ErrCrsMismatch)
	}
	if g.VerticalReference != "" && verticalReference != "" && g.VerticalReference != verticalReference {
		return fmt.Errorf("bathygrid: grid vertical reference is %q but new data uses %q: %w",
			g.VerticalReference, verticalReference, ErrVerticalReferenceMismatch)
	}
	seen := make(map[string]string)
	for c, fs := range g.Sources {
		for _, f := range fs {
			seen[f] = c
		}
	}
	for _, f := range files {
		if c, ok := seen[f]; ok {
			return fmt.Errorf("bathygrid: file %q was already added by container %q: %w",
				f, c, ErrInvalidPointData)
		}
	}
	return nil
}

// recordSource stores container and file provenance for a new row range.
func (g *Grid) recordSource(container string, files []string, r IndexRange) {
	g.Sources[container] = append(g.Sources[container], files...)
	g.Ranges[container] = append(g.Ranges[container], r)
}

// Create builds the initial grid from a first batch of points. It fails if
// the grid already holds data; use AddPoints to grow an existing grid.
func (g *Grid) Create(data *PointData, container, crs, verticalReference string, files []string) error {
	if g.Tree != nil {
		return fmt.Errorf("bathygrid: grid already exists, use AddPoints: %w", ErrInvalidConfiguration)
	}
	return g.AddPoints(data, container, crs, verticalReference, files)
}

// AddPoints appends a container's soundings and regrids. The first add
// establishes the grid's CRS, vertical reference, and aligned root cell.
// Later adds must match the established metadata and fall inside the root
// cell; the input is fully validated before the grid is modified, so a
// failed add leaves the grid unchanged.
func (g *Grid) AddPoints(data *PointData, container, crs, verticalReference string, files []string) error {
	if err := data.validate(); err != nil {
		return err
	}
	if err := g.checkMetadata(container, crs, verticalReference, files); err != nil {
		return err
	}
	bounds := geom.Bounds{}
	if g.Tree != nil {
		bounds = g.Tree.Nodes[0].Bounds
		for i := range data.X {
			x, y := data.X[i], data.Y[i]
			if x < bounds.Min.X || x > bounds.Max.X || y < bounds.Min.Y || y > bounds.Max.Y {
				return fmt.Errorf("bathygrid: point (%g, %g) falls outside the grid extents %v: %w",
					x, y, bounds, ErrOutOfBoundsPoint)
			}
		}
	}
	r, warnings, err := g.Points.append(data)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		g.logf("bathygrid: container %s: %s", container, w)
	}
	g.recordSource(container, files, r)
	if g.CRS == "" {
		g.CRS = crs
	}
	if g.VerticalReference == "" {
		g.VerticalReference = verticalReference
	}
	g.logf("bathygrid: gridding %d points from container %s", r.Rows(), container)
	return g.regrid(bounds)
}

// RemovePoints drops a container's soundings and regrids what remains.
// Removing a container the grid never saw logs a warning and is a no-op.
// The root cell does not shrink, so surviving containers keep their cell
// boundaries.
func (g *Grid) RemovePoints(container string) error {
	ranges, ok := g.Ranges[container]
	if !ok {
		g.logf("bathygrid: container %s is not in this grid, nothing to remove", container)
		return nil
	}
	mask := make([]bool, g.Points.Len())
	for i := range mask {
		mask[i] = true
	}
	removed := 0
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			mask[i] = false
			removed++
		}
	}
	sort.Slice(ranges, func(a, b int) bool { return ranges[a].Start < ranges[b].Start })
	g.Points = g.Points.Mask(mask)
	delete(g.Ranges, container)
	delete(g.Sources, container)

	// Shift the surviving containers' row ranges down past the holes.
	for c, rs := range g.Ranges {
		for i, r := range rs {
			rs[i] = IndexRange{
				Start: r.Start - rowsBefore(ranges, r.Start),
				End:   r.End - rowsBefore(ranges, r.End),
			}
		}
		g.Ranges[c] = rs
	}
	g.logf("bathygrid: removed %d points from container %s", removed, container)

	if g.Points.IsEmpty() {
		g.Tree = nil
		g.Stats = nil
		g.index = nil
		g.MinZ, g.MaxZ, g.MinTVU, g.MaxTVU = 0, 0, 0, 0
		return nil
	}
	return g.regrid(g.Tree.Nodes[0].Bounds)
}

// rowsBefore counts rows of the sorted removed ranges at or before row i.
func rowsBefore(removed []IndexRange, i int) int {
	n := 0
	for _, r := range removed {
		if r.End <= i {
			n += r.Rows()
		} else if r.Start < i {
			n += i - r.Start
		}
	}
	return n
}

// regrid rebuilds the tree, the leaf statistics, and the spatial index.
// A zero bounds derives the aligned root from the data.
func (g *Grid) regrid(bounds geom.Bounds) error {
	t, err := BuildTree(g.Config, g.Points, bounds)
	if err != nil {
		return err
	}
	g.Tree = t
	g.buildStats()
	g.buildIndex()
	return nil
}

// buildStats computes per-leaf means with a worker per processor, then the
// grid-wide extrema. Populated leaves are numbered in traversal order so
// repeated builds of the same data yield identical statistics tables.
func (g *Grid) buildStats() {
	var leaves []int
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		if len(g.Tree.Nodes[i].Points) > 0 {
			g.Tree.Nodes[i].Stat = int32(len(leaves))
			leaves = append(leaves, i)
		} else {
			g.Tree.Nodes[i].Stat = NoNode
		}
	}
	g.Stats = make([]LeafStat, len(leaves))

	nprocs := runtime.GOMAXPROCS(-1)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for p := 0; p < nprocs; p++ {
		go func(p int) {
			defer wg.Done()
			for s := p; s < len(leaves); s += nprocs {
				g.Stats[s] = g.leafStat(leaves[s])
			}
		}(p)
	}
	wg.Wait()
	g.updateExtrema()
}

// leafStat summarizes the soundings of one leaf.
func (g *Grid) leafStat(i int) LeafStat {
	n := &g.Tree.Nodes[i]
	w := n.Width()
	s := LeafStat{
		X:   n.Bounds.Min.X + w/2,
		Y:   n.Bounds.Min.Y + w/2,
		Z:   float32(math.NaN()),
		TVU: float32(math.NaN()),
		THU: float32(math.NaN()),
	}
	if g.Points.Z != nil {
		s.Z = meanSkipNaN(g.Points.Z, n.Points)
	}
	if g.Points.TVU != nil {
		s.TVU = meanSkipNaN(g.Points.TVU, n.Points)
	}
	if g.Points.THU != nil {
		s.THU = meanSkipNaN(g.Points.THU, n.Points)
	}
	return s
}

// meanSkipNaN averages col over the given rows, ignoring no-data values.
func meanSkipNaN(col []float32, rows []int32) float32 {
	var sum float64
	var n int
	for _, r := range rows {
		v := float64(col[r])
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return float32(math.NaN())
	}
	return float32(sum / float64(n))
}

// updateExtrema recomputes the grid-wide minima and maxima over the
// populated leaves.
func (g *Grid) updateExtrema() {
	var zs, tvus []float64
	for _, s := range g.Stats {
		if !math.IsNaN(float64(s.Z)) {
			zs = append(zs, float64(s.Z))
		}
		if !math.IsNaN(float64(s.TVU)) {
			tvus = append(tvus, float64(s.TVU))
		}
	}
	g.MinZ, g.MaxZ = 0, 0
	g.MinTVU, g.MaxTVU = 0, 0
	if len(zs) > 0 {
		g.MinZ = float32(floats.Min(zs))
		g.MaxZ = float32(floats.Max(zs))
	}
	if len(tvus) > 0 {
		g.MinTVU = float32(floats.Min(tvus))
		g.MaxTVU = float32(floats.Max(tvus))
	}
}

// leafRef links an r-tree entry back to its tree node.
type leafRef struct {
	geom.Polygonal
	node int
}

// boundsPolygon converts a cell bounds to a polygon ring.
func boundsPolygon(b geom.Bounds) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
	}}
}

// buildIndex rebuilds the r-tree over the populated leaves.
func (g *Grid) buildIndex() {
	g.index = rtree.NewTree(25, 50)
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		if g.Tree.Nodes[i].Stat == NoNode {
			continue
		}
		g.index.Insert(&leafRef{
			Polygonal: boundsPolygon(g.Tree.Nodes[i].Bounds),
			node:      i,
		})
	}
}

// QueryAt returns the gridded statistics of the populated leaf containing
// the point, or nil when the point is outside the grid or in an empty cell.
func (g *Grid) QueryAt(x, y float64) *LeafStat {
	if g.Tree == nil {
		return nil
	}
	i := g.Tree.QueryPoint(x, y)
	if i == int(NoNode) {
		return nil
	}
	s := g.Tree.Nodes[i].Stat
	if s == NoNode {
		return nil
	}
	return &g.Stats[s]
}

// LeavesIntersecting returns the arena indices of populated leaves whose
// cells intersect b, in ascending order.
func (g *Grid) LeavesIntersecting(b *geom.Bounds) []int {
	if g.index == nil {
		return nil
	}
	var out []int
	for _, ref := range g.index.SearchIntersect(b) {
		out = append(out, ref.(*leafRef).node)
	}
	sort.Ints(out)
	return out
}

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
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
)

// ExportMode selects what an XYZ export writes.
type ExportMode int

const (
	// ExportLeaves writes one record per populated grid cell.
	ExportLeaves ExportMode = iota
	// ExportPoints writes every sounding in the grid.
	ExportPoints
)

// xyzRecord is one output row of an XYZ export.
type xyzRecord struct {
	x, y float64
	vals []float32
}

// ExportXYZ writes the grid to a comma separated text file ordered by
// easting. Depths are stored positive down; set zPositiveUp to flip their
// sign for elevation conventions. Uncertainty columns are included when the
// grid carries them.
func (g *Grid) ExportXYZ(path string, mode ExportMode, zPositiveUp bool) error {
	if g.IsEmpty() {
		return fmt.Errorf("bathygrid: nothing to export: %w", ErrInvalidPointData)
	}
	cols := []string{ColX, ColY}
	if g.Points.Z != nil {
		cols = append(cols, ColZ)
	}
	if g.Points.TVU != nil {
		cols = append(cols, ColTVU)
	}
	if g.Points.THU != nil {
		cols = append(cols, ColTHU)
	}

	var recs []xyzRecord
	switch mode {
	case ExportLeaves:
		for _, s := range g.Stats {
			r := xyzRecord{x: s.X, y: s.Y}
			if g.Points.Z != nil {
				r.vals = append(r.vals, s.Z)
			}
			if g.Points.TVU != nil {
				r.vals = append(r.vals, s.TVU)
			}
			if g.Points.THU != nil {
				r.vals = append(r.vals, s.THU)
			}
			recs = append(recs, r)
		}
	case ExportPoints:
		for i := 0; i < g.Points.Len(); i++ {
			r := xyzRecord{x: g.Points.X[i], y: g.Points.Y[i]}
			if g.Points.Z != nil {
				r.vals = append(r.vals, g.Points.Z[i])
			}
			if g.Points.TVU != nil {
				r.vals = append(r.vals, g.Points.TVU[i])
			}
			if g.Points.THU != nil {
				r.vals = append(r.vals, g.Points.THU[i])
			}
			recs = append(recs, r)
		}
	default:
		return fmt.Errorf("bathygrid: unknown export mode %d: %w", mode, ErrInvalidConfiguration)
	}
	sort.SliceStable(recs, func(a, b int) bool {
		if recs[a].x != recs[b].x {
			return recs[a].x < recs[b].x
		}
		return recs[a].y < recs[b].y
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bathygrid: creating export file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, strings.Join(cols, ","))
	for _, r := range recs {
		fmt.Fprintf(w, "%.3f,%.3f", r.x, r.y)
		for j, v := range r.vals {
			if cols[2+j] == ColZ && zPositiveUp {
				v = -v
			}
			fmt.Fprintf(w, ",%.3f", v)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("bathygrid: writing export file: %w", err)
	}
	return nil
}

// ExportShapefile writes the populated grid cells as polygons with their
// gridded values as attributes. The output path gets a .shp extension, and
// a .prj file is written alongside when the grid CRS is a proj4 string.
func (g *Grid) ExportShapefile(path string) error {
	if g.IsEmpty() {
		return fmt.Errorf("bathygrid: nothing to export: %w", ErrInvalidPointData)
	}
	vars := []string{}
	if g.Points.Z != nil {
		vars = append(vars, ColZ)
	}
	if g.Points.TVU != nil {
		vars = append(vars, ColTVU)
	}
	if g.Points.THU != nil {
		vars = append(vars, ColTHU)
	}
	fields := make([]goshp.Field, len(vars))
	for i, v := range vars {
		fields[i] = goshp.FloatField(v, 14, 8)
	}

	fileBase := strings.TrimSuffix(path, filepath.Ext(path))
	shape, err := shp.NewEncoderFromFields(fileBase+".shp", goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("bathygrid: creating output shapefile: %w", err)
	}
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		si := g.Tree.Nodes[i].Stat
		if si == NoNode {
			continue
		}
		s := g.Stats[si]
		outFields := make([]interface{}, 0, len(vars))
		if g.Points.Z != nil {
			outFields = append(outFields, float64(s.Z))
		}
		if g.Points.TVU != nil {
			outFields = append(outFields, float64(s.TVU))
		}
		if g.Points.THU != nil {
			outFields = append(outFields, float64(s.THU))
		}
		if err := shape.EncodeFields(boundsPolygon(g.Tree.Nodes[i].Bounds), outFields...); err != nil {
			shape.Close()
			return fmt.Errorf("bathygrid: writing output shapefile: %w", err)
		}
	}
	shape.Close()

	if strings.HasPrefix(g.CRS, "+") {
		f, err := os.Create(fileBase + ".prj")
		if err != nil {
			return fmt.Errorf("bathygrid: creating output prj file: %w", err)
		}
		fmt.Fprint(f, g.CRS)
		f.Close()
	}
	return nil
}

// Raster grids one layer onto a regular array at the minimum cell size and
// returns it with its GDAL-style geotransform. The raster covers only the
// populated extent of the grid, rows run north to south, and cells with no
// data hold NaN. Leaves larger than the raster resolution fill every raster
// cell they cover.
func (g *Grid) Raster(layer string) (*sparse.DenseArray, [6]float64, error) {
	var gt [6]float64
	col, err := LayerColumn(layer)
	if err != nil {
		return nil, gt, err
	}
	if g.IsEmpty() || !g.Points.HasColumn(col) {
		return nil, gt, fmt.Errorf("bathygrid: no %s data to rasterize: %w", layer, ErrColumnNotFound)
	}
	res := g.Config.MinCellSize

	// Trim the raster to the populated cells.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	next := g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		if g.Tree.Nodes[i].Stat == NoNode {
			continue
		}
		b := g.Tree.Nodes[i].Bounds
		minX = math.Min(minX, b.Min.X)
		minY = math.Min(minY, b.Min.Y)
		maxX = math.Max(maxX, b.Max.X)
		maxY = math.Max(maxY, b.Max.Y)
	}
	ncols := int(math.Round((maxX - minX) / res))
	nrows := int(math.Round((maxY - minY) / res))

	a := sparse.ZerosDense(nrows, ncols)
	for i := range a.Elements {
		a.Elements[i] = math.NaN()
	}
	next = g.Tree.TraverseLeaves()
	for i, ok := next(); ok; i, ok = next() {
		si := g.Tree.Nodes[i].Stat
		if si == NoNode {
			continue
		}
		var v float64
		switch col {
		case ColZ:
			v = float64(g.Stats[si].Z)
		case ColTVU:
			v = float64(g.Stats[si].TVU)
		default:
			v = float64(g.Stats[si].THU)
		}
		b := g.Tree.Nodes[i].Bounds
		c0 := int(math.Round((b.Min.X - minX) / res))
		c1 := int(math.Round((b.Max.X - minX) / res))
		r0 := int(math.Round((maxY - b.Max.Y) / res))
		r1 := int(math.Round((maxY - b.Min.Y) / res))
		for r := r0; r < r1; r++ {
			for c := c0; c < c1; c++ {
				a.Set(v, r, c)
			}
		}
	}
	gt = [6]float64{minX, res, 0, maxY, 0, -res}
	return a, gt, nil
}

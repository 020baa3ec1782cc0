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
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctessum/cdf"
)

// GridDataVersion is written into every saved grid and checked on load.
// Increment it when the stored layout changes incompatibly.
const GridDataVersion = "1.0"

// The on-disk file names used by DirectoryBackend.
const (
	gridFileName   = "grid.gob"
	pointsFileName = "points.nc"
)

// A Backend persists grids. Save must write everything Load needs to
// reconstruct an equivalent grid, including derived state it rebuilds.
type Backend interface {
	Save(g *Grid, path string) error
	Load(path string) (*Grid, error)
}

// gridSnapshot is the serialized form of a grid minus the point buffer.
// The r-tree leaf index is derived and is rebuilt on load.
type gridSnapshot struct {
	Version           string
	Config            GridConfig
	CRS               string
	VerticalReference string
	Sources           map[string][]string
	Ranges            map[string][]IndexRange
	Tree              *Tree
	Stats             []LeafStat
	MinZ, MaxZ        float32
	MinTVU, MaxTVU    float32
	PointCount        int
}

func snapshotOf(g *Grid) *gridSnapshot {
	return &gridSnapshot{
		Version:           GridDataVersion,
		Config:            g.Config,
		CRS:               g.CRS,
		VerticalReference: g.VerticalReference,
		Sources:           g.Sources,
		Ranges:            g.Ranges,
		Tree:              g.Tree,
		Stats:             g.Stats,
		MinZ:              g.MinZ,
		MaxZ:              g.MaxZ,
		MinTVU:            g.MinTVU,
		MaxTVU:            g.MaxTVU,
		PointCount:        g.PointCount(),
	}
}

// restore turns a snapshot and its point buffer back into a working grid.
func (s *gridSnapshot) restore(buf *PointBuffer) (*Grid, error) {
	if s.Version != GridDataVersion {
		return nil, fmt.Errorf("bathygrid: stored data version %s is incompatible with "+
			"the required version %s: %w", s.Version, GridDataVersion, ErrCorruptStore)
	}
	if buf.Len() != s.PointCount {
		return nil, fmt.Errorf("bathygrid: store holds %d points but the grid metadata "+
			"expects %d: %w", buf.Len(), s.PointCount, ErrCorruptStore)
	}
	if s.Tree != nil {
		n := 0
		next := s.Tree.TraverseLeaves()
		for i, ok := next(); ok; i, ok = next() {
			n += len(s.Tree.Nodes[i].Points)
		}
		if n != s.PointCount {
			return nil, fmt.Errorf("bathygrid: tree indexes %d points but the store holds "+
				"%d: %w", n, s.PointCount, ErrCorruptStore)
		}
	}
	g := &Grid{
		Config:            s.Config,
		Points:            buf,
		Tree:              s.Tree,
		Stats:             s.Stats,
		Sources:           s.Sources,
		Ranges:            s.Ranges,
		CRS:               s.CRS,
		VerticalReference: s.VerticalReference,
		MinZ:              s.MinZ,
		MaxZ:              s.MaxZ,
		MinTVU:            s.MinTVU,
		MaxTVU:            s.MaxTVU,
	}
	if g.Sources == nil {
		g.Sources = make(map[string][]string)
	}
	if g.Ranges == nil {
		g.Ranges = make(map[string][]IndexRange)
	}
	if g.Tree != nil {
		g.buildIndex()
	}
	return g, nil
}

// DirectoryBackend stores a grid as a directory containing a gob metadata
// file and a netcdf point file, so the soundings stay readable by standard
// scientific tooling.
type DirectoryBackend struct{}

// Save writes g into directory path, creating it if needed.
func (DirectoryBackend) Save(g *Grid, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("bathygrid: creating grid directory: %w", err)
	}
	w, err := os.Create(filepath.Join(path, gridFileName))
	if err != nil {
		return fmt.Errorf("bathygrid: creating grid metadata file: %w", err)
	}
	defer w.Close()
	if err := gob.NewEncoder(w).Encode(snapshotOf(g)); err != nil {
		return fmt.Errorf("bathygrid: encoding grid metadata: %w", err)
	}
	if g.PointCount() == 0 {
		return nil
	}
	pf, err := os.Create(filepath.Join(path, pointsFileName))
	if err != nil {
		return fmt.Errorf("bathygrid: creating point file: %w", err)
	}
	defer pf.Close()
	return writePoints(pf, g)
}

// writePoints writes the point buffer to a netcdf file with one "point"
// dimension and one variable per carried column.
func writePoints(f *os.File, g *Grid) error {
	n := g.PointCount()
	h := cdf.NewHeader([]string{"point"}, []int{n})
	h.AddAttribute("", "comment", "bathygrid sounding data file")
	h.AddAttribute("", "crs", g.CRS)
	h.AddAttribute("", "vertical_reference", g.VerticalReference)
	h.AddVariable(ColX, []string{"point"}, []float64{0})
	h.AddAttribute(ColX, "description", "projected easting")
	h.AddVariable(ColY, []string{"point"}, []float64{0})
	h.AddAttribute(ColY, "description", "projected northing")
	for _, c := range []struct {
		name, desc string
		col        []float32
	}{
		{ColZ, "depth, positive down", g.Points.Z},
		{ColTVU, "total vertical uncertainty", g.Points.TVU},
		{ColTHU, "total horizontal uncertainty", g.Points.THU},
	} {
		if c.col != nil {
			h.AddVariable(c.name, []string{"point"}, []float32{0})
			h.AddAttribute(c.name, "description", c.desc)
		}
	}
	h.Define()

	cf, err := cdf.Create(f, h) // writes the header to f
	if err != nil {
		return fmt.Errorf("bathygrid: creating netcdf point file: %w", err)
	}
	for _, name := range []string{ColX, ColY} {
		col := g.Points.X
		if name == ColY {
			col = g.Points.Y
		}
		w := cf.Writer(name, []int{0}, []int{n})
		if _, err := w.Write(col); err != nil {
			return fmt.Errorf("bathygrid: writing variable %s to netcdf file: %w", name, err)
		}
	}
	for _, c := range []struct {
		name string
		col  []float32
	}{{ColZ, g.Points.Z}, {ColTVU, g.Points.TVU}, {ColTHU, g.Points.THU}} {
		if c.col == nil {
			continue
		}
		w := cf.Writer(c.name, []int{0}, []int{n})
		if _, err := w.Write(c.col); err != nil {
			return fmt.Errorf("bathygrid: writing variable %s to netcdf file: %w", c.name, err)
		}
	}
	return cdf.UpdateNumRecs(f)
}

// Load reads a grid previously written by Save.
func (DirectoryBackend) Load(path string) (*Grid, error) {
	r, err := os.Open(filepath.Join(path, gridFileName))
	if err != nil {
		return nil, fmt.Errorf("bathygrid: opening grid metadata file: %w", err)
	}
	defer r.Close()
	s := new(gridSnapshot)
	if err := gob.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("bathygrid: decoding grid metadata: %s: %w", err, ErrCorruptStore)
	}
	buf := &PointBuffer{}
	if s.PointCount > 0 {
		pf, err := os.Open(filepath.Join(path, pointsFileName))
		if err != nil {
			return nil, fmt.Errorf("bathygrid: opening point file: %s: %w", err, ErrCorruptStore)
		}
		defer pf.Close()
		if buf, err = readPoints(pf); err != nil {
			return nil, err
		}
	}
	return s.restore(buf)
}

// readPoints reads a point buffer back from a netcdf file written by
// writePoints.
func readPoints(pf *os.File) (*PointBuffer, error) {
	cf, err := cdf.Open(pf)
	if err != nil {
		return nil, fmt.Errorf("bathygrid: opening netcdf point file: %s: %w", err, ErrCorruptStore)
	}
	buf := &PointBuffer{}
	for _, v := range cf.Header.Variables() {
		n := cf.Header.Lengths(v)[0]
		r := cf.Reader(v, nil, nil)
		switch v {
		case ColX, ColY:
			tmp := make([]float64, n)
			if _, err := r.Read(tmp); err != nil {
				return nil, fmt.Errorf("bathygrid: reading variable %s: %s: %w", v, err, ErrCorruptStore)
			}
			if v == ColX {
				buf.X = tmp
			} else {
				buf.Y = tmp
			}
		case ColZ, ColTVU, ColTHU:
			tmp := make([]float32, n)
			if _, err := r.Read(tmp); err != nil {
				return nil, fmt.Errorf("bathygrid: reading variable %s: %s: %w", v, err, ErrCorruptStore)
			}
			switch v {
			case ColZ:
				buf.Z = tmp
			case ColTVU:
				buf.TVU = tmp
			default:
				buf.THU = tmp
			}
		}
	}
	if buf.X == nil || buf.Y == nil || len(buf.X) != len(buf.Y) {
		return nil, fmt.Errorf("bathygrid: point file is missing coordinate variables: %w", ErrCorruptStore)
	}
	return buf, nil
}

// GobBackend stores a whole grid, point buffer included, in a single gob
// file. It is the compact option for archival and tests; DirectoryBackend
// keeps the soundings in an interoperable format.
type GobBackend struct{}

// packedGrid is the single-file serialized form.
type packedGrid struct {
	Snapshot *gridSnapshot
	Points   *PointBuffer
}

// Save writes g to the file at path.
func (GobBackend) Save(g *Grid, path string) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bathygrid: creating grid file: %w", err)
	}
	defer w.Close()
	p := packedGrid{Snapshot: snapshotOf(g), Points: g.Points}
	if err := gob.NewEncoder(w).Encode(&p); err != nil {
		return fmt.Errorf("bathygrid: encoding grid: %w", err)
	}
	return nil
}

// Load reads a grid previously written by Save.
func (GobBackend) Load(path string) (*Grid, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bathygrid: opening grid file: %w", err)
	}
	defer r.Close()
	var p packedGrid
	if err := gob.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("bathygrid: decoding grid: %s: %w", err, ErrCorruptStore)
	}
	if p.Snapshot == nil {
		return nil, fmt.Errorf("bathygrid: grid file holds no metadata: %w", ErrCorruptStore)
	}
	if p.Points == nil {
		p.Points = &PointBuffer{}
	}
	return p.Snapshot.restore(p.Points)
}

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
)

// Column names recognized by the point buffer. X and Y are mandatory;
// Z is optional but expected for depth grids; TVU and THU (total vertical
// and horizontal uncertainty) are optional.
const (
	ColX   = "x"
	ColY   = "y"
	ColZ   = "z"
	ColTVU = "tvu"
	ColTHU = "thu"
)

// A Sounding is one georeferenced multibeam return: projected easting and
// northing, depth (positive down), and optional uncertainties.
type Sounding struct {
	X, Y     float64
	Z        float32
	TVU, THU float32
}

// PointData is the canonical columnar form for points entering the grid.
// Upstream record formats are converted to PointData before any grid logic
// runs. X and Y must be non-nil and the same length; Z, TVU and THU are
// either nil or the same length as X.
type PointData struct {
	X, Y []float64
	Z    []float32
	TVU  []float32
	THU  []float32
}

// FromSoundings converts a record-oriented sounding stream to columnar
// PointData. withUncertainty controls whether the TVU/THU columns are
// carried; record streams cannot express their absence otherwise.
func FromSoundings(s []Sounding, withUncertainty bool) *PointData {
	d := &PointData{
		X: make([]float64, len(s)),
		Y: make([]float64, len(s)),
		Z: make([]float32, len(s)),
	}
	if withUncertainty {
		d.TVU = make([]float32, len(s))
		d.THU = make([]float32, len(s))
	}
	for i, p := range s {
		d.X[i], d.Y[i], d.Z[i] = p.X, p.Y, p.Z
		if withUncertainty {
			d.TVU[i] = p.TVU
			d.THU[i] = p.THU
		}
	}
	return d
}

// validate checks column presence, equal lengths, and finite values.
func (d *PointData) validate() error {
	if d == nil || d.X == nil || d.Y == nil {
		return fmt.Errorf("bathygrid: point data must include x and y columns: %w", ErrInvalidPointData)
	}
	if len(d.X) == 0 {
		return fmt.Errorf("bathygrid: point data is empty: %w", ErrInvalidPointData)
	}
	n := len(d.X)
	if len(d.Y) != n {
		return fmt.Errorf("bathygrid: x column has %d rows but y has %d: %w", n, len(d.Y), ErrInvalidPointData)
	}
	for name, c := range map[string][]float32{ColZ: d.Z, ColTVU: d.TVU, ColTHU: d.THU} {
		if c != nil && len(c) != n {
			return fmt.Errorf("bathygrid: x column has %d rows but %s has %d: %w", n, name, len(c), ErrInvalidPointData)
		}
	}
	for i := 0; i < n; i++ {
		if !finite(d.X[i]) || !finite(d.Y[i]) {
			return fmt.Errorf("bathygrid: non-finite coordinate at row %d: %w", i, ErrInvalidPointData)
		}
	}
	for _, c := range [][]float32{d.Z, d.TVU, d.THU} {
		for i, v := range c {
			if !finite(float64(v)) {
				return fmt.Errorf("bathygrid: non-finite value at row %d: %w", i, ErrInvalidPointData)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// An IndexRange is a half-open [Start,End) range of rows in a PointBuffer.
type IndexRange struct {
	Start, End int
}

// Rows returns the number of rows in the range.
func (r IndexRange) Rows() int { return r.End - r.Start }

// PointBuffer is the columnar sounding store shared by the whole grid.
// All present columns have identical length, and row i refers to the same
// physical sounding in every column. The buffer grows by appends and never
// shrinks in place; removal rebuilds a new buffer through Mask.
type PointBuffer struct {
	X, Y []float64
	Z    []float32
	TVU  []float32
	THU  []float32
}

// Len returns the number of soundings in the buffer.
func (b *PointBuffer) Len() int { return len(b.X) }

// IsEmpty reports whether the buffer holds no soundings.
func (b *PointBuffer) IsEmpty() bool { return len(b.X) == 0 }

// HasColumn reports whether the named column is carried by this buffer.
func (b *PointBuffer) HasColumn(name string) bool {
	switch name {
	case ColX, ColY:
		return b.X != nil
	case ColZ:
		return b.Z != nil
	case ColTVU:
		return b.TVU != nil
	case ColTHU:
		return b.THU != nil
	}
	return false
}

// Column returns one of the float64 coordinate columns (x or y). The
// returned slice aliases the buffer and must not be modified.
func (b *PointBuffer) Column(name string) ([]float64, error) {
	switch name {
	case ColX:
		if b.X != nil {
			return b.X, nil
		}
	case ColY:
		if b.Y != nil {
			return b.Y, nil
		}
	}
	return nil, fmt.Errorf("bathygrid: %q: %w", name, ErrColumnNotFound)
}

// Layer returns one of the float32 data columns (z, tvu or thu). The
// returned slice aliases the buffer and must not be modified.
func (b *PointBuffer) Layer(name string) ([]float32, error) {
	switch name {
	case ColZ:
		if b.Z != nil {
			return b.Z, nil
		}
	case ColTVU:
		if b.TVU != nil {
			return b.TVU, nil
		}
	case ColTHU:
		if b.THU != nil {
			return b.THU, nil
		}
	}
	return nil, fmt.Errorf("bathygrid: %q: %w", name, ErrColumnNotFound)
}

// append adds validated point data to the end of the buffer and returns the
// assigned row range. The first append establishes which optional columns
// the buffer carries. Later appends missing an established uncertainty
// column degrade data quality: the gap is padded with NaN and the returned
// warning is non-empty. Columns the buffer does not carry are dropped, also
// with a warning.
func (b *PointBuffer) append(d *PointData) (IndexRange, []string, error) {
	if err := d.validate(); err != nil {
		return IndexRange{}, nil, err
	}
	var warnings []string
	first := b.IsEmpty() && b.X == nil
	if first {
		b.X = []float64{}
		b.Y = []float64{}
		if d.Z != nil {
			b.Z = []float32{}
		}
		if d.TVU != nil {
			b.TVU = []float32{}
		}
		if d.THU != nil {
			b.THU = []float32{}
		}
	}
	start := b.Len()
	n := len(d.X)
	b.X = append(b.X, d.X...)
	b.Y = append(b.Y, d.Y...)
	for _, c := range []struct {
		name string
		dst  *[]float32
		src  []float32
	}{{ColZ, &b.Z, d.Z}, {ColTVU, &b.TVU, d.TVU}, {ColTHU, &b.THU, d.THU}} {
		switch {
		case *c.dst == nil && c.src == nil:
		case *c.dst == nil:
			warnings = append(warnings,
				fmt.Sprintf("dropping %s column: the grid was built without it", c.name))
		case c.src == nil:
			warnings = append(warnings,
				fmt.Sprintf("new points carry no %s column: filling with no-data values lowers grid quality", c.name))
			*c.dst = appendNaN(*c.dst, n)
		default:
			*c.dst = append(*c.dst, c.src...)
		}
	}
	return IndexRange{Start: start, End: start + n}, warnings, nil
}

func appendNaN(dst []float32, n int) []float32 {
	nan := float32(math.NaN())
	for i := 0; i < n; i++ {
		dst = append(dst, nan)
	}
	return dst
}

// Mask returns a new buffer holding the rows where mask is true, preserving
// column presence. mask must have one entry per row.
func (b *PointBuffer) Mask(mask []bool) *PointBuffer {
	o := &PointBuffer{X: []float64{}, Y: []float64{}}
	if b.Z != nil {
		o.Z = []float32{}
	}
	if b.TVU != nil {
		o.TVU = []float32{}
	}
	if b.THU != nil {
		o.THU = []float32{}
	}
	for i, keep := range mask {
		if !keep {
			continue
		}
		o.X = append(o.X, b.X[i])
		o.Y = append(o.Y, b.Y[i])
		if b.Z != nil {
			o.Z = append(o.Z, b.Z[i])
		}
		if b.TVU != nil {
			o.TVU = append(o.TVU, b.TVU[i])
		}
		if b.THU != nil {
			o.THU = append(o.THU, b.THU[i])
		}
	}
	return o
}

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

import "errors"

// Sentinel errors returned (wrapped) by the grid. Callers should test for
// them with errors.Is.
var (
	// ErrInvalidPointData indicates missing x/y columns, mismatched column
	// lengths, or non-finite coordinate values in an input point set.
	ErrInvalidPointData = errors.New("invalid point data")

	// ErrInvalidConfiguration indicates cell sizes that are not positive
	// powers of two, a non-positive point threshold, or a minimum cell size
	// larger than the maximum.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrCrsMismatch indicates an attempt to add points in a coordinate
	// system different from the one the grid was built with.
	ErrCrsMismatch = errors.New("coordinate system mismatch")

	// ErrVerticalReferenceMismatch indicates an attempt to add points with a
	// vertical reference different from the one the grid was built with.
	ErrVerticalReferenceMismatch = errors.New("vertical reference mismatch")

	// ErrOutOfBoundsPoint indicates points outside the root bounds
	// established by the first build. Root bounds never grow.
	ErrOutOfBoundsPoint = errors.New("point outside established grid bounds")

	// ErrInvalidChildIndex indicates a tree path element outside {0,1,2,3}.
	ErrInvalidChildIndex = errors.New("child index must be between 0 and 3")

	// ErrChildNotFound indicates a tree path that descends below a leaf.
	ErrChildNotFound = errors.New("no child node at the requested path")

	// ErrCorruptStore indicates a persisted grid that is missing required
	// components or is internally inconsistent.
	ErrCorruptStore = errors.New("persisted grid store is corrupt")

	// ErrColumnNotFound indicates a request for an optional column (z, tvu,
	// thu) on a buffer that never carried it.
	ErrColumnNotFound = errors.New("column not found")
)

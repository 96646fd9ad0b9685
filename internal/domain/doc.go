// Package domain models the ocean-color archive: products addressed by
// filename, swath samples binned onto regular grids, and composites of
// those grids.
//
// # Processing Levels
//
// Products move through increasing processing levels:
//
//	L1A/L1B  raw counts and calibrated radiances, one file per swath
//	GEO      geolocation companion of an L1A swath (VIIRS)
//	L2       per-pixel geophysical retrievals, one file per swath
//	L3b      spatially binned, unmapped aggregates
//	L3m      mapped grids, one variable per file
//
// Climatologies (CLIM) and anomalies (ANOM) are L3m grids kept in a separate
// "combined" tree.
//
// # Grids
//
// A [GridSpec] is a north-up raster: an [Affine] transform maps (col, row)
// indices to projected coordinates with
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// Cell (0, 0) is the north-west corner. Grids built by this service never
// carry rotation terms (B = D = 0) but the inverse is computed for the
// general case.
//
// # Nodata
//
// A [BinnedGrid] stores float64 values and a nodata sentinel. Empty cells
// hold the sentinel, never NaN. NaN found in inputs read from disk is treated
// as nodata as well. The sentinel is chosen per variable domain by the
// catalog.
//
// # Provenance
//
// Every grid carries the ordered list of source identifiers it was built
// from. Composites additionally carry flat key/value [Tag] lists. Nested
// composites prefix inherited keys with the identifier of the input they came
// from, so a monthly composite of 8-day composites keeps the complete lineage
// without a tree.
package domain

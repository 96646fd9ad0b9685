// Package swath bins irregular satellite swath samples onto a regular grid.
//
// A binning job ingests every input file, masks samples by their flag bits
// and optional quality level, reprojects the survivors onto the target grid
// and averages the samples falling into each cell. Cells without samples
// carry the job's nodata sentinel.
package swath

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/geo"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
)

// MaskSpec selects the samples kept for binning. A sample is kept when none
// of its flag bits intersect BitMask and, if QualityVariable is set, its
// quality level is at most MaxQuality (0 best).
type MaskSpec struct {
	BitMask         uint32
	QualityVariable string
	MaxQuality      float64
}

// Job is one binning work item.
type Job struct {
	Files    []string
	Variable string
	Formula  *Formula // set when Variable is derived from bands
	Grid     domain.GridSpec
	Mask     MaskSpec
	Nodata   float64
}

// Binner turns swath files into binned grids.
type Binner struct {
	reader      Reader
	projections *geo.Cache
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewBinner creates a Binner reading swaths with reader.
func NewBinner(reader Reader, projections *geo.Cache, logger *slog.Logger, metrics *observability.Metrics) *Binner {
	return &Binner{
		reader:      reader,
		projections: projections,
		logger:      logger,
		metrics:     metrics,
	}
}

// Bin runs the ingest, mask, reproject and bin steps of job. A job whose
// samples are all masked still yields a grid, filled with nodata.
func (b *Binner) Bin(ctx context.Context, job Job) (domain.BinnedGrid, error) {
	if len(job.Files) == 0 {
		return domain.BinnedGrid{}, fmt.Errorf("bin %s: %w", job.Variable, domain.ErrMissingInput)
	}
	if err := job.Grid.Validate(); err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("bin %s: %w", job.Variable, err)
	}
	proj, err := b.projections.Get(job.Grid.Projection)
	if err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("bin %s: %w", job.Variable, err)
	}

	samples, err := b.ingest(ctx, job)
	if err != nil {
		return domain.BinnedGrid{}, err
	}
	kept := samples.Filter(b.mask(samples, job.Mask))

	xs, ys, ok := proj.ForwardAll(kept.Lon, kept.Lat)
	grid := domain.NewBinnedGrid(job.Grid, job.Variable, job.Nodata)
	binned := binMean(grid.Values, job.Grid, xs, ys, ok, kept.Value, job.Nodata)

	b.metrics.SamplesKept.Add(float64(binned))
	b.metrics.SamplesDropped.WithLabelValues("outside").Add(float64(kept.Len() - binned))

	for _, f := range job.Files {
		id := filepath.Base(f)
		grid.Sources = append(grid.Sources, id)
		grid.Tags = append(grid.Tags, domain.Tag{Key: "source", Value: id})
	}
	b.logger.Debug("swath binned",
		"variable", job.Variable,
		"files", len(job.Files),
		"samples", samples.Len(),
		"binned", binned,
	)
	return grid, nil
}

// ingest reads and concatenates the samples of every file in input order.
func (b *Binner) ingest(ctx context.Context, job Job) (SampleSet, error) {
	req := Request{Variable: job.Variable, Quality: job.Mask.QualityVariable}
	if job.Formula != nil {
		req.Bands = job.Formula.Bands
	}

	var all SampleSet
	for _, path := range job.Files {
		if err := ctx.Err(); err != nil {
			return SampleSet{}, err
		}
		s, err := b.reader.Read(ctx, path, req)
		if err != nil {
			return SampleSet{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if job.Formula != nil {
			if err := derive(&s, *job.Formula); err != nil {
				return SampleSet{}, fmt.Errorf("derive %s from %s: %w", job.Variable, filepath.Base(path), err)
			}
		}
		if req.Quality != "" && !s.HasQuality {
			return SampleSet{}, fmt.Errorf("read %s: %s: %w", filepath.Base(path), req.Quality, domain.ErrQualityDataMissing)
		}
		if err := s.Validate(); err != nil {
			return SampleSet{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if err := all.Append(s); err != nil {
			return SampleSet{}, err
		}
	}
	return all, nil
}

// mask computes the keep vector of s. Flag bits are checked first so a
// flagged sample is dropped whatever its quality.
func (b *Binner) mask(s SampleSet, m MaskSpec) []bool {
	keep := make([]bool, s.Len())
	var flagged, lowQuality, invalid int
	for i := range keep {
		switch {
		case s.Flags[i]&m.BitMask != 0:
			flagged++
		case s.HasQuality && !(s.Quality[i] <= m.MaxQuality):
			lowQuality++
		case !finite(s.Value[i]) || !finite(s.Lon[i]) || !finite(s.Lat[i]):
			invalid++
		default:
			keep[i] = true
		}
	}
	b.metrics.SamplesDropped.WithLabelValues("flag").Add(float64(flagged))
	b.metrics.SamplesDropped.WithLabelValues("quality").Add(float64(lowQuality))
	b.metrics.SamplesDropped.WithLabelValues("invalid").Add(float64(invalid))
	return keep
}

// binMean writes the per-cell mean of values into out and returns the
// number of samples that landed on the grid. out must be prefilled with
// nodata; it keeps that value wherever no sample lands.
func binMean(out []float64, spec domain.GridSpec, xs, ys []float64, ok []bool, values []float64, nodata float64) int {
	sums := make([]float64, len(out))
	counts := make([]int, len(out))
	binned := 0
	for i := range xs {
		if !ok[i] {
			continue
		}
		fc, fr, valid := spec.Transform.Pixel(xs[i], ys[i])
		if !valid {
			continue
		}
		col, inCol := binIndex(fc, spec.Cols)
		row, inRow := binIndex(fr, spec.Rows)
		if !inCol || !inRow {
			continue
		}
		cell := row*spec.Cols + col
		sums[cell] += values[i]
		counts[cell]++
		binned++
	}
	for i, n := range counts {
		if n == 0 {
			continue
		}
		mean := sums[i] / float64(n)
		if !finite(mean) {
			mean = nodata
		}
		out[i] = mean
	}
	return binned
}

// binIndex floors a fractional index into [0, n). Edges are closed-open
// except the last, which also takes samples lying exactly on the far edge.
func binIndex(f float64, n int) (int, bool) {
	if math.IsNaN(f) || f < 0 || f > float64(n) {
		return 0, false
	}
	i := int(math.Floor(f))
	if i == n {
		i = n - 1
	}
	return i, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

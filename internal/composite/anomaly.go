package composite

import (
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
)

// AnomalyMethod compares a grid against its climatology.
type AnomalyMethod string

const (
	// AnomalyDiff is value minus climatology.
	AnomalyDiff AnomalyMethod = "diff"
	// AnomalyLogRatio is log10(value / climatology), suited to
	// log-normally distributed variables such as chlorophyll.
	AnomalyLogRatio AnomalyMethod = "logratio"
)

// ParseAnomalyMethod validates an anomaly method name.
func ParseAnomalyMethod(s string) (AnomalyMethod, error) {
	switch m := AnomalyMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case AnomalyDiff, AnomalyLogRatio:
		return m, nil
	}
	return "", fmt.Errorf("unknown anomaly method %q", s)
}

// Anomaly returns the per-cell departure of grid from clim. Cells invalid in
// either input, or whose result is not finite, hold nodata. The inputs'
// sentinels are not reused since a departure can take any finite value.
func Anomaly(grid, clim domain.BinnedGrid, method AnomalyMethod, nodata float64) (domain.BinnedGrid, error) {
	if !grid.Spec.SameGeoreference(clim.Spec) || len(grid.Values) != len(clim.Values) {
		return domain.BinnedGrid{}, fmt.Errorf("anomaly of %s: %w", inputID(grid, 0), domain.ErrGeoreferenceMismatch)
	}
	out := domain.NewBinnedGrid(grid.Spec, grid.Variable, nodata)
	for i := range out.Values {
		if !grid.Valid(i) || !clim.Valid(i) {
			continue
		}
		var v float64
		switch method {
		case AnomalyDiff:
			v = grid.Values[i] - clim.Values[i]
		case AnomalyLogRatio:
			v = math.Log10(grid.Values[i] / clim.Values[i])
		default:
			return domain.BinnedGrid{}, fmt.Errorf("unknown anomaly method %q", method)
		}
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out.Values[i] = v
		}
	}
	gridID, climID := inputID(grid, 0), inputID(clim, 1)
	out.Sources = []string{gridID, climID}
	out.Tags = []domain.Tag{
		{Key: "anomaly", Value: string(method)},
		{Key: "input", Value: gridID},
		{Key: "climatology", Value: climID},
	}
	return out, nil
}

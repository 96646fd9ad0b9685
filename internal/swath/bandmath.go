package swath

import "fmt"

// Formula derives a variable from surface reflectance bands.
type Formula struct {
	Bands []string
	Apply func(bands [][]float64) []float64
}

// algaeIndex returns the NIR height above the red-SWIR baseline, the shared
// form of the floating algae indices. Wavelengths are in nm.
func algaeIndex(red, nir, swir float64) func([][]float64) []float64 {
	slope := (nir - red) / (swir - red)
	return func(b [][]float64) []float64 {
		out := make([]float64, len(b[0]))
		for i := range out {
			r, n, s := b[0][i], b[1][i], b[2][i]
			out[i] = n - (r + (s-r)*slope)
		}
		return out
	}
}

var formulas = map[string]map[string]Formula{
	"afai": {
		"aqua":  {Bands: []string{"rhos_667", "rhos_748", "rhos_869"}, Apply: algaeIndex(667, 748, 869)},
		"terra": {Bands: []string{"rhos_667", "rhos_748", "rhos_869"}, Apply: algaeIndex(667, 748, 869)},
		"viirs": {Bands: []string{"rhos_671", "rhos_745", "rhos_862"}, Apply: algaeIndex(671, 745, 862)},
	},
	"fai": {
		"aqua":  {Bands: []string{"rhos_645", "rhos_859", "rhos_1240"}, Apply: algaeIndex(645, 859, 1240)},
		"terra": {Bands: []string{"rhos_645", "rhos_859", "rhos_1240"}, Apply: algaeIndex(645, 859, 1240)},
	},
}

// FormulaFor returns the band-math formula deriving variable for sensor.
// ok is false for variables read directly from the swath.
func FormulaFor(variable, sensor string) (Formula, bool) {
	f, ok := formulas[variable][sensor]
	return f, ok
}

// derive computes Value from Bands and releases the bands.
func derive(s *SampleSet, f Formula) error {
	if len(s.Bands) != len(f.Bands) {
		return fmt.Errorf("formula needs %d bands, got %d", len(f.Bands), len(s.Bands))
	}
	s.Value = f.Apply(s.Bands)
	s.Bands = nil
	return nil
}

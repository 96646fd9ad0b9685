package swath

import "fmt"

// SampleSet holds parallel per-pixel arrays concatenated across swath files.
// Every array has the same length; masks apply to all of them at once.
type SampleSet struct {
	Lon        []float64
	Lat        []float64
	Value      []float64
	Flags      []uint32
	Quality    []float64
	HasQuality bool

	// Bands holds the raw inputs of a derived variable until Value is computed.
	Bands [][]float64
}

// Len returns the number of samples.
func (s SampleSet) Len() int { return len(s.Lon) }

// Validate checks that every populated array has Len elements.
func (s SampleSet) Validate() error {
	n := s.Len()
	if len(s.Lat) != n || len(s.Value) != n || len(s.Flags) != n {
		return fmt.Errorf("sample arrays differ in length: lon=%d lat=%d value=%d flags=%d",
			n, len(s.Lat), len(s.Value), len(s.Flags))
	}
	if s.HasQuality && len(s.Quality) != n {
		return fmt.Errorf("quality array has %d samples, want %d", len(s.Quality), n)
	}
	for i, b := range s.Bands {
		if len(b) != n {
			return fmt.Errorf("band %d has %d samples, want %d", i, len(b), n)
		}
	}
	return nil
}

// Append concatenates o onto s. The first non-empty set decides whether
// quality is carried; later sets must agree.
func (s *SampleSet) Append(o SampleSet) error {
	if s.Len() == 0 && len(s.Flags) == 0 {
		s.HasQuality = o.HasQuality
	} else if s.HasQuality != o.HasQuality {
		return fmt.Errorf("cannot mix samples with and without quality")
	}
	s.Lon = append(s.Lon, o.Lon...)
	s.Lat = append(s.Lat, o.Lat...)
	s.Value = append(s.Value, o.Value...)
	s.Flags = append(s.Flags, o.Flags...)
	if s.HasQuality {
		s.Quality = append(s.Quality, o.Quality...)
	}
	return nil
}

// Filter returns the samples whose keep entry is true.
func (s SampleSet) Filter(keep []bool) SampleSet {
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := SampleSet{
		Lon:        make([]float64, 0, n),
		Lat:        make([]float64, 0, n),
		Value:      make([]float64, 0, n),
		Flags:      make([]uint32, 0, n),
		HasQuality: s.HasQuality,
	}
	if s.HasQuality {
		out.Quality = make([]float64, 0, n)
	}
	for i, k := range keep {
		if !k {
			continue
		}
		out.Lon = append(out.Lon, s.Lon[i])
		out.Lat = append(out.Lat, s.Lat[i])
		out.Value = append(out.Value, s.Value[i])
		out.Flags = append(out.Flags, s.Flags[i])
		if s.HasQuality {
			out.Quality = append(out.Quality, s.Quality[i])
		}
	}
	return out
}

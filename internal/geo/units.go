package geo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Length is a parsed resolution string.
type Length struct {
	Value   float64
	Angular bool // Value is in degrees rather than metres
}

var lengthPattern = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s*([A-Za-z]+)\s*$`)

var metresPerUnit = map[string]float64{
	"m": 1, "meter": 1, "meters": 1, "metre": 1, "metres": 1,
	"km": 1000, "kilometer": 1000, "kilometers": 1000, "kilometre": 1000, "kilometres": 1000,
}

// ParseLength reads strings such as "1km", "1000 m" or "0.25deg".
func ParseLength(s string) (Length, error) {
	m := lengthPattern.FindStringSubmatch(s)
	if m == nil {
		return Length{}, fmt.Errorf("invalid length %q", s)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Length{}, fmt.Errorf("invalid length %q: %w", s, err)
	}
	unit := strings.ToLower(m[2])
	switch unit {
	case "deg", "degree", "degrees":
		return Length{Value: v, Angular: true}, nil
	}
	f, ok := metresPerUnit[unit]
	if !ok {
		return Length{}, fmt.Errorf("invalid length %q: unknown unit %q", s, m[2])
	}
	return Length{Value: v * f}, nil
}

// InUnitsOf converts l to the linear (or angular) unit of p.
func (l Length) InUnitsOf(p *Projection) (float64, error) {
	if p.IsGeographic() != l.Angular {
		return 0, fmt.Errorf("length unit does not match projection %q", p.Definition())
	}
	if l.Angular {
		return l.Value, nil
	}
	return l.Value / p.MetersPerUnit(), nil
}

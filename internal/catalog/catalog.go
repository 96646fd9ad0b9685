// Package catalog holds the immutable lookup tables shared by the archive:
// sensor codes, suite correspondences, default l2bin masks, quality arrays,
// nodata sentinels, and l2_flags bit names.
//
// A Catalog is built once and passed explicitly to the components that need
// it. It has no mutating methods.
package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultTables []byte

// CombinedCode is the sensor code of multi-sensor products.
const CombinedCode = "X"

// AllSensors expands to every single-sensor code in a sensor list.
const AllSensors = "all"

// AnomalyDomain is the nodata domain of anomaly products.
const AnomalyDomain = "anomaly"

// DefaultDomain is the nodata domain of variables no domain lists.
const DefaultDomain = "default"

type tablesFile struct {
	Sensors    map[string]string     `yaml:"sensors"`
	Suites     map[string]suiteEntry `yaml:"suites"`
	Variables  struct {
		Day   map[string]string `yaml:"day"`
		Night map[string]string `yaml:"night"`
	} `yaml:"variables"`
	Nodata struct {
		Default float64                `yaml:"default"`
		Domains map[string]domainEntry `yaml:"domains"`
	} `yaml:"nodata"`
	Flags []string `yaml:"flags"`
}

type suiteEntry struct {
	L2Suite string `yaml:"l2_suite"`
	BitMask string `yaml:"bitmask"`
	Quality string `yaml:"quality"`
}

type domainEntry struct {
	Sentinel  float64  `yaml:"sentinel"`
	Variables []string `yaml:"variables"`
}

// Suite describes how an L3 suite is binned from its L2 source.
type Suite struct {
	Name            string
	L2Suite         string
	BitMask         uint32
	QualityVariable string // empty when the suite has no quality array
}

type variableRule struct {
	re    *regexp.Regexp
	suite string
}

type nodataRule struct {
	re       *regexp.Regexp
	domain   string
	sentinel float64
}

// Catalog is the read-only set of lookup tables.
type Catalog struct {
	sensors       map[string]string
	codes         map[string]string
	suites        map[string]Suite
	day           []variableRule
	night         []variableRule
	nodataDefault float64
	nodata        []nodataRule
	sentinels     map[string]float64
	flags         []string
}

// Load parses the tables embedded in the binary.
func Load() (*Catalog, error) {
	return Parse(defaultTables)
}

// Parse builds a Catalog from YAML tables.
func Parse(data []byte) (*Catalog, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		sensors:       make(map[string]string, len(f.Sensors)),
		codes:         make(map[string]string, len(f.Sensors)),
		suites:        make(map[string]Suite, len(f.Suites)),
		nodataDefault: f.Nodata.Default,
		sentinels:     make(map[string]float64, len(f.Nodata.Domains)),
		flags:         append([]string(nil), f.Flags...),
	}
	for code, name := range f.Sensors {
		if len(code) != 1 || code[0] < 'A' || code[0] > 'Z' {
			return nil, fmt.Errorf("parse catalog: invalid sensor code %q", code)
		}
		c.sensors[code] = name
		c.codes[name] = code
	}
	for name, s := range f.Suites {
		mask, err := strconv.ParseUint(s.BitMask, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse catalog: suite %s bitmask: %w", name, err)
		}
		c.suites[name] = Suite{Name: name, L2Suite: s.L2Suite, BitMask: uint32(mask), QualityVariable: s.Quality}
	}

	var err error
	if c.day, err = compileVariableRules(f.Variables.Day); err != nil {
		return nil, err
	}
	if c.night, err = compileVariableRules(f.Variables.Night); err != nil {
		return nil, err
	}

	domains := make([]string, 0, len(f.Nodata.Domains))
	for d := range f.Nodata.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		entry := f.Nodata.Domains[d]
		c.sentinels[d] = entry.Sentinel
		for _, pattern := range entry.Variables {
			re, err := anchored(pattern)
			if err != nil {
				return nil, err
			}
			c.nodata = append(c.nodata, nodataRule{re: re, domain: d, sentinel: entry.Sentinel})
		}
	}
	return c, nil
}

func compileVariableRules(m map[string]string) ([]variableRule, error) {
	patterns := make([]string, 0, len(m))
	for p := range m {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	rules := make([]variableRule, 0, len(m))
	for _, p := range patterns {
		re, err := anchored(p)
		if err != nil {
			return nil, err
		}
		rules = append(rules, variableRule{re: re, suite: m[p]})
	}
	return rules, nil
}

func anchored(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("parse catalog: pattern %q: %w", pattern, err)
	}
	return re, nil
}

// SensorName returns the sensor name for a one-letter code.
func (c *Catalog) SensorName(code string) (string, error) {
	name, ok := c.sensors[code]
	if !ok {
		return "", fmt.Errorf("sensor code %q: %w", code, domain.ErrUnknownEntry)
	}
	return name, nil
}

// SensorCode returns the one-letter code for a sensor name.
func (c *Catalog) SensorCode(name string) (string, error) {
	code, ok := c.codes[name]
	if !ok {
		return "", fmt.Errorf("sensor %q: %w", name, domain.ErrUnknownEntry)
	}
	return code, nil
}

// SensorCodes returns all known codes in sorted order.
func (c *Catalog) SensorCodes() []string {
	codes := make([]string, 0, len(c.sensors))
	for code := range c.sensors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Suite returns the binning parameters of an L3 suite.
func (c *Catalog) Suite(name string) (Suite, error) {
	s, ok := c.suites[name]
	if !ok {
		return Suite{}, fmt.Errorf("suite %q: %w", name, domain.ErrUnknownEntry)
	}
	return s, nil
}

// L2Suite returns the L2 suite an L3 suite is binned from.
func (c *Catalog) L2Suite(l3Suite string) (string, error) {
	s, err := c.Suite(l3Suite)
	if err != nil {
		return "", err
	}
	return s.L2Suite, nil
}

// BitMask returns the default l2bin flag mask of an L3 suite.
func (c *Catalog) BitMask(l3Suite string) (uint32, error) {
	s, err := c.Suite(l3Suite)
	if err != nil {
		return 0, err
	}
	return s.BitMask, nil
}

// QualityVariable returns the quality array name of an L3 suite, or "".
func (c *Catalog) QualityVariable(l3Suite string) (string, error) {
	s, err := c.Suite(l3Suite)
	if err != nil {
		return "", err
	}
	return s.QualityVariable, nil
}

// SuiteForVariable resolves the L3 suite a variable belongs to. Exactly one
// pattern must match.
func (c *Catalog) SuiteForVariable(variable string, night bool) (string, error) {
	rules := c.day
	if night {
		rules = c.night
	}
	var matches []string
	for _, r := range rules {
		if r.re.MatchString(variable) {
			matches = append(matches, r.suite)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("variable %q: no matching suite: %w", variable, domain.ErrUnknownEntry)
	default:
		return "", fmt.Errorf("variable %q: ambiguous suites %s: %w", variable, strings.Join(matches, ","), domain.ErrUnknownEntry)
	}
}

// Nodata returns the sentinel of the variable's domain, or the default.
func (c *Catalog) Nodata(variable string) float64 {
	for _, r := range c.nodata {
		if r.re.MatchString(variable) {
			return r.sentinel
		}
	}
	return c.nodataDefault
}

// DomainNodata returns the sentinel of a named nodata domain.
func (c *Catalog) DomainNodata(name string) (float64, error) {
	if name == DefaultDomain {
		return c.nodataDefault, nil
	}
	v, ok := c.sentinels[name]
	if !ok {
		return 0, fmt.Errorf("nodata domain %q: %w", name, domain.ErrUnknownEntry)
	}
	return v, nil
}

// ExpandSensors replaces AllSensors in codes with every single-sensor code,
// keeping the first occurrence of each code.
func (c *Catalog) ExpandSensors(codes []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	for _, code := range codes {
		if !strings.EqualFold(code, AllSensors) {
			add(code)
			continue
		}
		for _, known := range c.SensorCodes() {
			if known != CombinedCode {
				add(known)
			}
		}
	}
	return out
}

// NodataDomain returns the domain name of a variable, or "default".
func (c *Catalog) NodataDomain(variable string) string {
	for _, r := range c.nodata {
		if r.re.MatchString(variable) {
			return r.domain
		}
	}
	return DefaultDomain
}

// MaskFromFlags builds a bit mask from l2_flags names.
func (c *Catalog) MaskFromFlags(names ...string) (uint32, error) {
	var mask uint32
	for _, name := range names {
		pos := -1
		for i, f := range c.flags {
			if f == name && f != "SPARE" {
				pos = i
				break
			}
		}
		if pos < 0 {
			return 0, fmt.Errorf("flag %q: %w", name, domain.ErrUnknownEntry)
		}
		mask |= 1 << uint(pos)
	}
	return mask, nil
}

// FlagNames returns the names of the bits set in mask.
func (c *Catalog) FlagNames(mask uint32) []string {
	var names []string
	for i, f := range c.flags {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			names = append(names, f)
		}
	}
	return names
}

// MaskFromBits builds a bit mask from bit positions, e.g. [0, 3] is 0x9.
func MaskFromBits(positions ...int) (uint32, error) {
	var mask uint32
	for _, p := range positions {
		if p < 0 || p > 31 {
			return 0, fmt.Errorf("bit position %d out of range", p)
		}
		mask |= 1 << uint(p)
	}
	return mask, nil
}

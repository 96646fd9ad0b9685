// Command genmock writes a synthetic archive of daily mapped products for
// local runs of the composite jobs. Values are deterministic, and a fixed
// share of cells is left as nodata to mimic cloud cover.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -root data \
//	  -begin 2016-01-01 -days 16 \
//	  -sensors A,T,V -variable chlor_a
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/geo"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
	"github.com/couchcryptid/ocean-color-archive/internal/raster"
)

// mockExtent is the Gulf of Mexico box used by the default processing grid.
var mockExtent = domain.Extent{South: 18, North: 31, West: -98, East: -80}

func main() {
	root := flag.String("root", "", "archive root to write into")
	begin := flag.String("begin", "2016-01-01", "first date, YYYY-MM-DD")
	days := flag.Int("days", 8, "number of consecutive days")
	sensors := flag.String("sensors", "A,T,V", "comma-separated sensor codes")
	variable := flag.String("variable", "chlor_a", "variable name")
	resolution := flag.String("resolution", "0.25deg", "grid resolution")
	flag.Parse()

	if *root == "" || *days < 1 {
		flag.Usage()
		os.Exit(1)
	}
	start, err := time.Parse(time.DateOnly, *begin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse -begin: %v\n", err)
		os.Exit(1)
	}

	written, err := generate(*root, start, *days, strings.Split(*sensors, ","), *variable, *resolution)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	printStats(written)
}

type product struct {
	name   string
	sensor string
	cells  int
	valid  int
}

func generate(root string, start time.Time, days int, sensors []string, variable, resolution string) ([]product, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, err
	}
	suite, err := cat.SuiteForVariable(variable, false)
	if err != nil {
		return nil, err
	}
	builder := geo.NewBuilder(geo.NewCache(1, observability.NewMetricsForTesting()))
	const projection = "+proj=longlat"
	res, err := builder.Resolution(resolution, projection)
	if err != nil {
		return nil, err
	}
	spec, err := builder.FromExtent(mockExtent, res, projection)
	if err != nil {
		return nil, err
	}
	locator := archive.NewLocator(root, archive.NewCodec(cat))
	nodata := cat.Nodata(variable)

	var out []product
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d)
		for i, code := range sensors {
			code = strings.TrimSpace(code)
			rec := archive.Record{
				SensorCode: code,
				Date:       date,
				Level:      archive.LevelL3m,
				Suite:      suite,
				Variable:   variable,
				Resolution: resolution,
				Composite:  "DAY",
				Ext:        "nc",
			}
			path, err := locator.PathFor(rec)
			if err != nil {
				return nil, err
			}
			grid := synthesize(spec, variable, nodata, date.YearDay(), i)
			if err := raster.Write(path, grid); err != nil {
				return nil, err
			}
			p := product{name: path, sensor: code, cells: len(grid.Values)}
			for c := range grid.Values {
				if grid.Valid(c) {
					p.valid++
				}
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// synthesize fills a grid with a smooth field that shifts with the day and
// sensor. Cells on a diagonal band that moves each day are nodata.
func synthesize(spec domain.GridSpec, variable string, nodata float64, doy, sensor int) domain.BinnedGrid {
	g := domain.NewBinnedGrid(spec, variable, nodata)
	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Cols; col++ {
			if (row+col+doy+sensor)%7 == 0 {
				continue
			}
			g.Values[row*spec.Cols+col] = 0.05 + 0.01*float64((row*3+col+doy*5+sensor*11)%97)
		}
	}
	return g
}

func printStats(products []product) {
	bySensor := map[string][2]int{}
	for _, p := range products {
		s := bySensor[p.sensor]
		s[0] += p.cells
		s[1] += p.valid
		bySensor[p.sensor] = s
	}
	codes := make([]string, 0, len(bySensor))
	for c := range bySensor {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	fmt.Printf("Wrote %d products\n", len(products))
	for _, c := range codes {
		s := bySensor[c]
		fmt.Printf("  %s: %d/%d valid cells (%.1f%%)\n", c, s[1], s[0], 100*float64(s[1])/float64(s[0]))
	}
}

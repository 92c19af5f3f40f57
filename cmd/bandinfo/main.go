package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pspoerri/ndwimask/internal/cog"
	"github.com/pspoerri/ndwimask/internal/config"
	"github.com/pspoerri/ndwimask/internal/pipeline"
	"github.com/pspoerri/ndwimask/internal/srs"
)

func main() {
	stats := flag.Bool("stats", false, "Scan the band and print sample statistics")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bandinfo [-stats] <band.tif>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	failed := false
	for i, path := range flag.Args() {
		if i > 0 {
			fmt.Println()
		}
		if err := describe(path, *stats); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func describe(path string, withStats bool) error {
	r, err := cog.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	s := r.Structure()
	fmt.Printf("File: %s\n", path)
	fmt.Printf("Size: %d x %d\n", s.Width, s.Height)
	layout := "strips"
	if s.Tiled {
		layout = "tiles"
	}
	fmt.Printf("Layout: %s %dx%d, %s, compression=%s, predictor=%d\n",
		layout, s.ChunkWidth, s.ChunkHeight, s.DataType, s.Compression, s.Predictor)
	fmt.Printf("Overviews: %d\n", r.NumOverviews())

	if code, err := srs.ResolveEPSG(r); err != nil {
		fmt.Printf("SRS: %v\n", err)
	} else {
		fmt.Printf("SRS: %s\n", srs.String(code))
	}

	geo := r.GeoInfo()
	if geo.HasGeoTransform() {
		fmt.Printf("GeoTransform: %v\n", geo.GeoTransform())
		minX, minY, maxX, maxY := r.BoundsInCRS()
		fmt.Printf("Bounds (CRS): X=[%f, %f], Y=[%f, %f]\n", minX, maxX, minY, maxY)
	} else {
		fmt.Printf("GeoTransform: none\n")
	}

	noData, hasNoData := r.NoData()
	if hasNoData {
		fmt.Printf("NoData: %g\n", noData)
	}

	if !withStats {
		return nil
	}

	var (
		minV, maxV = math.Inf(1), math.Inf(-1)
		means      []float64
		weights    []float64
		skipped    int
	)
	for _, b := range pipeline.Blocks(s.Height, s.Width, config.DefaultBlockSize, s.Width) {
		data, err := r.ReadRegion(b.Col, b.Row, b.Cols, b.Rows)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		valid := data[:0]
		for _, v := range data {
			if (hasNoData && v == noData) || math.IsNaN(v) {
				skipped++
				continue
			}
			valid = append(valid, v)
		}
		if len(valid) == 0 {
			continue
		}
		minV = math.Min(minV, floats.Min(valid))
		maxV = math.Max(maxV, floats.Max(valid))
		means = append(means, stat.Mean(valid, nil))
		weights = append(weights, float64(len(valid)))
	}
	if len(means) == 0 {
		fmt.Printf("Stats: no valid samples (%d nodata)\n", skipped)
		return nil
	}
	fmt.Printf("Stats: min=%g max=%g mean=%.4f nodata=%d\n", minV, maxV, stat.Mean(means, weights), skipped)
	return nil
}

// Package pipeline computes NDWI water masks block by block.
//
// A run opens the green, near-infrared and quality bands, optionally
// reprojects them, checks that they share one pixel grid, and then visits
// the raster in row-major blocks: each block is read from the three bands,
// classified, thresholded and written to the mask at the same offset. The
// mask is written to a temporary file and renamed into place only after the
// last block, so an aborted run never leaves a finalized mask behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/pspoerri/ndwimask/internal/cog"
	"github.com/pspoerri/ndwimask/internal/config"
	"github.com/pspoerri/ndwimask/internal/encode"
	"github.com/pspoerri/ndwimask/internal/ndwi"
	"github.com/pspoerri/ndwimask/internal/observability"
	"github.com/pspoerri/ndwimask/internal/reproject"
	"github.com/pspoerri/ndwimask/internal/srs"
)

// Inputs names the three band files of a scene.
type Inputs struct {
	Green string
	NIR   string
	QA    string
}

func (in Inputs) paths() [3]string {
	return [3]string{in.Green, in.NIR, in.QA}
}

// Result describes a finished run.
type Result struct {
	OutputPath  string
	PreviewPath string // empty unless a preview was requested
	EPSG        int    // spatial reference of the mask, 0 if unknown
	Rows, Cols  int
	Blocks      int
	Reprojected bool
	Summary     ndwi.Summary
	Elapsed     time.Duration
}

// Pipeline runs mask computations with one resolved configuration.
type Pipeline struct {
	cfg         config.Config
	reprojector reproject.Reprojector
	log         logrus.FieldLogger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	progress    io.Writer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReprojector replaces the gdalwarp reprojector.
func WithReprojector(r reproject.Reprojector) Option {
	return func(p *Pipeline) { p.reprojector = r }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithMetrics records block, pixel and duration metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock sets the clock used to measure run time.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithProgress draws a progress bar over the blocks to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// New resolves cfg and returns a pipeline. Without WithReprojector, bands
// are reprojected with gdalwarp (cfg.WarpBinary).
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:   cfg,
		log:   observability.Discard(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reprojector == nil {
		p.reprojector = reproject.NewWarp(
			reproject.WithBinary(cfg.WarpBinary),
			reproject.WithLogger(p.log),
			reproject.WithMetrics(p.metrics),
		)
	}
	return p, nil
}

// Config returns the resolved configuration.
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Run computes the mask of one scene and returns where it was written.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (Result, error) {
	start := p.clock.Now()
	res, err := p.run(ctx, in)
	res.Elapsed = p.clock.Since(start)

	if p.metrics != nil {
		if err != nil {
			stage := Stage("unknown")
			var se *StageError
			if errors.As(err, &se) {
				stage = se.Stage
			}
			p.metrics.RunsFailed.WithLabelValues(string(stage)).Inc()
		} else {
			p.metrics.RunDuration.Observe(res.Elapsed.Seconds())
			p.metrics.Pixels.WithLabelValues("water").Add(float64(res.Summary.Water))
			p.metrics.Pixels.WithLabelValues("dry").Add(float64(res.Summary.Dry()))
			p.metrics.Pixels.WithLabelValues("nodata").Add(float64(res.Summary.NoData))
		}
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, in Inputs) (Result, error) {
	var res Result
	log := p.log.WithField("green", in.Green)

	bands, err := openBands(in.paths())
	if err != nil {
		return res, err
	}
	defer func() { bands.close() }()

	if p.cfg.TargetEPSG != 0 {
		reprojected, err := p.ensureProjection(ctx, bands)
		if err != nil {
			return res, err
		}
		if reprojected != nil {
			bands.close()
			bands = reprojected
			res.Reprojected = true
		}
	}

	if err := bands.checkAligned(); err != nil {
		return res, err
	}

	green := bands[0]
	res.Rows, res.Cols = green.Height(), green.Width()
	res.EPSG = green.EPSG()
	res.OutputPath = MaskPath(in.Green, p.cfg.OutputDir)

	if p.cfg.OutputDir != "" {
		if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
			return res, &StageError{Stage: StageCreate, Path: p.cfg.OutputDir, Err: err}
		}
	}

	noData := ndwi.NoData
	w, err := cog.NewWriter(res.OutputPath, cog.WriterOptions{
		Width:    res.Cols,
		Height:   res.Rows,
		DataType: cog.Int16,
		Geo:      green.GeoInfo(),
		NoData:   &noData,
	})
	if err != nil {
		return res, &StageError{Stage: StageCreate, Path: res.OutputPath, Err: err}
	}
	defer w.Abort()

	blocks := Blocks(res.Rows, res.Cols, p.cfg.BlockRows, p.cfg.BlockCols)
	log.WithFields(logrus.Fields{
		"output": res.OutputPath,
		"size":   fmt.Sprintf("%dx%d", res.Cols, res.Rows),
		"blocks": len(blocks),
	}).Info("computing NDWI mask")

	bar := p.newProgressBar(len(blocks))
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return res, &StageError{Stage: StageTiling, Path: res.OutputPath, Err: err}
		}

		summary, err := p.processBlock(bands, w, b)
		if err != nil {
			return res, err
		}
		res.Summary.Add(summary)
		res.Blocks++

		if p.metrics != nil {
			p.metrics.BlocksProcessed.Inc()
		}
		if bar != nil {
			bar.Add(1)
		}
		log.WithFields(logrus.Fields{"block": i, "row": b.Row, "col": b.Col}).Trace("block written")
	}
	if bar != nil {
		bar.Finish()
	}

	if err := w.Finalize(); err != nil {
		return res, &StageError{Stage: StageFinalize, Path: res.OutputPath, Err: err}
	}

	log.WithFields(logrus.Fields{
		"output":         res.OutputPath,
		"water_pixels":   res.Summary.Water,
		"nodata_pixels":  res.Summary.NoData,
		"water_fraction": fmt.Sprintf("%.4f", res.Summary.WaterFraction()),
		"mean_ndwi":      fmt.Sprintf("%.4f", res.Summary.Mean),
	}).Info("mask written")

	if p.cfg.Preview != "" {
		enc, err := encode.NewEncoder(p.cfg.Preview, p.cfg.PreviewQuality)
		if err != nil {
			return res, &StageError{Stage: StagePreview, Path: res.OutputPath, Err: err}
		}
		res.PreviewPath, err = WritePreview(res.OutputPath, enc, DefaultPreviewSize)
		if err != nil {
			return res, &StageError{Stage: StagePreview, Path: res.OutputPath, Err: err}
		}
		log.WithField("preview", res.PreviewPath).Debug("preview written")
	}

	return res, nil
}

// ensureProjection reprojects all bands when the green band is not already
// in the target reference. It returns nil when nothing had to change.
func (p *Pipeline) ensureProjection(ctx context.Context, b bandSet) (bandSet, error) {
	target := p.cfg.TargetEPSG
	code, err := srs.ResolveEPSG(b[0])
	if err != nil {
		return nil, &StageError{Stage: StageReproject, Path: b[0].Path(), Err: err}
	}
	if code == target {
		p.log.WithField("epsg", code).Debug("inputs already in target reference")
		return nil, nil
	}

	p.log.WithFields(logrus.Fields{"from": code, "to": target}).Info("reprojecting inputs")
	var paths [3]string
	for i, r := range b {
		out, err := p.reprojector.Reproject(ctx, r.Path(), target)
		if err != nil {
			return nil, &StageError{Stage: StageReproject, Path: r.Path(), Err: err}
		}
		paths[i] = out
	}
	return openBands(paths)
}

// processBlock classifies one block and writes its mask.
func (p *Pipeline) processBlock(bands bandSet, w *cog.Writer, b Block) (ndwi.Summary, error) {
	var grids [3]*mat.Dense
	for i, r := range bands {
		data, err := r.ReadRegion(b.Col, b.Row, b.Cols, b.Rows)
		if err != nil {
			return ndwi.Summary{}, &StageError{Stage: StageTiling, Path: r.Path(), Err: err}
		}
		grids[i] = mat.NewDense(b.Rows, b.Cols, data)
	}

	index, err := ndwi.Classify(grids[0], grids[1], grids[2])
	if err != nil {
		return ndwi.Summary{}, &StageError{Stage: StageTiling, Path: bands[0].Path(), Err: err}
	}
	mask := ndwi.Mask(index, p.cfg.Threshold)

	if err := w.WriteRegion(b.Col, b.Row, b.Cols, b.Rows, mask.RawMatrix().Data); err != nil {
		return ndwi.Summary{}, &StageError{Stage: StageTiling, Path: w.Path(), Err: err}
	}
	return ndwi.Summarize(index, mask), nil
}

func (p *Pipeline) newProgressBar(n int) *progressbar.ProgressBar {
	if p.progress == nil || n == 0 {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionSetDescription("NDWI"),
		progressbar.OptionSetItsString("blocks"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.progress) }),
	)
}

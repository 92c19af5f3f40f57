package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pspoerri/ndwimask/internal/config"
	"github.com/pspoerri/ndwimask/internal/observability"
	"github.com/pspoerri/ndwimask/internal/pipeline"
	"github.com/pspoerri/ndwimask/internal/reproject"
	"github.com/pspoerri/ndwimask/internal/srs"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app holds the state shared by the subcommands.
type app struct {
	configPath string
	targetSRS  string
	cpuProfile string

	cfg     config.Config
	log     *logrus.Logger
	metrics *observability.Metrics
	profile *os.File
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:   "ndwimask",
		Short: "Compute NDWI water masks from Landsat 8 bands",
		Long: `ndwimask classifies water from the green (B3) and near-infrared (B5)
bands of a Landsat 8 scene, using the quality band (BQA) to exclude fill
pixels. The mask is a single-band Int16 GeoTIFF next to the green band:
1 for water (NDWI >= threshold), 0 otherwise.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML configuration file")
	f.StringVar(&a.targetSRS, "t-srs", "", "Reproject inputs to this EPSG code first (e.g. 3413 or EPSG:3413)")
	f.Float64Var(&a.cfg.Threshold, "threshold", a.cfg.Threshold, "Minimum NDWI of a water pixel")
	f.IntVar(&a.cfg.BlockCols, "x-block-size", 0, "Block width in pixels (set with --y-block-size; default 256)")
	f.IntVar(&a.cfg.BlockRows, "y-block-size", 0, "Block height in pixels (set with --x-block-size; default 256)")
	f.StringVar(&a.cfg.OutputDir, "output-dir", "", "Write masks here instead of next to the green band")
	f.StringVar(&a.cfg.Preview, "preview", "", "Also write a quicklook image: png, jpeg or webp")
	f.IntVar(&a.cfg.PreviewQuality, "preview-quality", a.cfg.PreviewQuality, "JPEG/WebP quicklook quality 1-100 (100 = lossless WebP)")
	f.StringVar(&a.cfg.WarpBinary, "warp-binary", a.cfg.WarpBinary, "gdalwarp executable used for reprojection")
	f.StringVar(&a.cfg.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile-collector file")
	f.BoolVar(&a.cfg.Progress, "progress", false, "Show a progress bar")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Log level: trace, debug, info, warn, error")
	f.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "Log format: text or json")
	f.StringVar(&a.cpuProfile, "cpuprofile", "", "Write CPU profile to file")

	root.AddCommand(newRunCmd(a), newSceneCmd(a))
	return root
}

// setup merges the configuration file with the flags that were set
// explicitly, then builds the logger and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}

	cfg, err := a.merge(cfg, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg, err = cfg.Resolve(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = observability.NewLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.metrics = observability.NewMetrics()

	if a.cpuProfile != "" {
		f, err := os.Create(a.cpuProfile)
		if err != nil {
			return fmt.Errorf("creating CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("starting CPU profile: %w", err)
		}
		a.profile = f
	}
	return nil
}

// merge overrides cfg with the flag values the user set explicitly.
func (a *app) merge(cfg config.Config, fs *pflag.FlagSet) (config.Config, error) {
	flags := a.cfg
	overrides := []struct {
		name  string
		apply func()
	}{
		{"threshold", func() { cfg.Threshold = flags.Threshold }},
		{"x-block-size", func() { cfg.BlockCols = flags.BlockCols }},
		{"y-block-size", func() { cfg.BlockRows = flags.BlockRows }},
		{"output-dir", func() { cfg.OutputDir = flags.OutputDir }},
		{"preview", func() { cfg.Preview = flags.Preview }},
		{"preview-quality", func() { cfg.PreviewQuality = flags.PreviewQuality }},
		{"warp-binary", func() { cfg.WarpBinary = flags.WarpBinary }},
		{"metrics-file", func() { cfg.MetricsFile = flags.MetricsFile }},
		{"progress", func() { cfg.Progress = flags.Progress }},
		{"log-level", func() { cfg.LogLevel = flags.LogLevel }},
		{"log-format", func() { cfg.LogFormat = flags.LogFormat }},
	}
	for _, o := range overrides {
		if fs.Changed(o.name) {
			o.apply()
		}
	}
	if fs.Changed("t-srs") {
		code, err := srs.ParseCode(a.targetSRS)
		if err != nil {
			return cfg, fmt.Errorf("%w: --t-srs: %v", config.ErrConfiguration, err)
		}
		cfg.TargetEPSG = code
	}
	return cfg, nil
}

func (a *app) teardown() error {
	var errs []error
	if a.profile != nil {
		pprof.StopCPUProfile()
		if err := a.profile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing CPU profile: %w", err))
		}
		a.profile = nil
	}
	if err := a.writeMetrics(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) writeMetrics() error {
	if a.cfg.MetricsFile == "" || a.metrics == nil {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.MetricsFile)
}

// newPipeline builds a pipeline from the resolved configuration.
func (a *app) newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithReprojector(reproject.NewWarp(
			reproject.WithBinary(a.cfg.WarpBinary),
			reproject.WithLogger(a.log),
			reproject.WithMetrics(a.metrics),
		)),
	}
	if a.cfg.Progress {
		opts = append(opts, pipeline.WithProgress(cmd.ErrOrStderr()))
	}
	return pipeline.New(a.cfg, opts...)
}

// report prints the outcome of one run.
func report(cmd *cobra.Command, res pipeline.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.OutputPath)
	if res.PreviewPath != "" {
		fmt.Fprintln(out, res.PreviewPath)
	}
}

// exitError is returned by failing subcommands. Cobra skips the post-run
// hook on error, so the profile and metrics are flushed here.
func (a *app) exitError(err error) error {
	if werr := a.teardown(); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

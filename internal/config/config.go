// Package config holds the settings of a mask run. Values come from
// Default, optionally overlaid by a YAML file and command-line flags, and
// are checked once by Resolve before the pipeline starts.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration reports an invalid or inconsistent setting.
var ErrConfiguration = errors.New("invalid configuration")

// DefaultBlockSize is the block height and width when neither is set.
const DefaultBlockSize = 256

// DefaultThreshold is the NDWI value at and above which a pixel is water.
const DefaultThreshold = 0.15

// DefaultPreviewQuality is the JPEG/WebP quicklook quality when none is set.
const DefaultPreviewQuality = 85

// Config is the validated configuration of a mask run.
type Config struct {
	// TargetEPSG reprojects the inputs to this EPSG code first when it
	// differs from the green band's. Zero disables reprojection.
	TargetEPSG int `yaml:"target_epsg"`

	// Threshold is the minimum NDWI of a water pixel.
	Threshold float64 `yaml:"threshold"`

	// BlockRows and BlockCols are the block size in pixels. Both zero
	// selects DefaultBlockSize; setting only one is an error.
	BlockRows int `yaml:"block_rows"`
	BlockCols int `yaml:"block_cols"`

	// OutputDir overrides the directory of the mask; empty means next to
	// the green band.
	OutputDir string `yaml:"output_dir"`

	// Preview writes a quicklook image of the mask: "", png, jpeg or webp.
	Preview        string `yaml:"preview"`
	PreviewQuality int    `yaml:"preview_quality"`

	MetricsFile string `yaml:"metrics_file"`
	WarpBinary  string `yaml:"warp_binary"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Progress    bool   `yaml:"progress"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Threshold:      DefaultThreshold,
		PreviewQuality: DefaultPreviewQuality,
		WarpBinary:     "gdalwarp",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads a YAML file over Default. Keys absent from the file keep their
// defaults; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Validate checks every field without modifying the configuration.
func (c Config) Validate() error {
	var errs []error
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		errs = append(errs, fmt.Errorf("threshold must be finite, got %v", c.Threshold))
	}
	if (c.BlockRows == 0) != (c.BlockCols == 0) {
		errs = append(errs, fmt.Errorf("block rows and columns must be set together (got %dx%d)", c.BlockRows, c.BlockCols))
	}
	if c.BlockRows < 0 || c.BlockCols < 0 {
		errs = append(errs, fmt.Errorf("block size must be positive (got %dx%d)", c.BlockRows, c.BlockCols))
	}
	if c.TargetEPSG < 0 {
		errs = append(errs, fmt.Errorf("target EPSG code must be positive, got %d", c.TargetEPSG))
	}
	switch c.Preview {
	case "", "png", "jpeg", "webp":
	default:
		errs = append(errs, fmt.Errorf("unknown preview format %q (want png, jpeg or webp)", c.Preview))
	}
	if c.PreviewQuality < 0 || c.PreviewQuality > 100 {
		errs = append(errs, fmt.Errorf("preview quality must be in 1..100 (0 for the default), got %d", c.PreviewQuality))
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Resolve validates c and fills derived defaults.
func (c Config) Resolve() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.BlockRows == 0 && c.BlockCols == 0 {
		c.BlockRows, c.BlockCols = DefaultBlockSize, DefaultBlockSize
	}
	if c.PreviewQuality == 0 {
		c.PreviewQuality = DefaultPreviewQuality
	}
	if c.WarpBinary == "" {
		c.WarpBinary = "gdalwarp"
	}
	return c, nil
}

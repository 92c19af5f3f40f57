// Package reproject produces copies of rasters in a target spatial
// reference by running an external warp tool, caching results by filename.
package reproject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/ndwimask/internal/observability"
	"github.com/pspoerri/ndwimask/internal/srs"
)

// Reprojector returns the path of a copy of rasterPath in the EPSG
// reference epsg. Implementations must not modify rasterPath.
type Reprojector interface {
	Reproject(ctx context.Context, rasterPath string, epsg int) (string, error)
}

// ErrReprojection matches every error returned when the warp tool fails.
var ErrReprojection = errors.New("reprojection failed")

// Error describes a failed warp run.
type Error struct {
	Path   string
	EPSG   int
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("reprojecting %s to %s: %v", e.Path, srs.String(e.EPSG), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrReprojection }

// Runner runs an external command and returns its standard error.
type Runner func(ctx context.Context, name string, args ...string) (stderr []byte, err error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// CachedPath returns the sibling file that holds rasterPath reprojected to
// epsg: <dir>/<stem>_EPSG<code><ext>.
func CachedPath(rasterPath string, epsg int) string {
	ext := filepath.Ext(rasterPath)
	stem := strings.TrimSuffix(rasterPath, ext)
	return stem + "_EPSG" + strconv.Itoa(epsg) + ext
}

// IsCachedPath reports whether name looks like a file produced by CachedPath.
func IsCachedPath(name string) bool {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.LastIndex(stem, "_EPSG")
	if i < 0 || i+5 == len(stem) {
		return false
	}
	_, err := strconv.Atoi(stem[i+5:])
	return err == nil
}

// Warp reprojects with gdalwarp.
type Warp struct {
	binary  string
	run     Runner
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// Option configures a Warp.
type Option func(*Warp)

// WithBinary sets the warp executable. Defaults to "gdalwarp" on PATH.
func WithBinary(path string) Option {
	return func(w *Warp) {
		if path != "" {
			w.binary = path
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(w *Warp) { w.run = r }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Warp) { w.log = log }
}

// WithMetrics records cache hits, warps and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Warp) { w.metrics = m }
}

// NewWarp returns a gdalwarp-backed Reprojector.
func NewWarp(opts ...Option) *Warp {
	w := &Warp{
		binary: "gdalwarp",
		run:    ExecRunner,
		log:    observability.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reproject returns CachedPath(rasterPath, epsg), running gdalwarp first if
// that file does not exist yet. The tool writes to a temporary file that is
// renamed into place only after a zero exit status, so a failed run never
// leaves a file that a later call would mistake for a cached result.
func (w *Warp) Reproject(ctx context.Context, rasterPath string, epsg int) (string, error) {
	out := CachedPath(rasterPath, epsg)
	log := w.log.WithFields(logrus.Fields{"path": rasterPath, "epsg": epsg})

	if _, err := os.Stat(out); err == nil {
		log.WithField("cached", out).Debug("using cached reprojection")
		w.count("cached")
		return out, nil
	}
	if _, err := os.Stat(rasterPath); err != nil {
		w.count("failed")
		return "", &Error{Path: rasterPath, EPSG: epsg, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+"-*.tmp")
	if err != nil {
		w.count("failed")
		return "", &Error{Path: rasterPath, EPSG: epsg, Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{"-t_srs", srs.String(epsg), "-overwrite", "-of", "GTiff", rasterPath, tmpPath}
	log.WithField("binary", w.binary).Info("reprojecting band")
	stderr, err := w.run(ctx, w.binary, args...)
	if err != nil {
		os.Remove(tmpPath)
		w.count("failed")
		return "", &Error{Path: rasterPath, EPSG: epsg, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}

	if err := os.Rename(tmpPath, out); err != nil {
		os.Remove(tmpPath)
		w.count("failed")
		return "", &Error{Path: rasterPath, EPSG: epsg, Err: err}
	}
	w.count("warped")
	return out, nil
}

func (w *Warp) count(result string) {
	if w.metrics != nil {
		w.metrics.Reprojections.WithLabelValues(result).Inc()
	}
}

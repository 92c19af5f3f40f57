// Package scene locates Landsat 8 band files in bulk-order downloads.
package scene

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/ndwimask/internal/observability"
	"github.com/pspoerri/ndwimask/internal/pipeline"
	"github.com/pspoerri/ndwimask/internal/reproject"
)

// ErrBandMissing reports a scene directory without one of the required bands.
var ErrBandMissing = errors.New("band file missing")

// Band tokens of the Landsat 8 OLI product.
const (
	GreenBand = "B3"
	NIRBand   = "B5"
	QABand    = "BQA"
)

// archiveSuffix is the extension of bulk-order downloads.
const archiveSuffix = ".tar.gz"

// Scene is one unpacked Landsat 8 scene.
type Scene struct {
	ID        string // product identifier, the directory name
	Dir       string
	Bands     pipeline.Inputs
	Extracted bool // unpacked from an archive by this discovery
}

// FindBands returns the green, near-infrared and quality band files in dir.
// Files are matched by their trailing band token (e.g. "_B3.TIF", extension
// case-insensitive). Reprojected copies and earlier masks are ignored.
func FindBands(dir string) (pipeline.Inputs, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return pipeline.Inputs{}, err
	}

	found := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if pipeline.IsMaskPath(name) || reproject.IsCachedPath(name) {
			continue
		}
		token, ok := bandToken(name)
		if !ok {
			continue
		}
		if prev, dup := found[token]; dup {
			return pipeline.Inputs{}, fmt.Errorf("%s: band %s matches both %s and %s", dir, token, prev, name)
		}
		found[token] = filepath.Join(dir, name)
	}

	var missing []string
	for _, token := range []string{GreenBand, NIRBand, QABand} {
		if found[token] == "" {
			missing = append(missing, token)
		}
	}
	if len(missing) > 0 {
		return pipeline.Inputs{}, fmt.Errorf("%s: %w: %s", dir, ErrBandMissing, strings.Join(missing, ", "))
	}
	return pipeline.Inputs{Green: found[GreenBand], NIR: found[NIRBand], QA: found[QABand]}, nil
}

// bandToken returns the band token of a GeoTIFF file name such as
// "LC08_..._B3.TIF".
func bandToken(name string) (string, bool) {
	ext := filepath.Ext(name)
	switch strings.ToUpper(ext) {
	case ".TIF", ".TIFF":
	default:
		return "", false
	}
	stem := strings.TrimSuffix(name, ext)
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return "", false
	}
	token := strings.ToUpper(stem[i+1:])
	switch token {
	case GreenBand, NIRBand, QABand:
		return token, true
	}
	return "", false
}

// isLandsat8 reports whether name is a Landsat 8 product identifier, such
// as LC08_L1TP_015002_20170708_20170716_01_T1 or the older LC80150022017189LGN00.
func isLandsat8(name string) bool {
	if len(name) < 4 || name[0] != 'L' {
		return false
	}
	return name[2:4] == "08" || name[2] == '8'
}

// Option configures Discover.
type Option func(*discoverer)

type discoverer struct {
	extract bool
	log     logrus.FieldLogger
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *discoverer) { d.log = log }
}

// WithExtract controls whether archives without a sibling directory are
// unpacked. Enabled by default.
func WithExtract(extract bool) Option {
	return func(d *discoverer) { d.extract = extract }
}

// Discover walks root for Landsat 8 scenes. A "<id>.tar.gz" archive whose
// "<id>" directory does not exist yet is unpacked next to it; every "<id>"
// directory then yields a scene. Directories with missing bands are logged
// and skipped. Scenes are returned sorted by directory.
func Discover(root string, opts ...Option) ([]Scene, error) {
	d := &discoverer{extract: true, log: observability.Discard()}
	for _, opt := range opts {
		opt(d)
	}

	seen := map[string]bool{}
	var scenes []Scene
	add := func(dir string, extracted bool) {
		if seen[dir] {
			return
		}
		seen[dir] = true
		bands, err := FindBands(dir)
		if err != nil {
			d.log.WithError(err).WithField("dir", dir).Warn("skipping incomplete scene")
			return
		}
		scenes = append(scenes, Scene{ID: filepath.Base(dir), Dir: dir, Bands: bands, Extracted: extracted})
	}

	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := e.Name()
		if !isLandsat8(name) {
			return nil
		}

		if e.IsDir() {
			add(path, false)
			return filepath.SkipDir
		}

		if !d.extract || !strings.HasSuffix(name, archiveSuffix) {
			return nil
		}
		dir := filepath.Join(filepath.Dir(path), strings.TrimSuffix(name, archiveSuffix))
		if _, err := os.Stat(dir); err == nil {
			return nil // unpacked already, visited as a directory
		}
		d.log.WithField("archive", path).Info("unpacking scene")
		if err := Extract(path, dir); err != nil {
			return err
		}
		add(dir, true)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Dir < scenes[j].Dir })
	return scenes, nil
}

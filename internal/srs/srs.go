// Package srs resolves the EPSG authority code of a georeferenced raster.
package srs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pspoerri/ndwimask/internal/cog"
)

// ErrProjection reports a raster whose spatial reference has no usable
// EPSG authority code.
var ErrProjection = errors.New("no EPSG authority code")

// Georeferenced is a raster carrying GeoTIFF metadata. *cog.Reader
// satisfies it.
type Georeferenced interface {
	Path() string
	GeoInfo() cog.GeoInfo
}

// ResolveEPSG returns the EPSG code of r's spatial reference. The
// ProjectedCSType GeoKey wins over GeographicType; a missing directory, a
// zero code or the user-defined code yields ErrProjection.
func ResolveEPSG(r Georeferenced) (int, error) {
	info := r.GeoInfo()
	switch {
	case len(info.GeoKeys) == 0:
		return 0, fmt.Errorf("%s: %w: missing GeoKey directory", r.Path(), ErrProjection)
	case info.EPSG == cog.UserDefinedCode:
		return 0, fmt.Errorf("%s: %w: user-defined coordinate system", r.Path(), ErrProjection)
	case info.EPSG <= 0:
		return 0, fmt.Errorf("%s: %w", r.Path(), ErrProjection)
	}
	return info.EPSG, nil
}

// ParseCode parses "3413" or "EPSG:3413" (case-insensitive prefix).
// The empty string parses as 0, meaning no target reference.
func ParseCode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if len(s) > 5 && strings.EqualFold(s[:5], "EPSG:") {
		s = s[5:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("invalid EPSG code %q", s)
	}
	return code, nil
}

// String formats code the way gdalwarp expects it in -t_srs.
func String(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

package cog

import "math"

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072
)

// UserDefinedCode is the GeoKey value for a coordinate system without an
// authority code.
const UserDefinedCode = 32767

// GeoInfo holds parsed GeoTIFF metadata.
type GeoInfo struct {
	EPSG       int     // EPSG code (e.g. 32622); 0 when no authority code is present
	OriginX    float64 // easting of upper-left corner
	OriginY    float64 // northing of upper-left corner
	PixelSizeX float64 // pixel width in CRS units (positive)
	PixelSizeY float64 // pixel height in CRS units (positive)

	// Raw GeoTIFF tags, carried so a derived raster can reproduce the
	// spatial reference exactly.
	GeoKeys         []uint16
	GeoDoubleParams []float64
	GeoAsciiParams  string
}

// GeoTransform returns the affine transform in GDAL order:
// [originX, pixelWidth, 0, originY, 0, -pixelHeight].
func (g GeoInfo) GeoTransform() [6]float64 {
	return [6]float64{g.OriginX, g.PixelSizeX, 0, g.OriginY, 0, -g.PixelSizeY}
}

// HasGeoTransform reports whether origin and pixel size were found.
func (g GeoInfo) HasGeoTransform() bool {
	return g.PixelSizeX != 0 && g.PixelSizeY != 0
}

// SameGrid reports whether two GeoInfos describe the same pixel grid and
// spatial reference. Coordinates are compared with a tolerance relative to
// the pixel size.
func (g GeoInfo) SameGrid(o GeoInfo) bool {
	if g.EPSG != o.EPSG {
		return false
	}
	tol := 1e-6 * math.Max(math.Abs(g.PixelSizeX), math.Abs(g.PixelSizeY))
	a, b := g.GeoTransform(), o.GeoTransform()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// parseGeoInfo extracts geographic metadata from an IFD.
func parseGeoInfo(ifd *IFD) GeoInfo {
	info := GeoInfo{
		GeoKeys:         ifd.GeoKeys,
		GeoDoubleParams: ifd.GeoDoubleParams,
		GeoAsciiParams:  ifd.GeoAsciiParams,
	}

	// ModelPixelScale: [ScaleX, ScaleY, ScaleZ]
	if len(ifd.ModelPixelScale) >= 2 {
		info.PixelSizeX = ifd.ModelPixelScale[0]
		info.PixelSizeY = ifd.ModelPixelScale[1]
	}

	// ModelTiepoint: [I, J, K, X, Y, Z] - maps pixel (I,J) to (X,Y)
	if len(ifd.ModelTiepoint) >= 6 {
		info.OriginX = ifd.ModelTiepoint[3] - ifd.ModelTiepoint[0]*info.PixelSizeX
		info.OriginY = ifd.ModelTiepoint[4] + ifd.ModelTiepoint[1]*info.PixelSizeY
	}

	// ModelTransformation is a row-major 4x4 matrix; only the north-up
	// subset (no rotation terms) is representable here.
	if len(ifd.ModelTransformation) >= 16 && len(ifd.ModelPixelScale) == 0 {
		m := ifd.ModelTransformation
		info.PixelSizeX = m[0]
		info.PixelSizeY = -m[5]
		info.OriginX = m[3]
		info.OriginY = m[7]
	}

	info.EPSG = parseEPSG(ifd.GeoKeys)

	return info
}

// parseEPSG extracts the EPSG code from GeoKey directory entries.
// Projected codes take precedence over geographic ones.
func parseEPSG(geoKeys []uint16) int {
	if len(geoKeys) < 4 {
		return 0
	}

	// GeoKey directory header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])

	var geographic int
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		keyID := geoKeys[base]
		location := geoKeys[base+1]
		valueOffset := geoKeys[base+3]

		// A non-zero location means the value lives in another tag, which
		// is never the case for a plain authority code.
		if location != 0 {
			continue
		}

		switch keyID {
		case gkProjectedCSTypeGeoKey:
			if valueOffset > 0 {
				return int(valueOffset)
			}
		case gkGeographicTypeGeoKey:
			if valueOffset > 0 && geographic == 0 {
				geographic = int(valueOffset)
			}
		}
	}

	return geographic
}

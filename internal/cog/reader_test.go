package cog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// window extracts the expected samples of a region from a full raster.
func window(samples []float64, width, x, y, w, h int) []float64 {
	out := make([]float64, 0, w*h)
	for row := y; row < y+h; row++ {
		out = append(out, samples[row*width+x:row*width+x+w]...)
	}
	return out
}

func TestReadRegion_Layouts(t *testing.T) {
	const w, h = 37, 23
	samples := ramp(w, h)

	tests := []struct {
		name string
		fx   fixture
	}{
		{"strips uint16", fixture{bits: 16, format: sampleFormatUint, rowsPerStrip: 5}},
		{"single strip int16", fixture{bits: 16, format: sampleFormatInt, rowsPerStrip: h}},
		{"tiles uint16", fixture{bits: 16, format: sampleFormatUint, tileW: 16, tileH: 16}},
		{"tiles deflate predictor", fixture{bits: 16, format: sampleFormatUint, tileW: 16, tileH: 8,
			compression: compressionDeflate, predictor: 2}},
		{"strips deflate", fixture{bits: 16, format: sampleFormatUint, rowsPerStrip: 4, compression: compressionDeflate}},
		{"strips float32", fixture{bits: 32, format: sampleFormatFloat, rowsPerStrip: 3}},
		{"tiles byte", fixture{bits: 8, format: sampleFormatUint, tileW: 16, tileH: 16}},
	}

	windows := [][4]int{
		{0, 0, w, h},
		{0, 0, 16, 16},
		{10, 3, 20, 15},
		{36, 22, 1, 1},
		{32, 16, 5, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := tt.fx
			fx.width, fx.height = w, h
			fx.samples = samples
			if fx.bits == 8 {
				fx.samples = make([]float64, len(samples))
				for i, v := range samples {
					fx.samples[i] = float64(int(v) % 256)
				}
			}
			fx.geo = utmGeo()

			path := filepath.Join(t.TempDir(), "band.tif")
			fx.write(t, path)

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, w, r.Width())
			assert.Equal(t, h, r.Height())
			assert.Equal(t, 32622, r.EPSG())

			for _, win := range windows {
				got, err := r.ReadRegion(win[0], win[1], win[2], win[3])
				require.NoError(t, err)
				assert.Equal(t, window(fx.samples, w, win[0], win[1], win[2], win[3]), got, "window %v", win)
			}
		})
	}
}

func TestReadRegion_OutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "band.tif")
	fixture{width: 8, height: 8, bits: 16, format: sampleFormatUint, rowsPerStrip: 8, samples: ramp(8, 8)}.write(t, path)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, win := range [][4]int{{-1, 0, 2, 2}, {0, 0, 9, 1}, {7, 7, 2, 1}, {0, 0, 0, 1}} {
		_, err := r.ReadRegion(win[0], win[1], win[2], win[3])
		assert.Error(t, err, "window %v", win)
	}
}

func TestReadRegion_TruncatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "band.tif")
	fixture{width: 8, height: 8, bits: 16, format: sampleFormatUint, rowsPerStrip: 2, samples: ramp(8, 8)}.write(t, path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-1))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadRegion(0, 0, 8, 2)
	require.NoError(t, err)

	_, err = r.ReadRegion(0, 6, 8, 2)
	require.ErrorContains(t, err, "exceeds file size")
	assert.NotContains(t, err.Error(), path)
}

func TestReadRegion_CachesChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "band.tif")
	fixture{width: 32, height: 32, bits: 16, format: sampleFormatUint, tileW: 16, tileH: 16, samples: ramp(32, 32)}.write(t, path)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadRegion(0, 0, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.len())

	_, err = r.ReadRegion(8, 8, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, 4, r.cache.len())
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.tif"))
	var oe *OpenError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, filepath.Join(dir, "missing.tif"), oe.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	notTIFF := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notTIFF, []byte("definitely not a tiff"), 0o644))
	_, err = Open(notTIFF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), notTIFF)

	empty := filepath.Join(dir, "empty.tif")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Open(empty)
	assert.ErrorContains(t, err, "empty file")
}

func TestOpen_WorldFileFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "band.tif")
	fixture{width: 4, height: 4, bits: 16, format: sampleFormatUint, rowsPerStrip: 4, samples: ramp(4, 4)}.write(t, path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "band.tfw"),
		[]byte("30\n0\n0\n-30\n500015\n4199985\n"), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	geo := r.GeoInfo()
	assert.Equal(t, [6]float64{500000, 30, 0, 4200000, 0, -30}, geo.GeoTransform())
	assert.Zero(t, geo.EPSG)
}

func TestParseEPSG(t *testing.T) {
	tests := []struct {
		name string
		keys []uint16
		want int
	}{
		{"empty", nil, 0},
		{"projected", []uint16{1, 1, 0, 1, gkProjectedCSTypeGeoKey, 0, 1, 3413}, 3413},
		{"geographic", []uint16{1, 1, 0, 1, gkGeographicTypeGeoKey, 0, 1, 4326}, 4326},
		{"projected wins", []uint16{1, 1, 0, 2,
			gkGeographicTypeGeoKey, 0, 1, 4326,
			gkProjectedCSTypeGeoKey, 0, 1, 32622}, 32622},
		{"user defined", []uint16{1, 1, 0, 1, gkProjectedCSTypeGeoKey, 0, 1, UserDefinedCode}, UserDefinedCode},
		{"value in other tag", []uint16{1, 1, 0, 1, gkProjectedCSTypeGeoKey, tagGeoDoubleParamsTag, 1, 0}, 0},
		{"truncated", []uint16{1, 1, 0, 2, gkProjectedCSTypeGeoKey, 0, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseEPSG(tt.keys))
		})
	}
}

func TestGeoInfo_SameGrid(t *testing.T) {
	a := utmGeo()
	b := utmGeo()
	assert.True(t, a.SameGrid(b))

	b.OriginX += 30
	assert.False(t, a.SameGrid(b))

	c := utmGeo()
	c.EPSG = 3413
	assert.False(t, a.SameGrid(c))
}

// packCodes packs 9-bit LZW codes MSB-first.
func packCodes(codes ...int) []byte {
	var out []byte
	var acc uint32
	var n uint
	for _, c := range codes {
		acc = acc<<9 | uint32(c)
		n += 9
		for n >= 8 {
			out = append(out, byte(acc>>(n-8)))
			n -= 8
		}
	}
	if n > 0 {
		out = append(out, byte(acc<<(8-n)))
	}
	return out
}

func TestDecompressTIFFLZW(t *testing.T) {
	got, err := decompressTIFFLZW(packCodes(lzwClearCode, 'A', 'B', 258, lzwEOICode))
	require.NoError(t, err)
	assert.Equal(t, "ABAB", string(got))

	// KwKwK: code 258 is referenced before it is defined.
	got, err = decompressTIFFLZW(packCodes(lzwClearCode, 'A', 258, lzwEOICode))
	require.NoError(t, err)
	assert.Equal(t, "AAA", string(got))

	_, err = decompressTIFFLZW(packCodes('A', lzwEOICode))
	assert.Error(t, err)

	_, err = decompressTIFFLZW(packCodes(lzwClearCode, 'A', 300))
	assert.ErrorIs(t, err, errLZWInvalidCode)
}

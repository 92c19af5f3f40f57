package cog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "LC08_B3_NDWI_mask.TIF")

	geo := utmGeo()
	geo.EPSG = 32622
	geo.GeoAsciiParams = "WGS 84 / UTM zone 22N|"
	noData := -9999.0

	const width, height = 300, 260
	w, err := NewWriter(out, WriterOptions{
		Width:    width,
		Height:   height,
		DataType: Int16,
		Geo:      geo,
		NoData:   &noData,
	})
	require.NoError(t, err)

	// Write in two uneven blocks; the second includes negative values.
	top := make([]float64, width*100)
	for i := range top {
		top[i] = float64(i % 2)
	}
	bottom := make([]float64, width*160)
	for i := range bottom {
		bottom[i] = -9999
	}
	require.NoError(t, w.WriteRegion(0, 0, width, 100, top))
	require.NoError(t, w.WriteRegion(0, 100, width, 160, bottom))
	require.NoError(t, w.Finalize())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file must be renamed away")

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, width, r.Width())
	assert.Equal(t, height, r.Height())
	assert.Equal(t, 32622, r.EPSG())
	assert.True(t, geo.SameGrid(r.GeoInfo()))
	assert.Equal(t, "WGS 84 / UTM zone 22N|", r.GeoInfo().GeoAsciiParams)

	nd, ok := r.NoData()
	require.True(t, ok)
	assert.Equal(t, -9999.0, nd)

	s := r.Structure()
	assert.Equal(t, "Int16", s.DataType)
	assert.Equal(t, "none", s.Compression)
	assert.False(t, s.Tiled)

	got, err := r.ReadRegion(0, 0, width, 100)
	require.NoError(t, err)
	assert.Equal(t, top, got)

	got, err = r.ReadRegion(0, 100, width, 160)
	require.NoError(t, err)
	assert.Equal(t, bottom, got)
}

func TestWriter_PartialWindows(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mask.tif")
	w, err := NewWriter(out, WriterOptions{Width: 5, Height: 4, DataType: UInt16})
	require.NoError(t, err)

	require.NoError(t, w.WriteRegion(3, 1, 2, 2, []float64{1, 2, 3, 4}))
	require.NoError(t, w.Finalize())

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadRegion(0, 0, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{
		0, 0, 0, 0, 0,
		0, 0, 0, 1, 2,
		0, 0, 0, 3, 4,
		0, 0, 0, 0, 0,
	}, got)
	_, ok := r.NoData()
	assert.False(t, ok)
}

func TestWriter_Float32(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ndwi.tif")
	w, err := NewWriter(out, WriterOptions{Width: 3, Height: 1, DataType: Float32})
	require.NoError(t, err)
	require.NoError(t, w.WriteRegion(0, 0, 3, 1, []float64{-0.5, 0, 0.25}))
	require.NoError(t, w.Finalize())

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadRegion(0, 0, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0, 0.25}, got)
	assert.Equal(t, "Float32", r.Structure().DataType)
}

func TestWriter_Abort(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "mask.tif")

	w, err := NewWriter(out, WriterOptions{Width: 4, Height: 4, DataType: Int16})
	require.NoError(t, err)
	require.NoError(t, w.WriteRegion(0, 0, 4, 1, []float64{1, 1, 1, 1}))
	w.Abort()
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, w.WriteRegion(0, 0, 1, 1, []float64{1}), errWriterClosed)
	assert.ErrorIs(t, w.Finalize(), errWriterClosed)
}

func TestWriter_AbortAfterFinalizeKeepsOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mask.tif")
	w, err := NewWriter(out, WriterOptions{Width: 2, Height: 2, DataType: Int16})
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	w.Abort()

	_, err = os.Stat(out)
	assert.NoError(t, err)
}

func TestWriter_InvalidInput(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWriter(filepath.Join(dir, "a.tif"), WriterOptions{Width: 0, Height: 10})
	assert.Error(t, err)

	_, err = NewWriter(filepath.Join(dir, "missing", "a.tif"), WriterOptions{Width: 1, Height: 1})
	assert.Error(t, err)

	w, err := NewWriter(filepath.Join(dir, "b.tif"), WriterOptions{Width: 4, Height: 4})
	require.NoError(t, err)
	defer w.Abort()

	assert.Error(t, w.WriteRegion(3, 0, 2, 1, []float64{0, 0}), "window exceeds width")
	assert.Error(t, w.WriteRegion(0, 0, 2, 2, []float64{0}), "short data")
}

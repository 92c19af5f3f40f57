package cog

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// fixture describes a synthetic single-band TIFF for reader tests.
type fixture struct {
	width, height int
	bits          int
	format        uint16
	tileW, tileH  int // zero for strips
	rowsPerStrip  int
	compression   uint16
	predictor     uint16
	samples       []float64 // row-major, width*height
	geo           GeoInfo
}

func (f fixture) encodeSample(b []byte, v float64) {
	switch {
	case f.format == sampleFormatFloat && f.bits == 32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case f.format == sampleFormatFloat && f.bits == 64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case f.bits == 8:
		b[0] = byte(int64(v))
	case f.bits == 16:
		binary.LittleEndian.PutUint16(b, uint16(int64(v)))
	case f.bits == 32:
		binary.LittleEndian.PutUint32(b, uint32(int64(v)))
	}
}

// chunkBytes returns the encoded, predicted and compressed bytes of a chunk
// whose top-left pixel is (x0, y0).
func (f fixture) chunkBytes(t *testing.T, x0, y0, cw, ch int) []byte {
	t.Helper()
	bps := f.bits / 8
	raw := make([]byte, cw*ch*bps)
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			sx, sy := x0+x, y0+y
			if sx >= f.width || sy >= f.height {
				continue
			}
			f.encodeSample(raw[(y*cw+x)*bps:], f.samples[sy*f.width+sx])
		}
	}

	if f.predictor == 2 {
		require.Equal(t, 2, bps, "fixture predictor only implemented for 16-bit samples")
		for y := 0; y < ch; y++ {
			row := raw[y*cw*2 : (y+1)*cw*2]
			for x := cw - 1; x > 0; x-- {
				v := binary.LittleEndian.Uint16(row[x*2:]) - binary.LittleEndian.Uint16(row[(x-1)*2:])
				binary.LittleEndian.PutUint16(row[x*2:], v)
			}
		}
	}

	if f.compression == compressionDeflate {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		return buf.Bytes()
	}
	return raw
}

// write encodes the fixture to path.
func (f fixture) write(t *testing.T, path string) {
	t.Helper()
	if f.compression == 0 {
		f.compression = compressionNone
	}
	if f.predictor == 0 {
		f.predictor = 1
	}

	var chunks [][]byte
	tiled := f.tileW > 0
	if tiled {
		for y := 0; y < f.height; y += f.tileH {
			for x := 0; x < f.width; x += f.tileW {
				chunks = append(chunks, f.chunkBytes(t, x, y, f.tileW, f.tileH))
			}
		}
	} else {
		for y := 0; y < f.height; y += f.rowsPerStrip {
			rows := min(f.rowsPerStrip, f.height-y)
			chunks = append(chunks, f.chunkBytes(t, 0, y, f.width, rows))
		}
	}

	counts := make([]uint32, len(chunks))
	for i, c := range chunks {
		counts[i] = uint32(len(c))
	}

	offsetTag, countTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(f.width)),
		longEntry(tagImageLength, uint32(f.height)),
		shortEntry(tagBitsPerSample, uint16(f.bits)),
		shortEntry(tagCompression, f.compression),
		shortEntry(tagPhotometric, 1),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagSampleFormat, f.format),
		shortEntry(tagPredictor, f.predictor),
	}
	if tiled {
		offsetTag, countTag = tagTileOffsets, tagTileByteCounts
		entries = append(entries,
			longEntry(tagTileWidth, uint32(f.tileW)),
			longEntry(tagTileLength, uint32(f.tileH)))
	} else {
		entries = append(entries, longEntry(tagRowsPerStrip, uint32(f.rowsPerStrip)))
	}
	entries = append(entries,
		longEntry(offsetTag, make([]uint32, len(chunks))...),
		longEntry(countTag, counts...))
	entries = append(entries, geoEntries(f.geo)...)

	enc := newIFDEncoder(entries)
	next := enc.size()
	offsets := make([]uint32, len(chunks))
	for i, c := range chunks {
		offsets[i] = uint32(next)
		next += int64(len(c))
	}
	enc.set(longEntry(offsetTag, offsets...))

	out := enc.encode()
	for _, c := range chunks {
		out = append(out, c...)
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

// ramp returns width*height samples with distinct values per pixel.
func ramp(width, height int) []float64 {
	s := make([]float64, width*height)
	for i := range s {
		s[i] = float64((i*7 + 3) % 4093)
	}
	return s
}

// utmGeo returns georeferencing for a UTM zone 22N grid.
func utmGeo() GeoInfo {
	return GeoInfo{
		OriginX:    440_000,
		OriginY:    7_680_000,
		PixelSizeX: 30,
		PixelSizeY: 30,
		GeoKeys: []uint16{
			1, 1, 0, 3,
			gkModelTypeGeoKey, 0, 1, 1,
			gkRasterTypeGeoKey, 0, 1, 1,
			gkProjectedCSTypeGeoKey, 0, 1, 32622,
		},
	}
}

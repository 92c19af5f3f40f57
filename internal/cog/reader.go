package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OpenError reports a file that could not be opened as a raster band.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return "opening " + e.Path + ": " + e.Err.Error() }
func (e *OpenError) Unwrap() error { return e.Err }

// Reader provides windowed access to the first band of a GeoTIFF file.
// The file is memory-mapped where the platform allows it and read fully
// into memory otherwise. Decoded chunks are cached per reader.
type Reader struct {
	data   []byte
	mapped bool
	bo     binary.ByteOrder
	ifds   []IFD
	geo    GeoInfo
	path   string
	cache  *chunkCache
}

// Open opens a GeoTIFF file and parses its structure. Only single-band
// (one sample per pixel) images are accepted.
func Open(path string) (*Reader, error) {
	r, err := open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	return r, nil
}

func open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("empty file")
	}

	// Memory-map the entire file read-only. The fd can be closed after mmap.
	data, err := mmapFile(f, int(size))
	mapped := err == nil
	if !mapped {
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}

	r := &Reader{data: data, mapped: mapped, path: path, cache: newChunkCache(DefaultCacheSamples)}
	if err := r.parse(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	ifds, bo, err := parseTIFF(bytes.NewReader(r.data))
	if err != nil {
		return err
	}
	if len(ifds) == 0 {
		return fmt.Errorf("no IFDs found")
	}
	r.ifds = ifds
	r.bo = bo

	first := &ifds[0]
	if first.Width == 0 || first.Height == 0 {
		return fmt.Errorf("image has zero extent (%dx%d)", first.Width, first.Height)
	}
	if first.SamplesPerPixel != 1 {
		return fmt.Errorf("expected a single-band raster, got %d samples per pixel", first.SamplesPerPixel)
	}
	if _, err := sampleDecoder(r.bo, first.bitsPerSample(), first.SampleFormat); err != nil {
		return err
	}
	switch first.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateAdob:
	default:
		return fmt.Errorf("unsupported compression: %d", first.Compression)
	}
	if first.Predictor != 1 && first.Predictor != 2 {
		return fmt.Errorf("unsupported predictor: %d", first.Predictor)
	}
	_, _, offsets, counts := first.chunkLayout()
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("missing or inconsistent chunk offset tables (%d offsets, %d counts)", len(offsets), len(counts))
	}

	r.geo = parseGeoInfo(first)
	if !r.geo.HasGeoTransform() {
		if p := findTFW(r.path); p != "" {
			tfw, err := parseTFW(p)
			if err != nil {
				return err
			}
			tfw.applyTo(&r.geo)
		}
	}
	return nil
}

// Close releases the file contents.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	var err error
	if r.mapped {
		err = munmapFile(r.data)
	}
	r.data = nil
	return err
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// GeoInfo returns the parsed geographic metadata.
func (r *Reader) GeoInfo() GeoInfo {
	return r.geo
}

// Width returns the image width (columns).
func (r *Reader) Width() int {
	return int(r.ifds[0].Width)
}

// Height returns the image height (rows).
func (r *Reader) Height() int {
	return int(r.ifds[0].Height)
}

// EPSG returns the detected EPSG code, or 0.
func (r *Reader) EPSG() int {
	return r.geo.EPSG
}

// NumOverviews returns the number of overview levels (IFDs beyond the first).
func (r *Reader) NumOverviews() int {
	return len(r.ifds) - 1
}

// NoData returns the GDAL NoData value declared on the band, if any.
func (r *Reader) NoData() (float64, bool) {
	s := strings.TrimSpace(r.ifds[0].NoData)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BoundsInCRS returns the bounding box in the source CRS.
func (r *Reader) BoundsInCRS() (minX, minY, maxX, maxY float64) {
	ifd := &r.ifds[0]
	minX = r.geo.OriginX
	maxY = r.geo.OriginY
	maxX = minX + float64(ifd.Width)*r.geo.PixelSizeX
	minY = maxY - float64(ifd.Height)*r.geo.PixelSizeY
	return
}

// Structure describes how the band is stored on disk.
type Structure struct {
	Width, Height           int
	ChunkWidth, ChunkHeight int
	Tiled                   bool
	DataType                string
	Compression             string
	Predictor               int
}

// Structure returns the storage layout of the band.
func (r *Reader) Structure() Structure {
	ifd := &r.ifds[0]
	cw, ch, _, _ := ifd.chunkLayout()
	return Structure{
		Width:       int(ifd.Width),
		Height:      int(ifd.Height),
		ChunkWidth:  cw,
		ChunkHeight: ch,
		Tiled:       ifd.IsTiled(),
		DataType:    dataTypeName(ifd.bitsPerSample(), ifd.SampleFormat),
		Compression: compressionName(ifd.Compression),
		Predictor:   int(ifd.Predictor),
	}
}

// ReadRegion reads a rectangular window of the band into a row-major
// float64 slice of length width*height. Coordinates are in pixels.
// Errors do not repeat the file name; see Path.
func (r *Reader) ReadRegion(startX, startY, width, height int) ([]float64, error) {
	ifd := &r.ifds[0]
	if width <= 0 || height <= 0 || startX < 0 || startY < 0 ||
		startX+width > int(ifd.Width) || startY+height > int(ifd.Height) {
		return nil, fmt.Errorf("window (%d,%d %dx%d) outside raster %dx%d",
			startX, startY, width, height, ifd.Width, ifd.Height)
	}

	cw, ch, _, _ := ifd.chunkLayout()
	across := ifd.chunksAcross()
	dst := make([]float64, width*height)

	// Determine which chunks we need to read.
	colStart := startX / cw
	colEnd := (startX + width - 1) / cw
	rowStart := startY / ch
	rowEnd := (startY + height - 1) / ch

	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			chunk, err := r.chunk(row*across + col)
			if err != nil {
				return nil, err
			}

			// Compute the overlap region.
			chunkMinX := col * cw
			chunkMinY := row * ch

			srcMinX := max(startX, chunkMinX) - chunkMinX
			srcMinY := max(startY, chunkMinY) - chunkMinY
			srcMaxX := min(startX+width, chunkMinX+cw) - chunkMinX
			srcMaxY := min(startY+height, chunkMinY+ch) - chunkMinY

			dstMinX := max(startX, chunkMinX) - startX
			dstMinY := max(startY, chunkMinY) - startY

			n := srcMaxX - srcMinX
			for y := srcMinY; y < srcMaxY; y++ {
				src := chunk[y*cw+srcMinX : y*cw+srcMinX+n]
				off := (dstMinY+y-srcMinY)*width + dstMinX
				copy(dst[off:off+n], src)
			}
		}
	}

	return dst, nil
}

// chunk returns the decoded samples of one tile or strip, padded to the
// full chunk size.
func (r *Reader) chunk(idx int) ([]float64, error) {
	if c := r.cache.get(idx); c != nil {
		return c, nil
	}

	ifd := &r.ifds[0]
	cw, ch, offsets, counts := ifd.chunkLayout()
	if idx < 0 || idx >= len(offsets) {
		return nil, fmt.Errorf("chunk index %d out of range (%d chunks)", idx, len(offsets))
	}

	out := make([]float64, cw*ch)
	offset, size := offsets[idx], counts[idx]
	if size == 0 {
		// Sparse chunk: GDAL leaves these unwritten, they read as zero.
		r.cache.put(idx, out)
		return out, nil
	}

	end := offset + size
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("chunk data [%d:%d] exceeds file size %d", offset, end, len(r.data))
	}

	buf, err := decompress(ifd.Compression, r.data[offset:end])
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", idx, err)
	}

	bps := ifd.bitsPerSample() / 8
	if ifd.Predictor == 2 {
		if ifd.Compression == compressionNone {
			// Never modify the mapped file contents.
			buf = append([]byte(nil), buf...)
		}
		undoHorizontalPredictor(buf, r.bo, bps, cw)
	}

	decode, _ := sampleDecoder(r.bo, ifd.bitsPerSample(), ifd.SampleFormat)
	n := min(len(buf)/bps, len(out))
	for i := 0; i < n; i++ {
		out[i] = decode(buf[i*bps:])
	}

	r.cache.put(idx, out)
	return out, nil
}

package cog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DataType is the sample type of a written band.
type DataType int

const (
	Int16 DataType = iota
	UInt16
	Float32
)

func (d DataType) bytes() int {
	if d == Float32 {
		return 4
	}
	return 2
}

func (d DataType) sampleFormat() uint16 {
	switch d {
	case UInt16:
		return sampleFormatUint
	case Float32:
		return sampleFormatFloat
	default:
		return sampleFormatInt
	}
}

// stripTargetBytes is the approximate size of one strip in written files.
const stripTargetBytes = 64 * 1024

// WriterOptions configures a new single-band GeoTIFF.
type WriterOptions struct {
	Width, Height int
	DataType      DataType
	Geo           GeoInfo  // geotransform and GeoKeys copied verbatim
	NoData        *float64 // declared via the GDAL_NODATA tag when non-nil
	TempDir       string   // defaults to the output directory
}

// Writer writes an uncompressed, strip-organised, little-endian GeoTIFF.
// The header and directory are written on creation; pixel windows are
// written in place at their final offsets, so the whole raster never has
// to be held in memory.
//
// Data goes to a temporary file next to the output. Finalize renames it
// into place; Abort removes it. A crash before Finalize therefore never
// leaves a file at the output path.
type Writer struct {
	outputPath string
	opts       WriterOptions
	tmpFile    *os.File
	dataOffset int64
	mu         sync.Mutex
	finalized  bool
	aborted    bool
}

var errWriterClosed = errors.New("writer already finalized or aborted")

// NewWriter creates the temporary file and writes the TIFF structure.
func NewWriter(outputPath string, opts WriterOptions) (*Writer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", opts.Width, opts.Height)
	}

	header, dataOffset, err := buildHeader(opts)
	if err != nil {
		return nil, err
	}
	total := dataOffset + int64(opts.Width)*int64(opts.Height)*int64(opts.DataType.bytes())
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("raster %dx%d exceeds the 4 GiB classic TIFF limit", opts.Width, opts.Height)
	}

	tmpDir := opts.TempDir
	if tmpDir == "" {
		tmpDir = filepath.Dir(outputPath)
	}
	tmpFile, err := os.CreateTemp(tmpDir, "."+filepath.Base(outputPath)+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	w := &Writer{outputPath: outputPath, opts: opts, tmpFile: tmpFile, dataOffset: dataOffset}

	// Size the file up front so unwritten pixels read back as zero.
	if err := tmpFile.Truncate(total); err != nil {
		w.Abort()
		return nil, fmt.Errorf("sizing temp file: %w", err)
	}
	if _, err := tmpFile.WriteAt(header, 0); err != nil {
		w.Abort()
		return nil, fmt.Errorf("writing TIFF header: %w", err)
	}
	return w, nil
}

// Path returns the final output path.
func (w *Writer) Path() string {
	return w.outputPath
}

// WriteRegion writes a row-major window of samples at pixel offset (x, y).
func (w *Writer) WriteRegion(x, y, width, height int, data []float64) error {
	if x < 0 || y < 0 || width <= 0 || height <= 0 || x+width > w.opts.Width || y+height > w.opts.Height {
		return fmt.Errorf("window (%d,%d %dx%d) outside raster %dx%d", x, y, width, height, w.opts.Width, w.opts.Height)
	}
	if len(data) != width*height {
		return fmt.Errorf("window %dx%d needs %d samples, got %d", width, height, width*height, len(data))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized || w.aborted {
		return errWriterClosed
	}

	size := w.opts.DataType.bytes()
	buf := make([]byte, width*size)
	for row := 0; row < height; row++ {
		src := data[row*width : (row+1)*width]
		for i, v := range src {
			switch w.opts.DataType {
			case Int16:
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
			case UInt16:
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
			case Float32:
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
			}
		}
		off := w.dataOffset + (int64(y+row)*int64(w.opts.Width)+int64(x))*int64(size)
		if _, err := w.tmpFile.WriteAt(buf, off); err != nil {
			return fmt.Errorf("writing row %d: %w", y+row, err)
		}
	}
	return nil
}

// Finalize flushes the temporary file and renames it to the output path.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted {
		return errWriterClosed
	}
	w.finalized = true

	tmpPath := w.tmpFile.Name()
	if err := w.tmpFile.Sync(); err != nil {
		w.tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := w.tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, w.outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming to %s: %w", w.outputPath, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Finalize.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.aborted {
		return
	}
	w.aborted = true
	w.tmpFile.Close()
	os.Remove(w.tmpFile.Name())
}

// buildHeader lays out the TIFF header, the single IFD and its out-of-line
// values. It returns the encoded bytes and the offset of the pixel data.
func buildHeader(opts WriterOptions) ([]byte, int64, error) {
	size := opts.DataType.bytes()
	rowBytes := opts.Width * size
	rowsPerStrip := max(1, min(opts.Height, stripTargetBytes/rowBytes))
	numStrips := (opts.Height + rowsPerStrip - 1) / rowsPerStrip

	counts := make([]uint32, numStrips)
	for i := range counts {
		rows := min(rowsPerStrip, opts.Height-i*rowsPerStrip)
		counts[i] = uint32(rows * rowBytes)
	}

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(opts.Width)),
		longEntry(tagImageLength, uint32(opts.Height)),
		shortEntry(tagBitsPerSample, uint16(size*8)),
		shortEntry(tagCompression, compressionNone),
		shortEntry(tagPhotometric, 1), // BlackIsZero
		longEntry(tagStripOffsets, make([]uint32, numStrips)...),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(rowsPerStrip)),
		longEntry(tagStripByteCounts, counts...),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, opts.DataType.sampleFormat()),
	}
	entries = append(entries, geoEntries(opts.Geo)...)
	if opts.NoData != nil {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(*opts.NoData, 'f', -1, 64)))
	}

	enc := newIFDEncoder(entries)
	dataOffset := enc.size()

	offsets := make([]uint32, numStrips)
	for i := range offsets {
		offsets[i] = uint32(dataOffset + int64(i*rowsPerStrip*rowBytes))
	}
	enc.set(longEntry(tagStripOffsets, offsets...))

	return enc.encode(), dataOffset, nil
}

// geoEntries returns the georeferencing tags describing g.
func geoEntries(g GeoInfo) []ifdEntry {
	var entries []ifdEntry
	if g.HasGeoTransform() {
		entries = append(entries,
			doubleEntry(tagModelPixelScaleTag, g.PixelSizeX, g.PixelSizeY, 0),
			doubleEntry(tagModelTiepointTag, 0, 0, 0, g.OriginX, g.OriginY, 0),
		)
	}
	if len(g.GeoKeys) > 0 {
		entries = append(entries, shortEntry(tagGeoKeyDirectoryTag, g.GeoKeys...))
	}
	if len(g.GeoDoubleParams) > 0 {
		entries = append(entries, doubleEntry(tagGeoDoubleParamsTag, g.GeoDoubleParams...))
	}
	if g.GeoAsciiParams != "" {
		entries = append(entries, asciiEntry(tagGeoAsciiParamsTag, g.GeoAsciiParams))
	}
	return entries
}

package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

// decompress returns the raw sample bytes of one chunk.
func decompress(compression uint16, data []byte) ([]byte, error) {
	switch compression {
	case compressionNone:
		return data, nil
	case compressionLZW:
		return decompressTIFFLZW(data)
	case compressionDeflate, compressionDeflateAdob:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", compression)
	}
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place. Each row of
// rowSamples samples stores differences to the previous sample.
func undoHorizontalPredictor(buf []byte, bo binary.ByteOrder, bytesPerSample, rowSamples int) {
	rowBytes := rowSamples * bytesPerSample
	if rowBytes == 0 {
		return
	}
	for r := 0; r+rowBytes <= len(buf); r += rowBytes {
		row := buf[r : r+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := 1; i < rowSamples; i++ {
				row[i] += row[i-1]
			}
		case 2:
			prev := bo.Uint16(row)
			for i := 1; i < rowSamples; i++ {
				v := bo.Uint16(row[i*2:]) + prev
				bo.PutUint16(row[i*2:], v)
				prev = v
			}
		case 4:
			prev := bo.Uint32(row)
			for i := 1; i < rowSamples; i++ {
				v := bo.Uint32(row[i*4:]) + prev
				bo.PutUint32(row[i*4:], v)
				prev = v
			}
		case 8:
			prev := bo.Uint64(row)
			for i := 1; i < rowSamples; i++ {
				v := bo.Uint64(row[i*8:]) + prev
				bo.PutUint64(row[i*8:], v)
				prev = v
			}
		}
	}
}

// sampleDecoder returns a function converting one encoded sample to float64.
func sampleDecoder(bo binary.ByteOrder, bits int, format uint16) (func([]byte) float64, error) {
	switch {
	case format == sampleFormatUint && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == sampleFormatInt && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == sampleFormatUint && bits == 16:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }, nil
	case format == sampleFormatInt && bits == 16:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, nil
	case format == sampleFormatUint && bits == 32:
		return func(b []byte) float64 { return float64(bo.Uint32(b)) }, nil
	case format == sampleFormatInt && bits == 32:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, nil
	case format == sampleFormatFloat && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, nil
	case format == sampleFormatFloat && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, nil
	default:
		return nil, fmt.Errorf("unsupported sample type: %d-bit format %d", bits, format)
	}
}

func dataTypeName(bits int, format uint16) string {
	switch format {
	case sampleFormatUint:
		if bits == 8 {
			return "Byte"
		}
		return fmt.Sprintf("UInt%d", bits)
	case sampleFormatInt:
		return fmt.Sprintf("Int%d", bits)
	case sampleFormatFloat:
		return fmt.Sprintf("Float%d", bits)
	default:
		return fmt.Sprintf("Unknown%d", bits)
	}
}

func compressionName(c uint16) string {
	switch c {
	case compressionNone:
		return "none"
	case compressionLZW:
		return "lzw"
	case compressionDeflate, compressionDeflateAdob:
		return "deflate"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

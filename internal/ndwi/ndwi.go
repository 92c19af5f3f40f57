// Package ndwi classifies reflectance grids into Normalized Difference
// Water Index values and thresholds them into water masks.
//
//	NDWI = (green - nir) / (green + nir)
//
// A pixel is valid when its quality flag is not QAInvalid and the
// denominator is non-zero. Invalid pixels carry the NoData sentinel.
package ndwi

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// NoData marks pixels excluded from classification.
	NoData = -9999.0

	// QAInvalid is the quality-band value of a fill or unusable pixel.
	QAInvalid = 1.0
)

// ErrShapeMismatch reports grids of different dimensions.
var ErrShapeMismatch = errors.New("grid shapes differ")

// Classify computes the NDWI of every pixel in double precision.
func Classify(green, nir, qa mat.Matrix) (*mat.Dense, error) {
	r, c := green.Dims()
	if nr, nc := nir.Dims(); nr != r || nc != c {
		return nil, fmt.Errorf("%w: green %dx%d, nir %dx%d", ErrShapeMismatch, r, c, nr, nc)
	}
	if qr, qc := qa.Dims(); qr != r || qc != c {
		return nil, fmt.Errorf("%w: green %dx%d, qa %dx%d", ErrShapeMismatch, r, c, qr, qc)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, Pixel(green.At(i, j), nir.At(i, j), qa.At(i, j)))
		}
	}
	return out, nil
}

// Pixel classifies a single pixel.
func Pixel(green, nir, qa float64) float64 {
	sum := green + nir
	if qa == QAInvalid || sum == 0 {
		return NoData
	}
	return (green - nir) / sum
}

// Mask returns 1 where the index is valid and at least threshold, else 0.
func Mask(ndwi mat.Matrix, threshold float64) *mat.Dense {
	r, c := ndwi.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := ndwi.At(i, j); v != NoData && v >= threshold {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

// Summary counts the pixels of one or more classified blocks.
type Summary struct {
	Pixels int     // all pixels
	NoData int     // pixels with the NoData sentinel
	Water  int     // valid pixels at or above the threshold
	Mean   float64 // mean NDWI of valid pixels, 0 when none are valid
}

// Valid returns the number of pixels with an index value.
func (s Summary) Valid() int { return s.Pixels - s.NoData }

// Dry returns the number of valid pixels below the threshold.
func (s Summary) Dry() int { return s.Valid() - s.Water }

// WaterFraction returns Water/Valid, or 0 when no pixel is valid.
func (s Summary) WaterFraction() float64 {
	if s.Valid() == 0 {
		return 0
	}
	return float64(s.Water) / float64(s.Valid())
}

// Add merges o into s.
func (s *Summary) Add(o Summary) {
	if v := s.Valid() + o.Valid(); v > 0 {
		s.Mean = (s.Mean*float64(s.Valid()) + o.Mean*float64(o.Valid())) / float64(v)
	}
	s.Pixels += o.Pixels
	s.NoData += o.NoData
	s.Water += o.Water
}

// Summarize counts the classes of a block given its index and mask grids.
func Summarize(ndwi, mask mat.Matrix) Summary {
	r, c := ndwi.Dims()
	s := Summary{Pixels: r * c}
	valid := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := ndwi.At(i, j)
			if v == NoData {
				s.NoData++
				continue
			}
			valid = append(valid, v)
			if mask.At(i, j) == 1 {
				s.Water++
			}
		}
	}
	if len(valid) > 0 {
		s.Mean = stat.Mean(valid, nil)
	}
	return s
}

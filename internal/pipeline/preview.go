package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/pspoerri/ndwimask/internal/cog"
	"github.com/pspoerri/ndwimask/internal/encode"
)

// DefaultPreviewSize is the longest side of a quicklook image in pixels.
const DefaultPreviewSize = 1024

var (
	dryColor   = color.RGBA{0, 0, 0, 255}
	waterColor = color.RGBA{0, 92, 230, 255}
)

// RenderPreview reads a finalized mask and returns a nearest-neighbour
// downsample whose longest side is at most maxDim pixels. Water pixels are
// blue, everything else black.
func RenderPreview(maskPath string, maxDim int) (*image.Paletted, error) {
	r, err := cog.Open(maskPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w, h := r.Width(), r.Height()
	step := 1
	if maxDim > 0 {
		step = max(1, (max(w, h)+maxDim-1)/maxDim)
	}
	ow, oh := (w+step-1)/step, (h+step-1)/step

	img := image.NewPaletted(image.Rect(0, 0, ow, oh), color.Palette{dryColor, waterColor})
	for oy := 0; oy < oh; oy++ {
		row, err := r.ReadRegion(0, oy*step, w, 1)
		if err != nil {
			return nil, err
		}
		for ox := 0; ox < ow; ox++ {
			if row[ox*step] == 1 {
				img.SetColorIndex(ox, oy, 1)
			}
		}
	}
	return img, nil
}

// WritePreview renders the mask with RenderPreview and writes it next to
// the mask as <stem>_preview.<ext>. It returns the image path.
func WritePreview(maskPath string, enc encode.Encoder, maxDim int) (string, error) {
	img, err := RenderPreview(maskPath, maxDim)
	if err != nil {
		return "", err
	}
	data, err := enc.Encode(img)
	if err != nil {
		return "", fmt.Errorf("encoding %s preview: %w", enc.Format(), err)
	}

	out := PreviewPath(maskPath, enc.FileExtension())
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+"-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return out, nil
}

// ReadMask loads a finalized mask into memory. Runs never hold the full
// mask; callers that need it read it back from disk.
func ReadMask(maskPath string) (*mat.Dense, error) {
	r, err := cog.Open(maskPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := r.ReadRegion(0, 0, r.Width(), r.Height())
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r.Height(), r.Width(), data), nil
}

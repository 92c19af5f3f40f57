package pipeline

import (
	"fmt"

	"github.com/pspoerri/ndwimask/internal/cog"
)

var bandNames = [3]string{"green", "nir", "qa"}

// bandSet holds the green, near-infrared and quality readers, in that order.
type bandSet []*cog.Reader

// openBands opens all three bands or none.
func openBands(paths [3]string) (bandSet, error) {
	b := make(bandSet, 0, len(paths))
	for _, path := range paths {
		r, err := cog.Open(path)
		if err != nil {
			b.close()
			return nil, &StageError{Stage: StageOpen, Path: path, Err: fmt.Errorf("%w: %w", ErrRasterOpen, err)}
		}
		b = append(b, r)
	}
	return b, nil
}

func (b bandSet) close() {
	for _, r := range b {
		r.Close()
	}
}

// checkAligned verifies that every band shares the green band's extent,
// geotransform and spatial reference.
func (b bandSet) checkAligned() error {
	green := b[0]
	for i, r := range b[1:] {
		name := bandNames[i+1]
		if r.Width() != green.Width() || r.Height() != green.Height() {
			return &StageError{Stage: StageValidate, Path: r.Path(), Err: fmt.Errorf(
				"%w: %s is %dx%d, green is %dx%d",
				ErrShapeMismatch, name, r.Width(), r.Height(), green.Width(), green.Height())}
		}
		if !r.GeoInfo().SameGrid(green.GeoInfo()) {
			gt, ggt := r.GeoInfo().GeoTransform(), green.GeoInfo().GeoTransform()
			return &StageError{Stage: StageValidate, Path: r.Path(), Err: fmt.Errorf(
				"%w: %s grid %v (EPSG %d) differs from green %v (EPSG %d)",
				ErrShapeMismatch, name, gt, r.EPSG(), ggt, green.EPSG())}
		}
	}
	return nil
}

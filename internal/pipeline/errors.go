package pipeline

import (
	"errors"
	"fmt"

	"github.com/pspoerri/ndwimask/internal/ndwi"
)

var (
	// ErrRasterOpen reports an input that is not a readable raster.
	ErrRasterOpen = errors.New("cannot open raster")

	// ErrShapeMismatch reports inputs whose extent, geotransform or spatial
	// reference disagree. It is the classifier's error, so errors.Is
	// matches either source.
	ErrShapeMismatch = ndwi.ErrShapeMismatch
)

// Stage names a step of a run.
type Stage string

const (
	StageOpen      Stage = "open"
	StageReproject Stage = "reproject"
	StageValidate  Stage = "validate"
	StageCreate    Stage = "create"
	StageTiling    Stage = "tiling"
	StageFinalize  Stage = "finalize"
	StagePreview   Stage = "preview"
)

// StageError reports the stage and file at which a run failed.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

package inference

import (
	"fmt"

	"github.com/cropdoc/api/internal/inference/artifact"
	"github.com/cropdoc/api/internal/inference/preprocess"
)

// ImageDecodeError means the input could not be read as an image.
type ImageDecodeError = preprocess.ImageDecodeError

// ArtifactPersistError means the overlay could not be written.
type ArtifactPersistError = artifact.ArtifactPersistError

// Pipeline stages, used in InferenceFailure and span names.
const (
	StageDecode  = "decode"
	StagePredict = "predict"
	StageExplain = "explain"
	StagePersist = "persist"
)

// InferenceFailure wraps any model or explanation failure for one image.
type InferenceFailure struct {
	ImageID string
	Stage   string
	Err     error
}

func (e *InferenceFailure) Error() string {
	return fmt.Sprintf("inference failed for %s during %s: %v", e.ImageID, e.Stage, e.Err)
}

func (e *InferenceFailure) Unwrap() error { return e.Err }

//go:build !onnx
// +build !onnx

package loader

import (
	"errors"

	"github.com/cropdoc/api/internal/inference/tensor"
)

type onnxClassifier struct{}

// newONNXClassifier fails when the binary was built without the onnx tag.
func newONNXClassifier(Manifest, string) (*onnxClassifier, error) {
	return nil, errors.New("onnx build tag is not enabled")
}

func (c *onnxClassifier) NumClasses() int { return 0 }

func (c *onnxClassifier) Forward(*tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errors.New("onnx build tag is not enabled")
}

func (c *onnxClassifier) Close() error { return nil }

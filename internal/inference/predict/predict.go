// Package predict turns classifier logits into class probabilities and a
// single top prediction.
package predict

import (
	"fmt"
	"math"

	"github.com/cropdoc/api/internal/inference/tensor"
)

// Classifier maps a [B,3,H,W] batch to [B,classes] logits.
type Classifier interface {
	Forward(batch *tensor.Tensor) (*tensor.Tensor, error)
	NumClasses() int
}

// Prediction is the arg-max class of one image.
type Prediction struct {
	Index       int
	Label       string
	Probability float64
}

// Service pairs a classifier with its ordered class labels.
type Service struct {
	model  Classifier
	labels []string
}

// NewService fails when the label set does not match the classifier width.
func NewService(model Classifier, labels []string) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("predict: nil classifier")
	}
	if len(labels) != model.NumClasses() {
		return nil, fmt.Errorf("predict: %d labels for %d model classes", len(labels), model.NumClasses())
	}
	return &Service{model: model, labels: append([]string(nil), labels...)}, nil
}

// Labels returns the class labels in logit order.
func (s *Service) Labels() []string { return s.labels }

// Classifier returns the wrapped model.
func (s *Service) Classifier() Classifier { return s.model }

// Probabilities runs the model on batch and returns row-wise softmax
// probabilities as [B][classes].
func (s *Service) Probabilities(batch *tensor.Tensor) ([][]float64, error) {
	logits, err := s.model.Forward(batch)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if logits.Dims() != 2 || logits.Shape[1] != len(s.labels) {
		return nil, fmt.Errorf("predict: unexpected logits shape %v", logits.Shape)
	}
	if logits.Shape[0] != batch.Shape[0] {
		return nil, fmt.Errorf("predict: %d logit rows for batch of %d", logits.Shape[0], batch.Shape[0])
	}
	return Softmax(logits), nil
}

// Predict classifies a single preprocessed [3,H,W] image.
func (s *Service) Predict(img *tensor.Tensor) (*Prediction, []float64, error) {
	batch, err := tensor.Stack(img)
	if err != nil {
		return nil, nil, err
	}
	probs, err := s.Probabilities(batch)
	if err != nil {
		return nil, nil, err
	}
	p := probs[0]
	idx := ArgMax(p)
	return &Prediction{Index: idx, Label: s.labels[idx], Probability: p[idx]}, p, nil
}

// Softmax applies a max-shifted softmax to every row of a [B,C] tensor.
func Softmax(logits *tensor.Tensor) [][]float64 {
	rows, cols := logits.Shape[0], logits.Shape[1]
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := logits.Data[i*cols : (i+1)*cols]
		max := math.Inf(-1)
		for _, v := range row {
			max = math.Max(max, float64(v))
		}
		p := make([]float64, cols)
		var sum float64
		for j, v := range row {
			p[j] = math.Exp(float64(v) - max)
			sum += p[j]
		}
		for j := range p {
			p[j] /= sum
		}
		out[i] = p
	}
	return out
}

// ArgMax returns the index of the largest value, the lowest index on ties.
func ArgMax(p []float64) int {
	best := 0
	for i, v := range p {
		if v > p[best] {
			best = i
		}
	}
	return best
}

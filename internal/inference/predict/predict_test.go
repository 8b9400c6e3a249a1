package predict

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropdoc/api/internal/inference/tensor"
)

type fixedLogits struct {
	row []float32
	err error
}

func (f fixedLogits) NumClasses() int { return len(f.row) }

func (f fixedLogits) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := tensor.New(batch.Shape[0], len(f.row))
	for i := 0; i < batch.Shape[0]; i++ {
		copy(out.Row(i).Data, f.row)
	}
	return out, nil
}

func TestNewServiceChecksLabelCount(t *testing.T) {
	_, err := NewService(fixedLogits{row: []float32{0, 0}}, []string{"a"})
	assert.Error(t, err)

	_, err = NewService(nil, nil)
	assert.Error(t, err)
}

func TestSoftmaxIsStable(t *testing.T) {
	x, _ := tensor.FromData([]float32{1000, 1000, 990, -5, 0, 5}, 2, 3)
	p := Softmax(x)

	for _, row := range p {
		var sum float64
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
	assert.InDelta(t, p[0][0], p[0][1], 1e-12)
	assert.Equal(t, 2, ArgMax(p[1]))
}

func TestArgMaxTiesPickLowestIndex(t *testing.T) {
	assert.Equal(t, 1, ArgMax([]float64{0.1, 0.45, 0.45}))
}

func TestPredict(t *testing.T) {
	labels := []string{"Fall Army Worm", "Grey Leaf Spot", "Healthy"}
	clf := fixedLogits{row: []float32{float32(math.Log(0.01)), float32(math.Log(0.02)), float32(math.Log(0.97))}}
	svc, err := NewService(clf, labels)
	require.NoError(t, err)

	pred, probs, err := svc.Predict(tensor.New(3, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, pred.Index)
	assert.Equal(t, "Healthy", pred.Label)
	assert.InDelta(t, 0.97, pred.Probability, 1e-6)
	assert.Len(t, probs, 3)
}

func TestProbabilitiesWrapsForwardError(t *testing.T) {
	boom := errors.New("boom")
	svc, err := NewService(fixedLogits{row: []float32{0}, err: boom}, []string{"a"})
	require.NoError(t, err)

	_, err = svc.Probabilities(tensor.New(2, 3, 4, 4))
	assert.ErrorIs(t, err, boom)
}

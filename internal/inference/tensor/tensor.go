package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 array stored in row-major (C) order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numel(shape)),
	}
}

// FromData wraps data without copying. The length must match the shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("tensor: shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dims returns the rank.
func (t *Tensor) Dims() int { return len(t.Shape) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Reshape returns a view sharing Data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromData(t.Data, shape...)
}

// Row returns the i-th slice along the leading axis as a view.
func (t *Tensor) Row(i int) *Tensor {
	if len(t.Shape) == 0 {
		return t
	}
	stride := numel(t.Shape[1:])
	return &Tensor{
		Shape: append([]int(nil), t.Shape[1:]...),
		Data:  t.Data[i*stride : (i+1)*stride],
	}
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Equal reports whether shapes match and every element is within tol.
func (t *Tensor) Equal(o *Tensor, tol float64) bool {
	if !t.SameShape(o) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i])-float64(o.Data[i])) > tol {
			return false
		}
	}
	return true
}

// Stack concatenates equally shaped tensors along a new leading axis.
func Stack(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: nothing to stack")
	}
	first := ts[0]
	out := New(append([]int{len(ts)}, first.Shape...)...)
	stride := first.Len()
	for i, t := range ts {
		if !t.SameShape(first) {
			return nil, fmt.Errorf("tensor: stack shape mismatch at %d: %v vs %v", i, t.Shape, first.Shape)
		}
		copy(out.Data[i*stride:], t.Data)
	}
	return out, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

package loader

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/nlpodyssey/safetensors"
	"github.com/x448/float16"

	"github.com/cropdoc/api/internal/inference/tensor"
)

// checkpoint indexes the tensors of a deserialized safetensors file by name.
type checkpoint struct {
	tensors map[string]safetensors.TensorView
}

func openCheckpoint(path string) (*checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := safetensors.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	names := st.Names()
	ck := &checkpoint{tensors: make(map[string]safetensors.TensorView, len(names))}
	for _, name := range names {
		view, ok := st.Tensor(name)
		if !ok {
			return nil, fmt.Errorf("%s: tensor %s listed but not readable", path, name)
		}
		ck.tensors[name] = view
	}
	return ck, nil
}

func (c *checkpoint) names() []string {
	out := make([]string, 0, len(c.tensors))
	for name := range c.tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *checkpoint) shape(name string) ([]uint64, bool) {
	view, ok := c.tensors[name]
	if !ok {
		return nil, false
	}
	return view.Shape(), true
}

// readInto decodes a stored tensor into dst, widening to float32.
func (c *checkpoint) readInto(name string, dst []float32) error {
	view, ok := c.tensors[name]
	if !ok {
		return fmt.Errorf("tensor %s not found", name)
	}
	dt := view.DType()
	var width int
	switch dt {
	case safetensors.F32:
		width = 4
	case safetensors.F16, safetensors.BF16:
		width = 2
	default:
		return fmt.Errorf("tensor %s: unsupported dtype %v", name, dt)
	}
	buf := view.Data()
	if len(buf) != len(dst)*width {
		return fmt.Errorf("tensor %s: %d bytes stored, %d expected", name, len(buf), len(dst)*width)
	}
	switch dt {
	case safetensors.F32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case safetensors.F16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
	case safetensors.BF16:
		// bfloat16 is the upper half of a float32
		for i := range dst {
			dst[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
	}
	return nil
}

func sameShape(stored []uint64, t *tensor.Tensor) bool {
	if len(stored) != len(t.Shape) {
		return false
	}
	for i := range stored {
		if stored[i] != uint64(t.Shape[i]) {
			return false
		}
	}
	return true
}

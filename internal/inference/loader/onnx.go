//go:build onnx
// +build onnx

package loader

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cropdoc/api/internal/inference/tensor"
)

// onnxClassifier runs an exported graph through onnxruntime. The session
// binds fixed single-sample tensors, so batches are fed one row at a time
// under a mutex.
type onnxClassifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	sample  []int
	classes int
}

func newONNXClassifier(m Manifest, device string) (*onnxClassifier, error) {
	if m.ONNXLibrary != "" {
		ort.SetSharedLibraryPath(m.ONNXLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	cfg := m.Architecture
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Channels), int64(cfg.ImageSize), int64(cfg.ImageSize)))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(m.Labels))))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	opts, err := sessionOptions(device)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, err
	}
	if opts != nil {
		defer opts.Destroy()
	}

	session, err := ort.NewAdvancedSession(m.ONNXModel,
		[]string{m.InputName}, []string{m.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxClassifier{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		sample:  []int{cfg.Channels, cfg.ImageSize, cfg.ImageSize},
		classes: len(m.Labels),
	}, nil
}

func sessionOptions(device string) (*ort.SessionOptions, error) {
	if device != DeviceCUDA {
		return nil, nil
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA options: %w", err)
	}
	defer cuda.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA: %w", err)
	}
	return opts, nil
}

func (c *onnxClassifier) NumClasses() int { return c.classes }

func (c *onnxClassifier) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if batch.Dims() != 4 || batch.Shape[1] != c.sample[0] || batch.Shape[2] != c.sample[1] || batch.Shape[3] != c.sample[2] {
		return nil, fmt.Errorf("onnx: expected [B,%d,%d,%d] input, got %v", c.sample[0], c.sample[1], c.sample[2], batch.Shape)
	}
	out := tensor.New(batch.Shape[0], c.classes)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < batch.Shape[0]; i++ {
		copy(c.input.GetData(), batch.Row(i).Data)
		if err := c.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		copy(out.Row(i).Data, c.output.GetData())
	}
	return out, nil
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input != nil {
		c.input.Destroy()
	}
	if c.output != nil {
		c.output.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	return ort.DestroyEnvironment()
}

// Package loader builds the classifier once at startup and hands out a
// read-only Handle to it.
package loader

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/inference/predict"
	"github.com/cropdoc/api/internal/inference/vit"
)

// Handle owns a loaded classifier and its labels. It is immutable after Load
// returns and may be shared by concurrent requests.
type Handle struct {
	model    predict.Classifier
	labels   []string
	device   string
	manifest Manifest
	closeFn  func() error
}

// Model returns the classifier.
func (h *Handle) Model() predict.Classifier { return h.model }

// Labels returns the class labels in logit order.
func (h *Handle) Labels() []string { return h.labels }

// Device is the compute device selected at load time.
func (h *Handle) Device() string { return h.device }

// Manifest returns the manifest the handle was loaded from.
func (h *Handle) Manifest() Manifest { return h.manifest }

// Close releases backend resources.
func (h *Handle) Close() error {
	if h.closeFn == nil {
		return nil
	}
	return h.closeFn()
}

// NewHandle wraps an already constructed classifier, e.g. for tests or
// alternative backends.
func NewHandle(model predict.Classifier, labels []string, device string) (*Handle, error) {
	if model.NumClasses() != len(labels) {
		return nil, fmt.Errorf("classifier has %d classes but %d labels were given", model.NumClasses(), len(labels))
	}
	return &Handle{model: model, labels: append([]string(nil), labels...), device: device}, nil
}

// Load validates m, selects the device, builds the architecture and
// assigns every parameter from the checkpoint. Any failure is fatal for the
// caller: there is no partially loaded model.
func Load(ctx context.Context, m Manifest, logger *zap.Logger) (*Handle, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model manifest: %w", err)
	}
	device, err := SelectDevice(m.Backend, m.Device)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		model   predict.Classifier
		closeFn func() error
	)
	switch m.Backend {
	case BackendNative:
		vm, err := LoadNative(m.Architecture, m.Weights, logger)
		if err != nil {
			return nil, err
		}
		model = vm
	case BackendONNX:
		om, err := newONNXClassifier(m, device)
		if err != nil {
			return nil, fmt.Errorf("load onnx model: %w", err)
		}
		model, closeFn = om, om.Close
	}

	logger.Info("Model loaded",
		zap.String("name", m.Name),
		zap.String("backend", m.Backend),
		zap.String("device", device),
		zap.Int("classes", len(m.Labels)),
	)
	return &Handle{
		model:    model,
		labels:   append([]string(nil), m.Labels...),
		device:   device,
		manifest: m,
		closeFn:  closeFn,
	}, nil
}

// LoadNative builds a vit.Model for cfg and fills it from a safetensors file.
// Every model parameter must be present with the exact shape; entries the
// model knows to skip are ignored, anything else unknown is an error.
func LoadNative(cfg vit.Config, path string, logger *zap.Logger) (*vit.Model, error) {
	model, err := vit.NewModel(cfg)
	if err != nil {
		return nil, err
	}
	ck, err := openCheckpoint(path)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}

	params := model.Parameters()
	want := make(map[string]bool, len(params))
	for _, p := range params {
		want[p.Name] = true
		shape, ok := ck.shape(p.Name)
		if !ok {
			return nil, fmt.Errorf("weights %s: missing tensor %s", path, p.Name)
		}
		if !sameShape(shape, p.Tensor) {
			return nil, fmt.Errorf("weights %s: tensor %s has shape %v, model expects %v", path, p.Name, shape, p.Tensor.Shape)
		}
		if err := ck.readInto(p.Name, p.Tensor.Data); err != nil {
			return nil, fmt.Errorf("weights %s: %w", path, err)
		}
	}

	var skipped int
	for _, name := range ck.names() {
		if want[name] {
			continue
		}
		if !model.Ignorable(name) {
			return nil, fmt.Errorf("weights %s: unexpected tensor %s", path, name)
		}
		skipped++
	}
	logger.Debug("Checkpoint assigned",
		zap.String("path", path),
		zap.Int("tensors", len(params)),
		zap.Int("skipped", skipped),
	)
	return model, nil
}

// SelectDevice resolves the device preference once. The native engine only
// runs on the CPU; the onnx backend uses CUDA only when asked explicitly.
func SelectDevice(backend, pref string) (string, error) {
	switch backend {
	case BackendNative:
		switch pref {
		case DeviceAuto, DeviceCPU, "":
			return DeviceCPU, nil
		case DeviceCUDA:
			return "", fmt.Errorf("device %q is not available for the native backend on %s/%s", pref, runtime.GOOS, runtime.GOARCH)
		}
	case BackendONNX:
		switch pref {
		case DeviceAuto, "", DeviceCPU:
			return DeviceCPU, nil
		case DeviceCUDA:
			return pref, nil
		}
	}
	return "", fmt.Errorf("unsupported backend/device combination %s/%s", backend, pref)
}

package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cropdoc/api/internal/inference/vit"
)

// Backends.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Devices.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// MaizeLabels is the class order the published checkpoint was trained with.
var MaizeLabels = []string{
	"Fall Army Worm",
	"Grey Leaf Spot",
	"Healthy",
	"Northern Leaf Blight",
	"Northern Leaf Spot",
	"Common Rust",
}

// Manifest describes which weights to load and how to run them.
type Manifest struct {
	Name         string     `yaml:"name"`
	Backend      string     `yaml:"backend"`
	Device       string     `yaml:"device"`
	Weights      string     `yaml:"weights"`
	ONNXModel    string     `yaml:"onnx_model"`
	ONNXLibrary  string     `yaml:"onnx_library"`
	InputName    string     `yaml:"input_name"`
	OutputName   string     `yaml:"output_name"`
	Labels       []string   `yaml:"labels"`
	Architecture vit.Config `yaml:"architecture"`
}

// DefaultManifest is the maize model with DeiT-tiny geometry on the native
// backend.
func DefaultManifest() Manifest {
	return Manifest{
		Name:         "convdeit-tiny-maize",
		Backend:      BackendNative,
		Device:       DeviceAuto,
		Weights:      "models/convdeit_tiny.safetensors",
		InputName:    "input",
		OutputName:   "output",
		Labels:       append([]string(nil), MaizeLabels...),
		Architecture: vit.DeiTTiny(len(MaizeLabels)),
	}
}

// LoadManifest reads a YAML manifest over DefaultManifest. Relative weight
// and model paths are resolved against the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	m := DefaultManifest()
	m.Architecture.NumClasses = 0
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	m.Weights = resolve(dir, m.Weights)
	m.ONNXModel = resolve(dir, m.ONNXModel)
	if m.Architecture.NumClasses == 0 {
		m.Architecture.NumClasses = len(m.Labels)
	}
	return m, m.Validate()
}

// Validate checks the manifest before any weights are touched.
func (m Manifest) Validate() error {
	var errs []error
	switch m.Backend {
	case BackendNative:
		if m.Weights == "" {
			errs = append(errs, errors.New("weights path is required for the native backend"))
		}
	case BackendONNX:
		if m.ONNXModel == "" {
			errs = append(errs, errors.New("onnx_model path is required for the onnx backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", m.Backend))
	}
	switch m.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", m.Device))
	}
	if len(m.Labels) == 0 {
		errs = append(errs, errors.New("at least one class label is required"))
	}
	seen := make(map[string]bool, len(m.Labels))
	for _, l := range m.Labels {
		if seen[l] {
			errs = append(errs, fmt.Errorf("duplicate class label %q", l))
		}
		seen[l] = true
	}
	if m.Architecture.NumClasses != len(m.Labels) {
		errs = append(errs, fmt.Errorf("architecture has %d classes but %d labels are listed", m.Architecture.NumClasses, len(m.Labels)))
	}
	if err := m.Architecture.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

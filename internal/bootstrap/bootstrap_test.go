package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/inference/explain"
	"github.com/cropdoc/api/internal/inference/loader"
)

func TestManifestDefaultsAndOverrides(t *testing.T) {
	m, err := Manifest(&config.Config{ModelWeights: "/models/w.safetensors", ModelBackend: "native", ModelDevice: "cpu"})
	require.NoError(t, err)
	assert.Equal(t, "/models/w.safetensors", m.Weights)
	assert.Equal(t, loader.DeviceCPU, m.Device)
	assert.Equal(t, loader.MaizeLabels, m.Labels)
}

func TestManifestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights: w.safetensors\nlabels: [a, b]\n"), 0o644))

	m, err := Manifest(&config.Config{ModelManifest: path, ModelWeights: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w.safetensors"), m.Weights)
	assert.Equal(t, []string{"a", "b"}, m.Labels)
	assert.Equal(t, 2, m.Architecture.NumClasses)
}

func TestManifestRejectsUnknownBackend(t *testing.T) {
	_, err := Manifest(&config.Config{ModelBackend: "tflite"})
	assert.Error(t, err)
}

func TestExplainConfig(t *testing.T) {
	ec := ExplainConfig(&config.Config{ExplainSamples: 200, ExplainKernelWidth: 0.5, ExplainSeed: 3})
	def := explain.DefaultConfig()
	assert.Equal(t, 200, ec.NumSamples)
	assert.Equal(t, def.NumFeatures, ec.NumFeatures)
	assert.Equal(t, def.BatchSize, ec.BatchSize)
	assert.Equal(t, 0.5, ec.KernelWidth)
	assert.Equal(t, int64(3), ec.Seed)
	require.NoError(t, ec.Validate())
}

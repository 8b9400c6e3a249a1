package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/inference/explain"
	"github.com/cropdoc/api/internal/inference/loader"
	"github.com/cropdoc/api/internal/inference/segment"
	"github.com/cropdoc/api/internal/inference/tensor"
	"github.com/cropdoc/api/internal/inference/vit"
)

// healthyStub always answers "Healthy" with 97% probability.
type healthyStub struct {
	panicOn bool
	err     error
}

func (s healthyStub) NumClasses() int { return len(loader.MaizeLabels) }

func (s healthyStub) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if s.panicOn {
		panic("kernel exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := tensor.New(batch.Shape[0], len(loader.MaizeLabels))
	for i := 0; i < batch.Shape[0]; i++ {
		row := out.Row(i).Data
		for j := range row {
			row[j] = float32(math.Log(0.006))
		}
		row[2] = float32(math.Log(0.97))
	}
	return out, nil
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
	labels []string
}

func (r *stageRecorder) ObserveStage(stage string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *stageRecorder) ObservePrediction(label string, _ float64, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
}

func testConfig() explain.Config {
	cfg := explain.DefaultConfig()
	cfg.NumSamples = 12
	cfg.BatchSize = 5
	cfg.Seed = 42
	return cfg
}

func newPipeline(t *testing.T, clf healthyStub, opts ...Option) *Pipeline {
	t.Helper()
	h, err := loader.NewHandle(clf, loader.MaizeLabels, loader.DeviceCPU)
	require.NoError(t, err)
	p, err := New(h, &segment.Grid{TileSize: 56}, testConfig(), zap.NewNop(), opts...)
	require.NoError(t, err)
	return p
}

func writeLeaf(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(40 + x%60), G: uint8(120 + y%90), B: 50, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
	return path
}

func TestPredictEndToEnd(t *testing.T) {
	rec := &stageRecorder{}
	p := newPipeline(t, healthyStub{}, WithObserver(rec))
	src := writeLeaf(t, t.TempDir(), "leaf.jpg", 600, 400)
	out := filepath.Join(t.TempDir(), "explanations")

	res, err := p.Predict(context.Background(), src, out)
	require.NoError(t, err)

	assert.Equal(t, "Healthy", res.PredictedClass)
	assert.Equal(t, 97.0, res.ConfidencePercent)
	assert.Equal(t, 2, res.ClassIndex)
	assert.Equal(t, filepath.Join(out, "lime_leaf.jpg"), res.ExplanationImagePath)
	assert.InDelta(t, 0.006, res.Probabilities["Common Rust"], 1e-6)

	f, err := os.Open(res.ExplanationImagePath)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 224, cfg.Width)
	assert.Equal(t, 224, cfg.Height)

	assert.Equal(t, []string{StageDecode, StagePredict, StageExplain, StagePersist}, rec.stages)
	assert.Equal(t, []string{"Healthy"}, rec.labels)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "Healthy", fields["predicted_class"])
	assert.Equal(t, 97.0, fields["confidence_percent"])
	assert.Equal(t, res.ExplanationImagePath, fields["explanation_image_path"])
}

func TestPredictUndecodableImageWritesNothing(t *testing.T) {
	p := newPipeline(t, healthyStub{})
	src := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(src, []byte("not a jpeg at all"), 0o644))
	out := filepath.Join(t.TempDir(), "explanations")

	_, err := p.Predict(context.Background(), src, out)
	var de *ImageDecodeError
	require.True(t, errors.As(err, &de), "got %v", err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPredictIsRepeatable(t *testing.T) {
	p := newPipeline(t, healthyStub{})
	src := writeLeaf(t, t.TempDir(), "leaf.png.jpg", 300, 500)

	a, err := p.Predict(context.Background(), src, filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	b, err := p.Predict(context.Background(), src, filepath.Join(t.TempDir(), "b"))
	require.NoError(t, err)

	assert.Equal(t, a.PredictedClass, b.PredictedClass)
	assert.Equal(t, a.ConfidencePercent, b.ConfidencePercent)

	da, err := os.ReadFile(a.ExplanationImagePath)
	require.NoError(t, err)
	db, err := os.ReadFile(b.ExplanationImagePath)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestPredictModelFailures(t *testing.T) {
	src := writeLeaf(t, t.TempDir(), "leaf.jpg", 64, 64)

	for name, clf := range map[string]healthyStub{
		"panic": {panicOn: true},
		"error": {err: errors.New("out of memory")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newPipeline(t, clf).Predict(context.Background(), src, t.TempDir())
			var inf *InferenceFailure
			require.True(t, errors.As(err, &inf), "got %v", err)
			assert.Equal(t, StagePredict, inf.Stage)
			assert.Equal(t, "leaf.jpg", inf.ImageID)
		})
	}
}

func TestPredictPersistFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeLeaf(t, dir, "leaf.jpg", 64, 64)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := newPipeline(t, healthyStub{}).Predict(context.Background(), src, filepath.Join(blocker, "out"))
	var pe *ArtifactPersistError
	assert.True(t, errors.As(err, &pe), "got %v", err)
}

func TestPredictCancelled(t *testing.T) {
	src := writeLeaf(t, t.TempDir(), "leaf.jpg", 64, 64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, healthyStub{}).Predict(ctx, src, t.TempDir())
	var inf *InferenceFailure
	require.True(t, errors.As(err, &inf))
	assert.Equal(t, StageExplain, inf.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictWithNativeModel(t *testing.T) {
	cfg := vit.DeiTTiny(len(loader.MaizeLabels))
	cfg.EmbedDim = 12
	cfg.NumHeads = 2
	cfg.Depth = 2
	cfg.ReplaceBlocks = 1
	model, err := vit.NewModel(cfg)
	require.NoError(t, err)
	model.InitRandom(5)

	h, err := loader.NewHandle(model, loader.MaizeLabels, loader.DeviceCPU)
	require.NoError(t, err)
	ecfg := testConfig()
	ecfg.NumSamples = 4
	p, err := New(h, &segment.Grid{TileSize: 112}, ecfg, zap.NewNop())
	require.NoError(t, err)

	src := writeLeaf(t, t.TempDir(), "field.jpg", 320, 240)
	a, err := p.Predict(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	b, err := p.Predict(context.Background(), src, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, loader.MaizeLabels, a.PredictedClass)
	assert.Equal(t, a.Probabilities, b.Probabilities)
	var sum float64
	for _, v := range a.Probabilities {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
}

func TestRoundPercent(t *testing.T) {
	assert.Equal(t, 97.0, roundPercent(0.97))
	assert.Equal(t, 12.35, roundPercent(0.123456))
	assert.Equal(t, 100.0, roundPercent(1))
}

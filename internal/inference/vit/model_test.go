package vit

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropdoc/api/internal/inference/tensor"
)

func smallConfig() Config {
	cfg := DeiTTiny(4)
	cfg.ImageSize = 32
	cfg.PatchSize = 8
	cfg.EmbedDim = 12
	cfg.NumHeads = 3
	cfg.Depth = 2
	cfg.ReplaceBlocks = 1
	return cfg
}

func randomBatch(t *testing.T, cfg Config, n int, seed int64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(n, cfg.Channels, cfg.ImageSize, cfg.ImageSize)
	for i := range x.Data {
		x.Data[i] = rng.Float32()*2 - 1
	}
	return x
}

func newSmallModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel(smallConfig())
	require.NoError(t, err)
	m.InitRandom(7)
	return m
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DeiTTiny(6).Validate())

	cases := map[string]func(*Config){
		"heads":   func(c *Config) { c.NumHeads = 5 },
		"patch":   func(c *Config) { c.PatchSize = 15 },
		"replace": func(c *Config) { c.ReplaceBlocks = 13 },
		"classes": func(c *Config) { c.NumClasses = 0 },
		"kernel":  func(c *Config) { c.ConvKernel = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DeiTTiny(6)
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDeiTTinyGeometry(t *testing.T) {
	cfg := DeiTTiny(6)
	assert.Equal(t, 14, cfg.GridSize())
	assert.Equal(t, 197, cfg.NumTokens())
	assert.Equal(t, 768, cfg.mlpHidden())
}

func TestParametersNamesAndShapes(t *testing.T) {
	m, err := NewModel(DeiTTiny(6))
	require.NoError(t, err)

	byName := map[string][]int{}
	for _, p := range m.Parameters() {
		_, dup := byName[p.Name]
		require.False(t, dup, "duplicate parameter %s", p.Name)
		byName[p.Name] = p.Tensor.Shape
	}

	assert.Equal(t, []int{1, 197, 192}, byName["pos_embed"])
	assert.Equal(t, []int{192, 3, 16, 16}, byName["patch_embed.proj.weight"])
	assert.Equal(t, []int{576, 192}, byName["blocks.0.attn.qkv.weight"])
	assert.Equal(t, []int{192, 1, 3, 3}, byName["blocks.2.depthwise_conv.dwconv.weight"])
	assert.Equal(t, []int{192}, byName["blocks.1.depthwise_conv.bn.running_var"])
	assert.Equal(t, []int{768, 384}, byName["blocks.0.fuse_mlp.0.weight"])
	assert.Equal(t, []int{192, 768}, byName["blocks.0.fuse_mlp.2.weight"])
	assert.Equal(t, []int{6, 192}, byName["head.weight"])

	assert.Contains(t, byName, "blocks.3.norm1.weight")
	assert.NotContains(t, byName, "blocks.0.norm1.weight")
	assert.NotContains(t, byName, "blocks.3.attn_norm.weight")
}

func TestIgnorable(t *testing.T) {
	m, err := NewModel(DeiTTiny(6))
	require.NoError(t, err)

	assert.True(t, m.Ignorable("blocks.0.depthwise_conv.bn.num_batches_tracked"))
	assert.True(t, m.Ignorable("blocks.2.norm1.bias"))
	assert.False(t, m.Ignorable("blocks.3.norm1.bias"))
	assert.False(t, m.Ignorable("head.weight"))
}

func TestForwardShapeAndDeterminism(t *testing.T) {
	m := newSmallModel(t)
	x := randomBatch(t, m.Config(), 3, 1)

	a, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, a.Shape)
	for _, v := range a.Data {
		require.False(t, math.IsNaN(float64(v)))
	}

	b, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestForwardBatchMatchesSingleSamples(t *testing.T) {
	m := newSmallModel(t)
	x := randomBatch(t, m.Config(), 4, 2)

	batched, err := m.Forward(x)
	require.NoError(t, err)

	m.SetMaxWorkers(1)
	for i := 0; i < 4; i++ {
		one, err := tensor.Stack(x.Row(i))
		require.NoError(t, err)
		y, err := m.Forward(one)
		require.NoError(t, err)
		assert.Equal(t, batched.Row(i).Data, y.Data, "sample %d", i)
	}
}

func TestForwardRejectsWrongShape(t *testing.T) {
	m := newSmallModel(t)
	_, err := m.Forward(tensor.New(1, 3, 16, 16))
	assert.Error(t, err)

	out, err := m.Forward(tensor.New(0, 3, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, out.Shape)
}

// naiveAttention is the textbook per-head loop used to check the strided
// gemm path.
func naiveAttention(a *attention, x []float32, n int) []float32 {
	d := a.dim
	hd := d / a.heads
	qkv := a.qkv.forward(x, n)
	out := make([]float32, n*d)
	for h := 0; h < a.heads; h++ {
		for i := 0; i < n; i++ {
			scores := make([]float64, n)
			max := math.Inf(-1)
			for j := 0; j < n; j++ {
				var s float64
				for e := 0; e < hd; e++ {
					s += float64(qkv[i*3*d+h*hd+e]) * float64(qkv[j*3*d+d+h*hd+e])
				}
				s /= math.Sqrt(float64(hd))
				scores[j] = s
				max = math.Max(max, s)
			}
			var sum float64
			for j := range scores {
				scores[j] = math.Exp(scores[j] - max)
				sum += scores[j]
			}
			for e := 0; e < hd; e++ {
				var acc float64
				for j := 0; j < n; j++ {
					acc += scores[j] / sum * float64(qkv[j*3*d+2*d+h*hd+e])
				}
				out[i*d+h*hd+e] = float32(acc)
			}
		}
	}
	return a.proj.forward(out, n)
}

func TestAttentionMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := newAttention(12, 3, true)
	for _, p := range a.params("attn") {
		for i := range p.Tensor.Data {
			p.Tensor.Data[i] = float32(rng.NormFloat64()) * 0.3
		}
	}
	n := 5
	x := make([]float32, n*12)
	for i := range x {
		x[i] = float32(rng.NormFloat64())
	}

	got := a.forward(x, n)
	want := naiveAttention(a, x, n)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4)
	}
}

func TestDepthwiseConvKeepsClassToken(t *testing.T) {
	c := newDepthwiseConv(2, 3, 0)
	// identity kernel on channel 0, all-ones 3x3 on channel 1
	c.weight.Data[4] = 1
	for i := 9; i < 18; i++ {
		c.weight.Data[i] = 1
	}
	grid := 2
	n := grid*grid + 1
	x := make([]float32, n*2)
	x[0], x[1] = 42, -42
	for tok := 1; tok < n; tok++ {
		x[tok*2] = float32(tok)
		x[tok*2+1] = 1
	}

	out := c.forward(x, n, grid)
	assert.Equal(t, float32(42), out[0])
	assert.Equal(t, float32(-42), out[1])
	for tok := 1; tok < n; tok++ {
		assert.InDelta(t, float32(tok), out[tok*2], 1e-6)
		// every position of a 2x2 grid sees all four neighbours under a 3x3 window
		assert.InDelta(t, 4, out[tok*2+1], 1e-6)
	}
}

func TestBatchNormUsesRunningStatistics(t *testing.T) {
	c := newDepthwiseConv(1, 1, 0)
	c.weight.Data[0] = 1
	c.runMean.Data[0] = 2
	c.runVar.Data[0] = 4
	c.bnWeight.Data[0] = 3
	c.bnBias.Data[0] = 1

	out := c.forward([]float32{0, 6}, 2, 1)
	// (6-2)/2*3+1
	assert.InDelta(t, 7, out[1], 1e-6)
}

func TestLayerNormAndGELU(t *testing.T) {
	ln := newLayerNorm(4, 0)
	y := ln.forward([]float32{1, 2, 3, 4}, 1)
	var mean float64
	for _, v := range y {
		mean += float64(v)
	}
	assert.InDelta(t, 0, mean/4, 1e-6)

	g := []float32{0, 1, -1}
	gelu(g)
	assert.InDelta(t, 0, g[0], 1e-7)
	assert.InDelta(t, 0.8413447, g[1], 1e-6)
	assert.InDelta(t, -0.1586553, g[2], 1e-6)
}

// Package vit implements a DeiT-style vision transformer whose earliest
// encoder blocks fuse self-attention with a depthwise convolution branch.
package vit

import (
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cropdoc/api/internal/inference/tensor"
)

// Model is an inference-only hybrid classifier. After its parameters are
// loaded it is read-only and safe for concurrent Forward calls.
type Model struct {
	cfg        Config
	patchW     *tensor.Tensor // [D, C*P*P]
	patchB     *tensor.Tensor // [D]
	clsToken   *tensor.Tensor // [1,1,D]
	posEmbed   *tensor.Tensor // [1,N,D]
	blocks     []block
	norm       *layerNormLayer
	head       *linear
	maxWorkers int
}

// NewModel builds a zero-initialized model for cfg.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	d := cfg.EmbedDim
	m := &Model{
		cfg:        cfg,
		patchW:     tensor.New(d, cfg.Channels, cfg.PatchSize, cfg.PatchSize),
		patchB:     tensor.New(d),
		clsToken:   tensor.New(1, 1, d),
		posEmbed:   tensor.New(1, cfg.NumTokens(), d),
		norm:       newLayerNorm(d, cfg.LayerNormEps),
		head:       newLinear(d, cfg.NumClasses, true),
		maxWorkers: runtime.GOMAXPROCS(0),
	}
	for i := 0; i < cfg.Depth; i++ {
		if i < cfg.ReplaceBlocks {
			m.blocks = append(m.blocks, newFusedBlock(cfg))
		} else {
			m.blocks = append(m.blocks, newEncoderBlock(cfg))
		}
	}
	return m, nil
}

// Config returns the architecture the model was built with.
func (m *Model) Config() Config { return m.cfg }

// NumClasses is the width of the logits row.
func (m *Model) NumClasses() int { return m.cfg.NumClasses }

// SetMaxWorkers bounds how many samples of a batch are evaluated at once.
func (m *Model) SetMaxWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.maxWorkers = n
}

// Parameters lists every learned tensor under its checkpoint name.
func (m *Model) Parameters() []Param {
	ps := []Param{
		{"cls_token", m.clsToken},
		{"pos_embed", m.posEmbed},
		{"patch_embed.proj.weight", m.patchW},
		{"patch_embed.proj.bias", m.patchB},
	}
	for i, b := range m.blocks {
		ps = append(ps, b.params("blocks."+strconv.Itoa(i))...)
	}
	ps = append(ps, m.norm.params("norm")...)
	ps = append(ps, m.head.params("head")...)
	return ps
}

// Ignorable reports whether a checkpoint entry has no slot in the model but
// is expected to be present: batch-norm step counters and the pre-norm that
// fused blocks inherit without ever using.
func (m *Model) Ignorable(name string) bool {
	if strings.HasSuffix(name, ".num_batches_tracked") {
		return true
	}
	for i := 0; i < m.cfg.ReplaceBlocks; i++ {
		if strings.HasPrefix(name, "blocks."+strconv.Itoa(i)+".norm1.") {
			return true
		}
	}
	return false
}

// InitRandom fills every parameter with small values drawn from a seeded
// source. Normalization scales and variances stay positive.
func (m *Model) InitRandom(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range m.Parameters() {
		switch {
		case strings.HasSuffix(p.Name, "running_var"):
			for i := range p.Tensor.Data {
				p.Tensor.Data[i] = 0.5 + rng.Float32()
			}
		case isNormScale(p.Name):
			for i := range p.Tensor.Data {
				p.Tensor.Data[i] = 1 + 0.1*float32(rng.NormFloat64())
			}
		default:
			for i := range p.Tensor.Data {
				p.Tensor.Data[i] = 0.05 * float32(rng.NormFloat64())
			}
		}
	}
}

func isNormScale(name string) bool {
	if !strings.HasSuffix(name, ".weight") {
		return false
	}
	for _, n := range []string{"norm1.", "norm2.", "norm.", ".bn."} {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

// Forward maps a [B,C,H,W] batch to [B,classes] logits.
func (m *Model) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	c := m.cfg
	if batch.Dims() != 4 || batch.Shape[1] != c.Channels || batch.Shape[2] != c.ImageSize || batch.Shape[3] != c.ImageSize {
		return nil, fmt.Errorf("vit: expected [B,%d,%d,%d] input, got %v", c.Channels, c.ImageSize, c.ImageSize, batch.Shape)
	}
	n := batch.Shape[0]
	out := tensor.New(n, c.NumClasses)
	if n == 0 {
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(m.maxWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("vit: sample %d: %v", i, r)
				}
			}()
			copy(out.Row(i).Data, m.forwardOne(batch.Row(i).Data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Model) forwardOne(img []float32) []float32 {
	c := m.cfg
	d := c.EmbedDim
	n := c.NumTokens()

	x := make([]float32, n*d)
	copy(x[d:], m.patchEmbed(img))
	copy(x[:d], m.clsToken.Data)
	addInPlace(x, m.posEmbed.Data)

	for _, b := range m.blocks {
		x = b.forward(x, n)
	}

	cls := m.norm.forward(x[:d], 1)
	return m.head.forward(cls, 1)
}

// patchEmbed is the stride=patch convolution written as im2col + matmul.
// Column order c*P*P + ky*P + kx matches the flattened conv weight.
func (m *Model) patchEmbed(img []float32) []float32 {
	c := m.cfg
	p := c.PatchSize
	g := c.GridSize()
	k := c.Channels * p * p
	plane := c.ImageSize * c.ImageSize
	cols := make([]float32, g*g*k)
	for gy := 0; gy < g; gy++ {
		for gx := 0; gx < g; gx++ {
			row := cols[(gy*g+gx)*k:]
			for ch := 0; ch < c.Channels; ch++ {
				for ky := 0; ky < p; ky++ {
					src := img[ch*plane+(gy*p+ky)*c.ImageSize+gx*p:]
					copy(row[ch*p*p+ky*p:ch*p*p+(ky+1)*p], src[:p])
				}
			}
		}
	}
	y := make([]float32, g*g*c.EmbedDim)
	matmulT(cols, g*g, k, m.patchW.Data, c.EmbedDim, y)
	addBias(y, g*g, c.EmbedDim, m.patchB.Data)
	return y
}

package vit

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/cropdoc/api/internal/inference/tensor"
)

// Param is a named, shaped parameter slot filled by the checkpoint loader.
type Param struct {
	Name   string
	Tensor *tensor.Tensor
}

type linear struct {
	in, out int
	weight  *tensor.Tensor // [out,in]
	bias    *tensor.Tensor // [out] or nil
}

func newLinear(in, out int, bias bool) *linear {
	l := &linear{in: in, out: out, weight: tensor.New(out, in)}
	if bias {
		l.bias = tensor.New(out)
	}
	return l
}

func (l *linear) forward(x []float32, n int) []float32 {
	y := make([]float32, n*l.out)
	matmulT(x, n, l.in, l.weight.Data, l.out, y)
	if l.bias != nil {
		addBias(y, n, l.out, l.bias.Data)
	}
	return y
}

func (l *linear) params(prefix string) []Param {
	ps := []Param{{prefix + ".weight", l.weight}}
	if l.bias != nil {
		ps = append(ps, Param{prefix + ".bias", l.bias})
	}
	return ps
}

type layerNormLayer struct {
	dim          int
	eps          float64
	weight, bias *tensor.Tensor
}

func newLayerNorm(dim int, eps float64) *layerNormLayer {
	ln := &layerNormLayer{dim: dim, eps: eps, weight: tensor.New(dim), bias: tensor.New(dim)}
	for i := range ln.weight.Data {
		ln.weight.Data[i] = 1
	}
	return ln
}

func (ln *layerNormLayer) forward(x []float32, n int) []float32 {
	y := make([]float32, len(x))
	layerNorm(y, x, n, ln.dim, ln.weight.Data, ln.bias.Data, ln.eps)
	return y
}

func (ln *layerNormLayer) params(prefix string) []Param {
	return []Param{{prefix + ".weight", ln.weight}, {prefix + ".bias", ln.bias}}
}

type attention struct {
	dim, heads int
	qkv, proj  *linear
}

func newAttention(dim, heads int, qkvBias bool) *attention {
	return &attention{
		dim:   dim,
		heads: heads,
		qkv:   newLinear(dim, 3*dim, qkvBias),
		proj:  newLinear(dim, dim, true),
	}
}

// forward runs multi-head self-attention over x[n,dim]. Heads are addressed
// as strided views into the fused qkv projection, so nothing is transposed.
func (a *attention) forward(x []float32, n int) []float32 {
	d := a.dim
	hd := d / a.heads
	scale := float32(1 / math.Sqrt(float64(hd)))
	qkv := a.qkv.forward(x, n)
	out := make([]float32, n*d)
	scores := make([]float32, n*n)
	s := blas32.General{Rows: n, Cols: n, Stride: n, Data: scores}
	for h := 0; h < a.heads; h++ {
		q := blas32.General{Rows: n, Cols: hd, Stride: 3 * d, Data: qkv[h*hd:]}
		k := blas32.General{Rows: n, Cols: hd, Stride: 3 * d, Data: qkv[d+h*hd:]}
		v := blas32.General{Rows: n, Cols: hd, Stride: 3 * d, Data: qkv[2*d+h*hd:]}
		blas32.Gemm(blas.NoTrans, blas.Trans, scale, q, k, 0, s)
		softmaxRows(scores, n, n)
		o := blas32.General{Rows: n, Cols: hd, Stride: d, Data: out[h*hd:]}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, s, v, 0, o)
	}
	return a.proj.forward(out, n)
}

func (a *attention) params(prefix string) []Param {
	return append(a.qkv.params(prefix+".qkv"), a.proj.params(prefix+".proj")...)
}

type mlp struct {
	fc1, fc2 *linear
}

func newMLP(in, hidden, out int) *mlp {
	return &mlp{fc1: newLinear(in, hidden, true), fc2: newLinear(hidden, out, true)}
}

func (m *mlp) forward(x []float32, n int) []float32 {
	h := m.fc1.forward(x, n)
	gelu(h)
	return m.fc2.forward(h, n)
}

// depthwiseConv is a per-channel 2-D convolution with zero padding followed
// by batch normalization in inference mode.
type depthwiseConv struct {
	dim, kernel int
	eps         float64
	weight      *tensor.Tensor // [dim,1,k,k]
	bias        *tensor.Tensor // [dim]
	bnWeight    *tensor.Tensor
	bnBias      *tensor.Tensor
	runMean     *tensor.Tensor
	runVar      *tensor.Tensor
}

func newDepthwiseConv(dim, kernel int, eps float64) *depthwiseConv {
	c := &depthwiseConv{
		dim:      dim,
		kernel:   kernel,
		eps:      eps,
		weight:   tensor.New(dim, 1, kernel, kernel),
		bias:     tensor.New(dim),
		bnWeight: tensor.New(dim),
		bnBias:   tensor.New(dim),
		runMean:  tensor.New(dim),
		runVar:   tensor.New(dim),
	}
	for i := 0; i < dim; i++ {
		c.bnWeight.Data[i] = 1
		c.runVar.Data[i] = 1
	}
	return c
}

// forward treats tokens[1:] of x[n,dim] as a row-major grid×grid image and
// returns a new [n,dim] sequence whose first row is x's class token.
func (c *depthwiseConv) forward(x []float32, n, grid int) []float32 {
	d := c.dim
	k := c.kernel
	pad := k / 2
	out := make([]float32, n*d)
	copy(out[:d], x[:d])
	patches := x[d:]
	res := out[d:]
	for ch := 0; ch < d; ch++ {
		w := c.weight.Data[ch*k*k : (ch+1)*k*k]
		scale := float64(c.bnWeight.Data[ch]) / math.Sqrt(float64(c.runVar.Data[ch])+c.eps)
		shift := float64(c.bnBias.Data[ch]) - float64(c.runMean.Data[ch])*scale
		b := float64(c.bias.Data[ch])
		for y := 0; y < grid; y++ {
			for xx := 0; xx < grid; xx++ {
				acc := b
				for ky := 0; ky < k; ky++ {
					iy := y + ky - pad
					if iy < 0 || iy >= grid {
						continue
					}
					for kx := 0; kx < k; kx++ {
						ix := xx + kx - pad
						if ix < 0 || ix >= grid {
							continue
						}
						acc += float64(w[ky*k+kx]) * float64(patches[(iy*grid+ix)*d+ch])
					}
				}
				res[(y*grid+xx)*d+ch] = float32(acc*scale + shift)
			}
		}
	}
	return out
}

func (c *depthwiseConv) params(prefix string) []Param {
	return []Param{
		{prefix + ".dwconv.weight", c.weight},
		{prefix + ".dwconv.bias", c.bias},
		{prefix + ".bn.weight", c.bnWeight},
		{prefix + ".bn.bias", c.bnBias},
		{prefix + ".bn.running_mean", c.runMean},
		{prefix + ".bn.running_var", c.runVar},
	}
}

type block interface {
	forward(x []float32, n int) []float32
	params(prefix string) []Param
}

// encoderBlock is the standard pre-norm transformer block.
type encoderBlock struct {
	dim          int
	norm1, norm2 *layerNormLayer
	attn         *attention
	mlp          *mlp
}

func newEncoderBlock(cfg Config) *encoderBlock {
	return &encoderBlock{
		dim:   cfg.EmbedDim,
		norm1: newLayerNorm(cfg.EmbedDim, cfg.LayerNormEps),
		norm2: newLayerNorm(cfg.EmbedDim, cfg.LayerNormEps),
		attn:  newAttention(cfg.EmbedDim, cfg.NumHeads, cfg.QKVBias),
		mlp:   newMLP(cfg.EmbedDim, cfg.mlpHidden(), cfg.EmbedDim),
	}
}

func (b *encoderBlock) forward(x []float32, n int) []float32 {
	addInPlace(x, b.attn.forward(b.norm1.forward(x, n), n))
	addInPlace(x, b.mlp.forward(b.norm2.forward(x, n), n))
	return x
}

func (b *encoderBlock) params(prefix string) []Param {
	var ps []Param
	ps = append(ps, b.norm1.params(prefix+".norm1")...)
	ps = append(ps, b.attn.params(prefix+".attn")...)
	ps = append(ps, b.norm2.params(prefix+".norm2")...)
	ps = append(ps, b.mlp.fc1.params(prefix+".mlp.fc1")...)
	ps = append(ps, b.mlp.fc2.params(prefix+".mlp.fc2")...)
	return ps
}

// fusedBlock runs attention and a depthwise convolution side by side, mixes
// their concatenation back to the embedding width and adds it as a residual.
// The feed-forward half is the same as encoderBlock.
type fusedBlock struct {
	dim, grid int
	attnNorm  *layerNormLayer
	convNorm  *layerNormLayer
	norm2     *layerNormLayer
	attn      *attention
	conv      *depthwiseConv
	fuse      *mlp
	mlp       *mlp
}

func newFusedBlock(cfg Config) *fusedBlock {
	d := cfg.EmbedDim
	eps := cfg.fusedEps()
	return &fusedBlock{
		dim:      d,
		grid:     cfg.GridSize(),
		attnNorm: newLayerNorm(d, eps),
		convNorm: newLayerNorm(d, eps),
		norm2:    newLayerNorm(d, eps),
		attn:     newAttention(d, cfg.NumHeads, cfg.QKVBias),
		conv:     newDepthwiseConv(d, cfg.ConvKernel, cfg.BatchNormEps),
		fuse:     newMLP(2*d, cfg.FuseRatio*d, d),
		mlp:      newMLP(d, cfg.mlpHidden(), d),
	}
}

func (b *fusedBlock) forward(x []float32, n int) []float32 {
	d := b.dim
	a := b.attn.forward(b.attnNorm.forward(x, n), n)
	c := b.conv.forward(b.convNorm.forward(x, n), n, b.grid)
	cat := make([]float32, n*2*d)
	for i := 0; i < n; i++ {
		copy(cat[i*2*d:], a[i*d:(i+1)*d])
		copy(cat[i*2*d+d:], c[i*d:(i+1)*d])
	}
	addInPlace(x, b.fuse.forward(cat, n))
	addInPlace(x, b.mlp.forward(b.norm2.forward(x, n), n))
	return x
}

func (b *fusedBlock) params(prefix string) []Param {
	var ps []Param
	ps = append(ps, b.attnNorm.params(prefix+".attn_norm")...)
	ps = append(ps, b.attn.params(prefix+".attn")...)
	ps = append(ps, b.convNorm.params(prefix+".conv_norm")...)
	ps = append(ps, b.conv.params(prefix+".depthwise_conv")...)
	ps = append(ps, b.fuse.fc1.params(prefix+".fuse_mlp.0")...)
	ps = append(ps, b.fuse.fc2.params(prefix+".fuse_mlp.2")...)
	ps = append(ps, b.norm2.params(prefix+".norm2")...)
	ps = append(ps, b.mlp.fc1.params(prefix+".mlp.fc1")...)
	ps = append(ps, b.mlp.fc2.params(prefix+".mlp.fc2")...)
	return ps
}

// Package explain attributes a classifier decision to image regions by
// masking superpixels, re-scoring the perturbed images and fitting a
// locally weighted linear surrogate.
package explain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/inference/preprocess"
	"github.com/cropdoc/api/internal/inference/segment"
	"github.com/cropdoc/api/internal/inference/surrogate"
	"github.com/cropdoc/api/internal/inference/tensor"
)

// Scorer returns class probabilities for a [B,3,H,W] batch.
type Scorer interface {
	Probabilities(batch *tensor.Tensor) ([][]float64, error)
}

// Config controls sampling, the surrogate fit and rendering.
type Config struct {
	NumSamples     int        `yaml:"num_samples"`
	NumFeatures    int        `yaml:"num_features"`
	HideColor      color.RGBA `yaml:"-"`
	KernelWidth    float64    `yaml:"kernel_width"`
	Alpha          float64    `yaml:"alpha"`
	BatchSize      int        `yaml:"batch_size"`
	Seed           int64      `yaml:"seed"`
	HighlightColor color.RGBA `yaml:"-"`
	HighlightAlpha float64    `yaml:"highlight_alpha"`
}

// DefaultConfig samples 50 perturbations, which keeps a CPU request in the
// low seconds while still giving the surrogate more than one row to fit.
func DefaultConfig() Config {
	return Config{
		NumSamples:     50,
		NumFeatures:    7,
		HideColor:      color.RGBA{A: 0xff},
		KernelWidth:    0.25,
		Alpha:          1,
		BatchSize:      16,
		HighlightColor: color.RGBA{B: 0xff, A: 0xff},
		HighlightAlpha: 0.45,
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.NumSamples < 0 {
		errs = append(errs, fmt.Errorf("num samples must not be negative"))
	}
	if c.NumFeatures < 1 {
		errs = append(errs, fmt.Errorf("num features must be at least 1"))
	}
	if c.KernelWidth <= 0 {
		errs = append(errs, fmt.Errorf("kernel width must be positive"))
	}
	if c.Alpha < 0 {
		errs = append(errs, fmt.Errorf("alpha must not be negative"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1"))
	}
	if c.HighlightAlpha < 0 || c.HighlightAlpha > 1 {
		errs = append(errs, fmt.Errorf("highlight alpha must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// Feature is one superpixel and its surrogate coefficient.
type Feature struct {
	Segment int
	Weight  float64
}

// Explanation is the outcome of one Explain call.
type Explanation struct {
	Label        int
	Segmentation *segment.Segmentation
	// Features are the selected positive segments, strongest first.
	Features []Feature
	// Mask marks, row-major, the pixels of the selected segments.
	Mask      []bool
	Intercept float64
	Score     float64
	// Degenerate is set when the surrogate could not be fitted; Mask is then
	// empty and Overlay equals the input.
	Degenerate bool
	Overlay    *image.RGBA
}

// Engine produces explanations. It holds no per-call state.
type Engine struct {
	segmenter segment.Segmenter
	scorer    Scorer
	cfg       Config
	logger    *zap.Logger
}

// NewEngine validates cfg and wires the collaborators.
func NewEngine(seg segment.Segmenter, scorer Scorer, cfg Config, logger *zap.Logger) (*Engine, error) {
	if seg == nil || scorer == nil {
		return nil, fmt.Errorf("explain: segmenter and scorer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid explain config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{segmenter: seg, scorer: scorer, cfg: cfg, logger: logger}, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Explain attributes class label on img, which must already be at model
// resolution.
func (e *Engine) Explain(ctx context.Context, img *image.RGBA, label int) (*Explanation, error) {
	seg, err := e.segmenter.Segment(img)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	ex := &Explanation{Label: label, Segmentation: seg}

	rows := e.sampleRows(seg.Count)
	target := make([]float64, len(rows))
	for start := 0; start < len(rows); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(rows))
		batch := make([]*tensor.Tensor, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, preprocess.Preprocess(e.perturb(img, seg, row)))
		}
		stacked, err := preprocess.Batch(batch...)
		if err != nil {
			return nil, err
		}
		probs, err := e.scorer.Probabilities(stacked)
		if err != nil {
			return nil, fmt.Errorf("score perturbations: %w", err)
		}
		for i, p := range probs {
			if label < 0 || label >= len(p) {
				return nil, fmt.Errorf("explain: label %d outside %d classes", label, len(p))
			}
			target[start+i] = p[label]
		}
	}

	fit, err := e.fit(rows, target)
	if err != nil {
		e.logger.Debug("Surrogate fit degenerate", zap.Int("samples", len(rows)), zap.Error(err))
		ex.Degenerate = true
		ex.Mask = make([]bool, len(seg.Labels))
		ex.Overlay = cloneRGBA(img)
		return ex, nil
	}
	ex.Intercept = fit.Intercept
	ex.Score = fit.Score
	ex.Features = topPositive(fit.Coef, e.cfg.NumFeatures)

	selected := make([]bool, seg.Count)
	for _, f := range ex.Features {
		selected[f.Segment] = true
	}
	ex.Mask = make([]bool, len(seg.Labels))
	for i, l := range seg.Labels {
		ex.Mask[i] = selected[l]
	}
	ex.Overlay = Render(img, ex.Mask, e.cfg.HighlightColor, e.cfg.HighlightAlpha)
	return ex, nil
}

func (e *Engine) fit(rows [][]float64, target []float64) (*surrogate.Fit, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: %d samples", surrogate.ErrDegenerate, len(rows))
	}
	weights := surrogate.KernelWeights(rows, e.cfg.KernelWidth)
	return surrogate.FitWeightedRidge(rows, target, weights, e.cfg.Alpha)
}

// sampleRows draws NumSamples on/off vectors over the segments; the first
// row keeps every segment on.
func (e *Engine) sampleRows(features int) [][]float64 {
	rng := rand.New(rand.NewSource(e.cfg.Seed))
	rows := make([][]float64, e.cfg.NumSamples)
	for i := range rows {
		row := make([]float64, features)
		for j := range row {
			if i == 0 {
				row[j] = 1
			} else {
				row[j] = float64(rng.Intn(2))
			}
		}
		rows[i] = row
	}
	return rows
}

// perturb copies img and paints every switched-off segment with HideColor.
func (e *Engine) perturb(img *image.RGBA, seg *segment.Segmentation, row []float64) *image.RGBA {
	out := cloneRGBA(img)
	hc := e.cfg.HideColor
	for y := 0; y < seg.Height; y++ {
		for x := 0; x < seg.Width; x++ {
			if row[seg.At(x, y)] != 0 {
				continue
			}
			p := out.Pix[y*out.Stride+x*4:]
			p[0], p[1], p[2], p[3] = hc.R, hc.G, hc.B, 0xff
		}
	}
	return out
}

// topPositive keeps at most m strictly positive coefficients, largest first.
func topPositive(coef []float64, m int) []Feature {
	var fs []Feature
	for i, c := range coef {
		if c > 0 {
			fs = append(fs, Feature{Segment: i, Weight: c})
		}
	}
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Weight > fs[j].Weight })
	if len(fs) > m {
		fs = fs[:m]
	}
	return fs
}

// Render blends highlight into the masked pixels with weight alpha and
// draws a white outline on unmasked pixels that touch the mask.
func Render(img *image.RGBA, mask []bool, highlight color.RGBA, alpha float64) *image.RGBA {
	out := cloneRGBA(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := out.Pix[y*out.Stride+x*4:]
			switch {
			case mask[y*w+x]:
				p[0] = blend(p[0], highlight.R, alpha)
				p[1] = blend(p[1], highlight.G, alpha)
				p[2] = blend(p[2], highlight.B, alpha)
			case touches(mask, w, h, x, y):
				p[0], p[1], p[2] = 0xff, 0xff, 0xff
			}
		}
	}
	return out
}

func blend(px, hl uint8, alpha float64) uint8 {
	return uint8(math.Round((1-alpha)*float64(px) + alpha*float64(hl)))
}

func touches(mask []bool, w, h, x, y int) bool {
	return (x > 0 && mask[y*w+x-1]) ||
		(x < w-1 && mask[y*w+x+1]) ||
		(y > 0 && mask[(y-1)*w+x]) ||
		(y < h-1 && mask[(y+1)*w+x])
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
	for y := 0; y < out.Rect.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+out.Rect.Dx()*4]
		copy(out.Pix[y*out.Stride:], src)
	}
	return out
}

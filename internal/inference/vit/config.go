package vit

import (
	"errors"
	"fmt"
)

// Config holds the architecture hyperparameters of the hybrid classifier.
type Config struct {
	ImageSize     int     `yaml:"image_size" json:"image_size"`
	PatchSize     int     `yaml:"patch_size" json:"patch_size"`
	Channels      int     `yaml:"channels" json:"channels"`
	EmbedDim      int     `yaml:"embed_dim" json:"embed_dim"`
	NumHeads      int     `yaml:"num_heads" json:"num_heads"`
	Depth         int     `yaml:"depth" json:"depth"`
	MLPRatio      float64 `yaml:"mlp_ratio" json:"mlp_ratio"`
	FuseRatio     int     `yaml:"fuse_ratio" json:"fuse_ratio"`
	QKVBias       bool    `yaml:"qkv_bias" json:"qkv_bias"`
	ReplaceBlocks int     `yaml:"replace_blocks" json:"replace_blocks"`
	ConvKernel    int     `yaml:"conv_kernel" json:"conv_kernel"`
	NumClasses    int     `yaml:"num_classes" json:"num_classes"`
	LayerNormEps  float64 `yaml:"layer_norm_eps" json:"layer_norm_eps"`
	BatchNormEps  float64 `yaml:"batch_norm_eps" json:"batch_norm_eps"`
	// FusedNormEps applies to every LayerNorm inside a fused block. Those
	// were built with the framework default rather than the backbone's eps.
	FusedNormEps  float64 `yaml:"fused_norm_eps" json:"fused_norm_eps"`
}

// DeiTTiny returns the DeiT-tiny/16 geometry with the first three blocks fused.
func DeiTTiny(numClasses int) Config {
	return Config{
		ImageSize:     224,
		PatchSize:     16,
		Channels:      3,
		EmbedDim:      192,
		NumHeads:      3,
		Depth:         12,
		MLPRatio:      4,
		FuseRatio:     4,
		QKVBias:       true,
		ReplaceBlocks: 3,
		ConvKernel:    3,
		NumClasses:    numClasses,
		LayerNormEps:  1e-6,
		BatchNormEps:  1e-5,
		FusedNormEps:  1e-5,
	}
}

// Validate reports inconsistent hyperparameters.
func (c Config) Validate() error {
	var errs []error
	if c.ImageSize <= 0 || c.PatchSize <= 0 || c.ImageSize%c.PatchSize != 0 {
		errs = append(errs, fmt.Errorf("image size %d is not a multiple of patch size %d", c.ImageSize, c.PatchSize))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive"))
	}
	if c.EmbedDim <= 0 || c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		errs = append(errs, fmt.Errorf("embed dim %d is not divisible by %d heads", c.EmbedDim, c.NumHeads))
	}
	if c.Depth <= 0 {
		errs = append(errs, fmt.Errorf("depth must be positive"))
	}
	if c.ReplaceBlocks < 0 || c.ReplaceBlocks > c.Depth {
		errs = append(errs, fmt.Errorf("replace blocks %d out of range [0,%d]", c.ReplaceBlocks, c.Depth))
	}
	if c.ReplaceBlocks > 0 && (c.ConvKernel <= 0 || c.ConvKernel%2 == 0) {
		errs = append(errs, fmt.Errorf("conv kernel must be a positive odd number, got %d", c.ConvKernel))
	}
	if c.MLPRatio <= 0 || c.FuseRatio <= 0 {
		errs = append(errs, fmt.Errorf("mlp and fuse ratios must be positive"))
	}
	if c.NumClasses < 1 {
		errs = append(errs, fmt.Errorf("num classes must be at least 1"))
	}
	return errors.Join(errs...)
}

// GridSize is the number of patches along one side.
func (c Config) GridSize() int { return c.ImageSize / c.PatchSize }

// NumTokens is the sequence length including the class token.
func (c Config) NumTokens() int { return c.GridSize()*c.GridSize() + 1 }

func (c Config) mlpHidden() int { return int(float64(c.EmbedDim) * c.MLPRatio) }

func (c Config) fusedEps() float64 {
	if c.FusedNormEps > 0 {
		return c.FusedNormEps
	}
	return c.LayerNormEps
}

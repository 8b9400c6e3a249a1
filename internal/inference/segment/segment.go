// Package segment partitions an image into superpixels.
package segment

import (
	"fmt"
	"image"
)

// Segmentation assigns every pixel, in row-major order, a label in [0,Count).
type Segmentation struct {
	Width  int
	Height int
	Labels []int
	Count  int
}

// At returns the label of pixel (x,y).
func (s *Segmentation) At(x, y int) int { return s.Labels[y*s.Width+x] }

// Sizes returns the pixel count of every segment.
func (s *Segmentation) Sizes() []int {
	sizes := make([]int, s.Count)
	for _, l := range s.Labels {
		sizes[l]++
	}
	return sizes
}

// Segmenter splits an image into superpixels.
type Segmenter interface {
	Segment(img *image.RGBA) (*Segmentation, error)
}

// Names accepted by New.
const (
	NameSLIC = "slic"
	NameGrid = "grid"
)

// Options tunes the segmenters. Zero values select the defaults.
type Options struct {
	NumSegments int     `yaml:"num_segments"`
	Compactness float64 `yaml:"compactness"`
	Iterations  int     `yaml:"iterations"`
	TileSize    int     `yaml:"tile_size"`
}

// DefaultOptions are tuned for 224x224 leaf photos.
func DefaultOptions() Options {
	return Options{NumSegments: 50, Compactness: 10, Iterations: 10, TileSize: 32}
}

// New returns the segmenter registered under name.
func New(name string, opts Options) (Segmenter, error) {
	def := DefaultOptions()
	if opts.NumSegments <= 0 {
		opts.NumSegments = def.NumSegments
	}
	if opts.Compactness <= 0 {
		opts.Compactness = def.Compactness
	}
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.TileSize <= 0 {
		opts.TileSize = def.TileSize
	}
	switch name {
	case NameSLIC, "":
		return &SLIC{NumSegments: opts.NumSegments, Compactness: opts.Compactness, Iterations: opts.Iterations}, nil
	case NameGrid:
		return &Grid{TileSize: opts.TileSize}, nil
	}
	return nil, fmt.Errorf("unknown segmenter %q", name)
}

// relabel compacts arbitrary non-negative labels to [0,n) in first-seen order.
func relabel(labels []int) int {
	ids := make(map[int]int)
	for i, l := range labels {
		id, ok := ids[l]
		if !ok {
			id = len(ids)
			ids[l] = id
		}
		labels[i] = id
	}
	return len(ids)
}

func checkImage(img *image.RGBA) error {
	if img == nil {
		return fmt.Errorf("segment: nil image")
	}
	if img.Rect.Dx() == 0 || img.Rect.Dy() == 0 {
		return fmt.Errorf("segment: empty image")
	}
	return nil
}

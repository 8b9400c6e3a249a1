package segment

import "image"

// Grid cuts the image into square tiles of TileSize pixels. Edge tiles may
// be smaller.
type Grid struct {
	TileSize int
}

func (g *Grid) Segment(img *image.RGBA) (*Segmentation, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tile := g.TileSize
	if tile <= 0 {
		tile = DefaultOptions().TileSize
	}
	cols := (w + tile - 1) / tile
	labels := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			labels[y*w+x] = (y/tile)*cols + x/tile
		}
	}
	rows := (h + tile - 1) / tile
	return &Segmentation{Width: w, Height: h, Labels: labels, Count: rows * cols}, nil
}

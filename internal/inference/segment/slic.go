package segment

import (
	"image"
	"math"
)

// SLIC clusters pixels with k-means in (L*, a*, b*, x, y) space, searching
// only a 2S x 2S window around each center, then merges fragments so every
// superpixel is 4-connected.
type SLIC struct {
	NumSegments int
	Compactness float64
	Iterations  int
}

type center struct {
	l, a, b, x, y float64
}

func (s *SLIC) Segment(img *image.RGBA) (*Segmentation, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	lab := toLab(img)
	k := s.NumSegments
	if k <= 0 {
		k = DefaultOptions().NumSegments
	}
	if k > w*h {
		k = w * h
	}
	step := math.Sqrt(float64(w*h) / float64(k))
	if step < 1 {
		step = 1
	}
	centers := seedCenters(lab, w, h, step)

	labels := make([]int, w*h)
	dist := make([]float64, w*h)
	m := s.Compactness
	if m <= 0 {
		m = DefaultOptions().Compactness
	}
	iters := s.Iterations
	if iters <= 0 {
		iters = DefaultOptions().Iterations
	}
	spatial := (m / step) * (m / step)
	win := int(math.Ceil(step))

	for it := 0; it < iters; it++ {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		for ci, c := range centers {
			cx, cy := int(c.x), int(c.y)
			for y := max(cy-win, 0); y < min(cy+win+1, h); y++ {
				for x := max(cx-win, 0); x < min(cx+win+1, w); x++ {
					p := (y*w + x) * 3
					dl, da, db := lab[p]-c.l, lab[p+1]-c.a, lab[p+2]-c.b
					dx, dy := float64(x)-c.x, float64(y)-c.y
					d := dl*dl + da*da + db*db + (dx*dx+dy*dy)*spatial
					if d < dist[y*w+x] {
						dist[y*w+x] = d
						labels[y*w+x] = ci
					}
				}
			}
		}

		sums := make([]center, len(centers))
		counts := make([]int, len(centers))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				ci := labels[i]
				sums[ci].l += lab[i*3]
				sums[ci].a += lab[i*3+1]
				sums[ci].b += lab[i*3+2]
				sums[ci].x += float64(x)
				sums[ci].y += float64(y)
				counts[ci]++
			}
		}
		for ci := range centers {
			if n := float64(counts[ci]); n > 0 {
				centers[ci] = center{sums[ci].l / n, sums[ci].a / n, sums[ci].b / n, sums[ci].x / n, sums[ci].y / n}
			}
		}
	}

	minSize := int(step * step / 4)
	count := enforceConnectivity(labels, w, h, minSize)
	return &Segmentation{Width: w, Height: h, Labels: labels, Count: count}, nil
}

// seedCenters places centers on a regular grid and nudges each to the
// lowest-gradient pixel of its 3x3 neighbourhood so seeds avoid edges.
func seedCenters(lab []float64, w, h int, step float64) []center {
	nx := max(1, int(math.Round(float64(w)/step)))
	ny := max(1, int(math.Round(float64(h)/step)))
	centers := make([]center, 0, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x := int((float64(i) + 0.5) * float64(w) / float64(nx))
			y := int((float64(j) + 0.5) * float64(h) / float64(ny))
			bx, by := x, y
			best := math.Inf(1)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := x+dx, y+dy
					if px < 1 || py < 1 || px >= w-1 || py >= h-1 {
						continue
					}
					if g := gradient(lab, w, px, py); g < best {
						best, bx, by = g, px, py
					}
				}
			}
			p := (by*w + bx) * 3
			centers = append(centers, center{lab[p], lab[p+1], lab[p+2], float64(bx), float64(by)})
		}
	}
	return centers
}

func gradient(lab []float64, w, x, y int) float64 {
	var g float64
	for c := 0; c < 3; c++ {
		dx := lab[(y*w+x+1)*3+c] - lab[(y*w+x-1)*3+c]
		dy := lab[((y+1)*w+x)*3+c] - lab[((y-1)*w+x)*3+c]
		g += dx*dx + dy*dy
	}
	return g
}

// enforceConnectivity splits every label into 4-connected components and
// folds components smaller than minSize into the previously visited
// neighbour. Labels are rewritten densely and the count returned.
func enforceConnectivity(labels []int, w, h, minSize int) int {
	out := make([]int, len(labels))
	for i := range out {
		out[i] = -1
	}
	next := 0
	queue := make([]int, 0, 64)
	dx := [4]int{-1, 1, 0, 0}
	dy := [4]int{0, 0, -1, 1}

	for start := range labels {
		if out[start] >= 0 {
			continue
		}
		sx, sy := start%w, start/w
		adjacent := -1
		for n := 0; n < 4; n++ {
			nx, ny := sx+dx[n], sy+dy[n]
			if nx >= 0 && ny >= 0 && nx < w && ny < h && out[ny*w+nx] >= 0 {
				adjacent = out[ny*w+nx]
			}
		}

		queue = append(queue[:0], start)
		out[start] = next
		for qi := 0; qi < len(queue); qi++ {
			p := queue[qi]
			px, py := p%w, p/w
			for n := 0; n < 4; n++ {
				nx, ny := px+dx[n], py+dy[n]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				q := ny*w + nx
				if out[q] < 0 && labels[q] == labels[start] {
					out[q] = next
					queue = append(queue, q)
				}
			}
		}

		if len(queue) < minSize && adjacent >= 0 {
			for _, p := range queue {
				out[p] = adjacent
			}
			continue
		}
		next++
	}
	copy(labels, out)
	return relabel(labels)
}

// toLab converts sRGB pixels to CIELAB under D65, three floats per pixel.
func toLab(img *image.RGBA) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			l, a, b := rgbToLab(p[0], p[1], p[2])
			i := (y*w + x) * 3
			out[i], out[i+1], out[i+2] = l, a, b
		}
	}
	return out
}

func rgbToLab(r, g, b uint8) (float64, float64, float64) {
	rl, gl, bl := linearize(r), linearize(g), linearize(b)
	x := (0.4124564*rl + 0.3575761*gl + 0.1804375*bl) / 0.95047
	y := 0.2126729*rl + 0.7151522*gl + 0.0721750*bl
	z := (0.0193339*rl + 0.1191920*gl + 0.9503041*bl) / 1.08883
	fx, fy, fz := labF(x), labF(y), labF(z)
	return 116*fy - 16, 500 * (fx - fy), 200 * (fy - fz)
}

func linearize(c uint8) float64 {
	v := float64(c) / 255
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func labF(t float64) float64 {
	const delta = 6.0 / 29
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29
}

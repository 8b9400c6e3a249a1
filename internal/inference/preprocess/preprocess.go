package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/cropdoc/api/internal/inference/tensor"
)

// Target geometry and normalization of the model input.
const (
	Size     = 224
	Channels = 3
	Mean     = 0.5
	Std      = 0.5
)

// ImageDecodeError is returned when the input bytes are not a decodable image.
type ImageDecodeError struct {
	Source string
	Err    error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %q: %v", e.Source, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// Load reads and decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ImageDecodeError{Source: path, Err: err}
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode decodes jpeg, png, gif, webp or bmp data read from r.
func Decode(r io.Reader, source string) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ImageDecodeError{Source: source, Err: err}
	}
	if len(data) == 0 {
		return nil, &ImageDecodeError{Source: source, Err: fmt.Errorf("empty input")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageDecodeError{Source: source, Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &ImageDecodeError{Source: source, Err: fmt.Errorf("image has no pixels")}
	}
	return img, nil
}

// Resize converts img to opaque RGB and resamples it to Size x Size with a
// bilinear filter. The aspect ratio is not preserved. An input that is
// already Size x Size is copied without resampling.
func Resize(img image.Image) *image.RGBA {
	rgba := toRGBA(img)
	if rgba.Rect.Dx() == Size && rgba.Rect.Dy() == Size {
		return rgba
	}
	return toRGBA(resize.Resize(Size, Size, rgba, resize.Bilinear))
}

// Normalize maps an RGBA image to a [3,H,W] tensor with (v/255-Mean)/Std.
func Normalize(img *image.RGBA) *tensor.Tensor {
	b := img.Rect
	w, h := b.Dx(), b.Dy()
	t := tensor.New(Channels, h, w)
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			i := y*w + x
			for c := 0; c < Channels; c++ {
				t.Data[c*plane+i] = (float32(p[c])/255 - Mean) / Std
			}
		}
	}
	return t
}

// Preprocess is Normalize(Resize(img)).
func Preprocess(img image.Image) *tensor.Tensor {
	return Normalize(Resize(img))
}

// Batch stacks per-image tensors into [B,3,H,W].
func Batch(ts ...*tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Stack(ts...)
}

// toRGBA returns a fresh opaque RGBA copy anchored at the origin. Alpha is
// dropped from the straight (non-premultiplied) colour, so partially
// transparent pixels keep their stored RGB.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	straight := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(straight, straight.Rect, img, b.Min, draw.Src)
	for i := 3; i < len(straight.Pix); i += 4 {
		straight.Pix[i] = 0xff
	}
	// an opaque NRGBA buffer is a valid RGBA buffer
	return &image.RGBA{Pix: straight.Pix, Stride: straight.Stride, Rect: straight.Rect}
}

package artifact

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func decode(t *testing.T, path string) (image.Image, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	return img, format
}

func TestWriteNamesAndFormats(t *testing.T) {
	root := filepath.Join(t.TempDir(), "explanations", "nested")
	w := NewWriter(root)

	path, err := w.Write(solid(color.RGBA{B: 255, A: 255}), "/uploads/123_leaf.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lime_123_leaf.jpg"), path)
	_, format := decode(t, path)
	assert.Equal(t, "jpeg", format)

	path, err = w.Write(solid(color.RGBA{R: 255, A: 255}), "leaf.png")
	require.NoError(t, err)
	img, format := decode(t, path)
	assert.Equal(t, "png", format)
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestWriteEncodingMatchesExtension(t *testing.T) {
	w := NewWriter(t.TempDir())
	cases := map[string]string{
		"1_leaf.gif":  "gif",
		"2_leaf.bmp":  "bmp",
		"3_leaf.TIFF": "tiff",
		"4_leaf.jpeg": "jpeg",
		"5_leaf.webp": "png",
	}
	for source, want := range cases {
		path, err := w.Write(solid(color.RGBA{G: 200, A: 255}), source)
		require.NoError(t, err, source)
		assert.Equal(t, "lime_"+source, filepath.Base(path))
		_, format := decode(t, path)
		assert.Equal(t, want, format, source)
	}
}

func TestWriteOverwritesAndLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	_, err := w.Write(solid(color.RGBA{R: 255, A: 255}), "a.png")
	require.NoError(t, err)
	path, err := w.Write(solid(color.RGBA{G: 255, A: 255}), "a.png")
	require.NoError(t, err)

	img, _ := decode(t, path)
	_, g, _, _ := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), g)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFailureIsTyped(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	w := NewWriter(filepath.Join(blocker, "sub"))
	_, err := w.Write(solid(color.RGBA{A: 255}), "leaf.png")

	var pe *ArtifactPersistError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join(blocker, "sub", "lime_leaf.png"), pe.Path)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "lime_x.webp"), OutputPath("out", "", "/a/b/x.webp"))
	assert.Equal(t, filepath.Join("out", "exp_x.png"), OutputPath("out", "exp", "x.png"))
}

// Package artifact persists explanation overlays next to their sources.
package artifact

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// DefaultPrefix is prepended to the source file name.
const DefaultPrefix = "lime"

// ArtifactPersistError reports a failed write of an overlay.
type ArtifactPersistError struct {
	Path string
	Err  error
}

func (e *ArtifactPersistError) Error() string {
	return fmt.Sprintf("persist artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactPersistError) Unwrap() error { return e.Err }

// Writer stores images as <Root>/<Prefix>_<source base name>.
type Writer struct {
	Root        string
	Prefix      string
	JPEGQuality int
}

// NewWriter returns a Writer with the default prefix and quality.
func NewWriter(root string) *Writer {
	return &Writer{Root: root, Prefix: DefaultPrefix, JPEGQuality: 95}
}

// OutputPath is where an artifact for source would be written under dir.
func OutputPath(dir, prefix, source string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return filepath.Join(dir, prefix+"_"+filepath.Base(source))
}

// Path is OutputPath under the writer's root.
func (w *Writer) Path(source string) string {
	return OutputPath(w.Root, w.Prefix, source)
}

// Write encodes img by the source's extension and atomically replaces any
// previous artifact for the same source. It returns the written path.
func (w *Writer) Write(img image.Image, source string) (string, error) {
	path := w.Path(source)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &ArtifactPersistError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return "", &ArtifactPersistError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if err := w.encode(tmp, img, path); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &ArtifactPersistError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &ArtifactPersistError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &ArtifactPersistError{Path: path, Err: err}
	}
	return path, nil
}

// encode picks the codec named by the artifact's extension. WebP has no Go
// encoder, so .webp artifacts (and unknown extensions) hold PNG bytes under
// the source's name; clients must sniff rather than trust the extension.
func (w *Writer) encode(out io.Writer, img image.Image, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		q := w.JPEGQuality
		if q <= 0 {
			q = 95
		}
		return jpeg.Encode(out, img, &jpeg.Options{Quality: q})
	case ".gif":
		return gif.Encode(out, img, nil)
	case ".bmp":
		return bmp.Encode(out, img)
	case ".tif", ".tiff":
		return tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(out, img)
	}
}

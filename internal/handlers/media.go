package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var sampleImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// SampleImage is one entry of GET /sample-images.
type SampleImage struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MediaHandler lists the bundled sample photos.
type MediaHandler struct {
	sampleDir string
	urlPrefix string
	logger    *zap.Logger
}

// NewMediaHandler serves files from sampleDir, which is published under
// urlPrefix (for example "/media/sample_images/").
func NewMediaHandler(sampleDir, urlPrefix string, logger *zap.Logger) *MediaHandler {
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &MediaHandler{sampleDir: sampleDir, urlPrefix: urlPrefix, logger: logger}
}

// SampleImages returns absolute URLs for every image in the sample folder.
// A missing folder yields an empty list.
func (h *MediaHandler) SampleImages(c *gin.Context) {
	entries, err := os.ReadDir(h.sampleDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.logger.Warn("failed to read sample images", zap.String("dir", h.sampleDir), zap.Error(err))
	}

	base := requestBaseURL(c) + h.urlPrefix
	images := []SampleImage{}
	for _, e := range entries {
		if e.IsDir() || !sampleImageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		images = append(images, SampleImage{Name: e.Name(), URL: base + url.PathEscape(e.Name())})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })

	c.JSON(http.StatusOK, gin.H{"images": images})
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host
}

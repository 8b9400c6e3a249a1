package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is any dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelInfo describes the loaded classifier.
type ModelInfo interface {
	Device() string
	Labels() []string
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	version string
	deps    map[string]Pinger
	model   ModelInfo
}

// NewHealthHandler creates a new health handler. Nil dependencies are
// reported as not configured.
func NewHealthHandler(version string, deps map[string]Pinger, model ModelInfo) *HealthHandler {
	return &HealthHandler{version: version, deps: deps, model: model}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Model        *ModelStatus      `json:"model,omitempty"`
}

// ModelStatus is the model section of the deep health report.
type ModelStatus struct {
	Device  string   `json:"device"`
	Classes []string `json:"classes"`
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cropdoc-api",
		"version": h.version,
	})
}

// DeepHealth returns health status with dependency checks
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.deps))
	allHealthy := true

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := h.deps[name]
		if p == nil {
			deps[name] = "not configured"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			deps[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps[name] = "healthy"
		}
	}

	resp := HealthResponse{
		Service:      "cropdoc-api",
		Version:      h.version,
		Dependencies: deps,
	}
	if h.model != nil {
		resp.Model = &ModelStatus{Device: h.model.Device(), Classes: h.model.Labels()}
		deps["model"] = "loaded"
	} else {
		deps["model"] = "not loaded"
		allHealthy = false
	}

	resp.Status = "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		resp.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}

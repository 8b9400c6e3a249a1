package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineObservations(t *testing.T) {
	m := New()
	m.ObserveStage("predict", 20*time.Millisecond, nil)
	m.ObserveStage("explain", time.Second, errors.New("boom"))
	m.ObservePrediction("Healthy", 97, false)
	m.ObservePrediction("Healthy", 91, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues("Healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degenerate))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/crops/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, p := range []string{"/crops/1", "/crops/2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/crops/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "cropdoc_http_requests_total"))
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body struct {
		Error APIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2, 1, time.Minute)
	clock := time.Unix(1000, 0)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	clock = clock.Add(90 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	clock = clock.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"), "partial periods carry over")
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(1, 1, time.Hour)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, ErrCodeRateLimited, e.Code)
	assert.Equal(t, int(time.Hour.Milliseconds()), e.RetryAfter)
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(2, 1, time.Hour)
	var transitions []string
	cb.OnStateChange = func(from, to CircuitState) { transitions = append(transitions, from.String()+"->"+to.String()) }

	status := http.StatusInternalServerError
	r := gin.New()
	r.Use(CircuitBreakerMiddleware(cb))
	r.GET("/", func(c *gin.Context) { c.Status(status) })

	status = http.StatusBadRequest
	serve(r, http.MethodGet, "/")
	assert.Equal(t, CircuitClosed, cb.State(), "4xx does not trip the breaker")

	status = http.StatusInternalServerError
	serve(r, http.MethodGet, "/")
	serve(r, http.MethodGet, "/")
	assert.Equal(t, CircuitOpen, cb.State())

	w := serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeCircuitOpen, decodeError(t, w).Code)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 1, time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRequestIDAndCORS(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), CORS(), RequestLogger(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := serve(r, http.MethodGet, "/")
	id := w.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = serve(r, http.MethodOptions, "/")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRespondErrorEnvelope(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		RespondErrorWithDetails(c, http.StatusUnprocessableEntity, ErrCodeImageDecode, "bad image", "junk.jpg")
	})
	w := serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, APIError{Code: ErrCodeImageDecode, Message: "bad image", Details: "junk.jpg"}, decodeError(t, w))
}

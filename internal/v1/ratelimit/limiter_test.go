package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestLimiter(t *testing.T, apiRate, broadcastRate string) *Limiter {
	t.Helper()
	l, err := New(apiRate, broadcastRate, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestMiddleware_AllowsUnderLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newTestLimiter(t, "10-M", "10-M")

	r := gin.New()
	r.GET("/api", l.Middleware("api"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMiddleware_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newTestLimiter(t, "1-M", "1-M")

	r := gin.New()
	r.GET("/api", l.Middleware("api"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
}

func TestMiddleware_SeparateLimitersPerEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newTestLimiter(t, "1-M", "1-M")

	r := gin.New()
	r.GET("/api", l.Middleware("api"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/broadcast", l.Middleware("broadcast"), func(c *gin.Context) { c.Status(http.StatusOK) })

	reqAPI := httptest.NewRequest(http.MethodGet, "/api", nil)
	reqAPI.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, reqAPI)
	if w.Code != http.StatusOK {
		t.Fatalf("api request status = %d, want 200", w.Code)
	}

	reqBroadcast := httptest.NewRequest(http.MethodGet, "/broadcast", nil)
	reqBroadcast.RemoteAddr = "10.0.0.2:1234"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, reqBroadcast)
	if w2.Code != http.StatusOK {
		t.Fatalf("broadcast request under its own limiter should still be allowed, got %d", w2.Code)
	}
}

package server

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/maximewewer/gpsd-refclock/internal/config"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
	testutil "github.com/maximewewer/gpsd-refclock/pkg/testing"
)

func okRouter() *mux.Router {
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/test").Name("test").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("test"))
	})
	return router
}

func TestNewMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()

	mw := NewMiddleware(cfg, metrics.NewDriverMetrics())
	assert.NotNil(t, mw.config)
	assert.Nil(t, mw.limiter)

	cfg.Server.RateLimit.Enabled = true
	mw = NewMiddleware(cfg, nil)
	assert.NotNil(t, mw.limiter)
}

func TestMiddleware_Apply_CountsRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewDriverMetrics()
	registry.MustRegister(m)

	handler := NewMiddleware(config.DefaultConfig(), m).Apply(okRouter())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	testutil.AssertMetricValue(t, registry, "gpsd_http_requests_total", map[string]string{"route": "test", "code": "200"}, 2)
	testutil.AssertMetricExists(t, registry, "gpsd_goroutines", nil)
}

func TestMiddleware_Apply_WithCORS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.EnableCORS = true
	cfg.Server.AllowedOrigins = []string{"https://grafana.example.com"}

	handler := NewMiddleware(cfg, nil).Apply(okRouter())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://grafana.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "https://grafana.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestMiddleware_CORSMiddleware_OPTIONS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"https://example.com"}
	mw := NewMiddleware(cfg, nil)

	handlerCalled := false
	wrapped := mw.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, handlerCalled, "Handler should not be called for OPTIONS")
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_IsAllowedOrigin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"https://exact.example.org", "*.lab.example.org"}
	mw := NewMiddleware(cfg, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://exact.example.org", true},
		{"https://ntp.lab.example.org", true},
		{"https://lab.example.org", true},
		{"https://evil.example.org", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, mw.isAllowedOrigin(tt.origin))
		})
	}
}

func TestMiddleware_CheckWebsocketOrigin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"https://grafana.example.com"}
	mw := NewMiddleware(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "http://refclock.lan:9560/ws", nil)
	assert.True(t, mw.checkWebsocketOrigin(req))

	req.Header.Set("Origin", "http://refclock.lan:9560")
	assert.True(t, mw.checkWebsocketOrigin(req))

	req.Header.Set("Origin", "https://grafana.example.com")
	assert.True(t, mw.checkWebsocketOrigin(req))

	req.Header.Set("Origin", "https://other.example.com")
	assert.False(t, mw.checkWebsocketOrigin(req))
}

func TestMiddleware_RateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.RateLimit = config.HTTPRateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	handler := NewMiddleware(cfg, nil).Apply(okRouter())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMiddleware_RecoveryMiddleware(t *testing.T) {
	mw := NewMiddleware(config.DefaultConfig(), nil)

	wrapped := mw.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestMiddleware_LoggingMiddleware_StatusCodes(t *testing.T) {
	mw := NewMiddleware(config.DefaultConfig(), nil)

	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable} {
		wrapped := mw.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, code, w.Code)
	}
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}

	_, _, err := rw.Hijack()
	assert.Error(t, err)
}

func TestMiddleware_ConcurrentRequests(t *testing.T) {
	handler := NewMiddleware(config.DefaultConfig(), metrics.NewDriverMetrics()).Apply(okRouter())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/maximewewer/gpsd-refclock/internal/config"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

// Middleware manages HTTP middleware
type Middleware struct {
	config  *config.Config
	metrics *metrics.DriverMetrics
	limiter *rate.Limiter
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(cfg *config.Config, m *metrics.DriverMetrics) *Middleware {
	mw := &Middleware{
		config:  cfg,
		metrics: m,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		mw.limiter = rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)
	}
	return mw
}

// Apply wraps the router with the outer middleware and installs the
// route-aware ones on it
func (m *Middleware) Apply(router *mux.Router) http.Handler {
	router.Use(m.metricsMiddleware)

	var handler http.Handler = router
	handler = m.recoveryMiddleware(handler)
	handler = m.rateLimitMiddleware(handler)
	handler = m.loggingMiddleware(handler)

	if m.config.Server.EnableCORS {
		handler = m.corsMiddleware(handler)
	}

	return handler
}

// loggingMiddleware logs HTTP requests
func (m *Middleware) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.HTTP(r.Method, r.URL.Path, rw.statusCode, time.Since(start), r.RemoteAddr)
	})
}

// metricsMiddleware updates runtime metrics and counts requests per route
func (m *Middleware) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		m.metrics.MemoryUsageBytes.Set(float64(memStats.Alloc))
		m.metrics.GoroutinesCount.Set(float64(runtime.NumGoroutine()))
		if memStats.NumGC > 0 {
			gcPause := float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / 1e9
			m.metrics.GCDurationSeconds.Observe(gcPause)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if name := cur.GetName(); name != "" {
				route = name
			}
		}
		m.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rw.statusCode)).Inc()
	})
}

// rateLimitMiddleware rejects requests beyond the configured rate
func (m *Middleware) rateLimitMiddleware(next http.Handler) http.Handler {
	if m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (m *Middleware) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if m.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
		} else if origin != "" {
			logger.SafeWarn("security", "CORS request blocked", map[string]interface{}{
				"origin": origin,
				"path":   r.URL.Path,
			})
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is in the whitelist
func (m *Middleware) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range m.config.Server.AllowedOrigins {
		if allowed == origin {
			return true
		}

		// *.example.com matches any subdomain
		if strings.HasPrefix(allowed, "*.") {
			domain := allowed[2:]
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain {
				return true
			}
		}
	}

	return false
}

// checkWebsocketOrigin accepts same-origin upgrades and whitelisted origins
func (m *Middleware) checkWebsocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasSuffix(origin, "://"+r.Host) {
		return true
	}
	return m.isAllowedOrigin(origin)
}

// recoveryMiddleware recovers from panics
func (m *Middleware) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.SafeError("server", "Panic recovered", nil, map[string]interface{}{
					"panic":  err,
					"method": r.Method,
					"path":   r.URL.Path,
				})

				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

package server

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maximewewer/gpsd-refclock/internal/config"
	"github.com/maximewewer/gpsd-refclock/internal/crosscheck"
	"github.com/maximewewer/gpsd-refclock/internal/gpsd"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// statusTimeout bounds the wait for the dispatcher goroutine
const statusTimeout = 2 * time.Second

// StatusProvider snapshots the clocks. Implementations hop onto the
// dispatcher goroutine.
type StatusProvider interface {
	ClockStatus(ctx context.Context) ([]gpsd.Status, error)
}

// StatusFunc adapts a function to StatusProvider
type StatusFunc func(ctx context.Context) ([]gpsd.Status, error)

// ClockStatus calls f(ctx)
func (f StatusFunc) ClockStatus(ctx context.Context) ([]gpsd.Status, error) {
	return f(ctx)
}

// CrosscheckProvider exposes the last NTP cross-check results
type CrosscheckProvider interface {
	Results() []crosscheck.Result
}

// Handlers contains HTTP request handlers
type Handlers struct {
	config     *config.Config
	registry   *prometheus.Registry
	status     StatusProvider
	crosscheck CrosscheckProvider
}

// NewHandlers creates a new handlers instance. status and cc may be nil.
func NewHandlers(cfg *config.Config, registry *prometheus.Registry, status StatusProvider, cc CrosscheckProvider) *Handlers {
	return &Handlers{
		config:     cfg,
		registry:   registry,
		status:     status,
		crosscheck: cc,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("server", "Failed to encode response", err)
	}
}

func (h *Handlers) clockStatus(r *http.Request) ([]gpsd.Status, error) {
	if h.status == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()
	return h.status.ClockStatus(ctx)
}

// MetricsHandler serves Prometheus metrics
func (h *Handlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	handler := promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
		ErrorLog:      &loggerAdapter{},
		ErrorHandling: promhttp.ContinueOnError,
	})

	handler.ServeHTTP(w, r)
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	Clocks       int      `json:"clocks"`
	Disconnected []string `json:"disconnected,omitempty"`
}

// HealthHandler reports healthy when every primary clock is connected to gpsd
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	clocks, err := h.clockStatus(r)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Service: "gpsd-refclock"})
		return
	}

	resp := HealthResponse{Status: "healthy", Service: "gpsd-refclock", Clocks: len(clocks)}
	for _, st := range clocks {
		if !st.Secondary && !st.Connected {
			resp.Disconnected = append(resp.Disconnected, st.Name)
		}
	}
	code := http.StatusOK
	if len(resp.Disconnected) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Clocks     []gpsd.Status       `json:"clocks"`
	Crosscheck []crosscheck.Result `json:"crosscheck,omitempty"`
}

// StatusHandler returns every clock snapshot and the cross-check results
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	clocks, err := h.clockStatus(r)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	resp := StatusResponse{Clocks: clocks}
	if resp.Clocks == nil {
		resp.Clocks = []gpsd.Status{}
	}
	if h.crosscheck != nil {
		resp.Crosscheck = h.crosscheck.Results()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClockHandler returns the snapshot of /clocks/{unit}
func (h *Handlers) ClockHandler(w http.ResponseWriter, r *http.Request) {
	unit, err := strconv.Atoi(mux.Vars(r)["unit"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid unit"})
		return
	}

	clocks, err := h.clockStatus(r)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	for _, st := range clocks {
		if st.Unit == unit {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unit not configured"})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>gpsd refclock</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        h1 { color: #333; }
        ul { list-style-type: none; padding: 0; }
        li { margin: 10px 0; }
        a { color: #0066cc; text-decoration: none; }
        a:hover { text-decoration: underline; }
        .info { background-color: #f0f0f0; padding: 15px; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>gpsd JSON reference clock</h1>
    <div class="info">
        <h2>Available Endpoints:</h2>
        <ul>
            <li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
            <li><a href="/health">/health</a> - Health check</li>
            <li><a href="/status">/status</a> - Clock status</li>
            <li>/clocks/{unit} - Status of one clock</li>
            <li>/ws - Live sample feed (websocket)</li>
        </ul>
        <h2>Configuration:</h2>
        <ul>
            <li>Clocks: {{len .GPSD.Units}} configured</li>
            <li>Poll interval: {{.GPSD.PollInterval}}</li>
            <li>Shared memory: {{.SHM.IsEnabled}}</li>
            <li>NTP cross-check: {{.Crosscheck.Enabled}}</li>
        </ul>
    </div>
</body>
</html>`))

// IndexHandler serves the index page
func (h *Handlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if err := indexTemplate.Execute(w, h.config); err != nil {
		logger.Error("server", "Failed to render index", err)
	}
}

// loggerAdapter adapts pkg/logger to promhttp logger interface
type loggerAdapter struct{}

func (l *loggerAdapter) Println(v ...interface{}) {
	msg := ""
	for i, val := range v {
		if i > 0 {
			msg += " "
		}
		if s, ok := val.(string); ok {
			msg += s
		} else if err, ok := val.(error); ok {
			msg += err.Error()
		}
	}
	logger.Error("promhttp", msg, nil)
}

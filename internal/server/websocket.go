package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maximewewer/gpsd-refclock/internal/refclock"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBufferSize = 64
)

// FeedHandler streams refclock feed events to websocket clients
type FeedHandler struct {
	feed     *refclock.Feed
	metrics  *metrics.DriverMetrics
	upgrader websocket.Upgrader
}

// NewFeedHandler creates the /ws handler. checkOrigin may be nil to accept
// same-origin requests only.
func NewFeedHandler(feed *refclock.Feed, m *metrics.DriverMetrics, checkOrigin func(r *http.Request) bool) *FeedHandler {
	return &FeedHandler{
		feed:    feed,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP upgrades the connection and forwards feed events as JSON. The
// optional clock query parameter restricts the stream to one clock.
func (f *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.feed == nil {
		http.Error(w, "feed not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.SafeWarn("server", "Websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	defer conn.Close()

	if f.metrics != nil {
		f.metrics.WebsocketClients.Inc()
		defer f.metrics.WebsocketClients.Dec()
	}

	clock := r.URL.Query().Get("clock")
	id, events := f.feed.Subscribe(wsBufferSize)
	defer f.feed.Unsubscribe(id)
	logger.SafeInfo("server", "Websocket client connected", map[string]interface{}{
		"remote": r.RemoteAddr,
		"clock":  clock,
	})

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if clock != "" && evt.Clock != clock {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.SafeDebug("server", "Websocket write failed", map[string]interface{}{
					"remote": r.RemoteAddr,
					"error":  err.Error(),
				})
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

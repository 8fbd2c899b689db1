package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/state"
)

const (
	// writeWait bounds a single frame write
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the read side
	// gives up on it
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait
	pingPeriod = 30 * time.Second
	// clientQueueSize is the per-client frame backlog. A client that falls
	// this far behind is dropped rather than allowed to stall the hub.
	clientQueueSize = 32

	maxClientMessageSize = 512
)

// eventFrame is the JSON notification sent for each cache mutation
type eventFrame struct {
	Domain   string    `json:"domain"`
	SensorID string    `json:"sensor_id,omitempty"`
	At       time.Time `json:"at"`
}

// hubMetrics holds Prometheus metrics for the event hub
type hubMetrics struct {
	clientsConnected prometheus.Gauge
	connections      prometheus.Counter
	disconnections   *prometheus.CounterVec
	framesSent       prometheus.Counter
	framesDropped    prometheus.Counter
}

func newHubMetrics(registry *metric.MetricsRegistry) *hubMetrics {
	if registry == nil {
		return nil
	}

	m := &hubMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xbot",
			Subsystem: "events",
			Name:      "clients_connected",
			Help:      "WebSocket clients currently subscribed to /events",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "events",
			Name:      "connections_total",
			Help:      "WebSocket connections accepted on /events",
		}),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "events",
			Name:      "disconnections_total",
			Help:      "WebSocket disconnections, by reason",
		}, []string{"reason"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "events",
			Name:      "frames_sent_total",
			Help:      "Change notification frames delivered to clients",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "events",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded because a client queue was full",
		}),
	}

	serviceName := "http-events"
	_ = registry.RegisterGauge(serviceName, "clients_connected", m.clientsConnected)
	_ = registry.RegisterCounter(serviceName, "connections", m.connections)
	_ = registry.RegisterCounterVec(serviceName, "disconnections", m.disconnections)
	_ = registry.RegisterCounter(serviceName, "frames_sent", m.framesSent)
	_ = registry.RegisterCounter(serviceName, "frames_dropped", m.framesDropped)

	return m
}

// eventClient is one WebSocket subscriber. The write loop is the only
// goroutine that touches the connection's write side; gorilla/websocket
// panics on concurrent writes.
type eventClient struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *eventClient) signalDone() {
	c.once.Do(func() { close(c.done) })
}

// eventHub fans cache mutation frames out to WebSocket clients. It
// implements state.Sink, so the applier hands it every committed update.
type eventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool

	metrics *hubMetrics
}

var _ state.Sink = (*eventHub)(nil)

func newEventHub(logger *slog.Logger, registry *metric.MetricsRegistry) *eventHub {
	return &eventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: make(map[*eventClient]struct{}),
		metrics: newHubMetrics(registry),
	}
}

// Publish broadcasts one mutation frame. Enqueueing never blocks: a client
// whose queue is full is disconnected so one slow consumer cannot back up
// the applier.
func (h *eventHub) Publish(_ context.Context, ev state.Event) {
	frame, err := json.Marshal(eventFrame{
		Domain:   ev.Domain.String(),
		SensorID: ev.SensorID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.queue <- frame:
			if h.metrics != nil {
				h.metrics.framesSent.Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.framesDropped.Inc()
			}
			h.remove(c, "slow_consumer")
		}
	}
}

// handleUpgrade upgrades the request and registers the client
func (h *eventHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &eventClient{
		conn:  conn,
		queue: make(chan []byte, clientQueueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.connections.Inc()
		h.metrics.clientsConnected.Inc()
	}
	h.logger.Debug("events client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop delivers queued frames and keepalive pings until the client
// goes away
func (h *eventHub) writeLoop(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(c, "write_error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c, "ping_failure")
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// readLoop drains client frames to keep pong handling alive. Clients are
// not expected to send data; anything beyond control frames is discarded.
func (h *eventHub) readLoop(c *eventClient) {
	c.conn.SetReadLimit(maxClientMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c, "client_closed")
			return
		}
	}
}

// remove unregisters a client and wakes its write loop for the close
// handshake. Safe to call from multiple goroutines; only the call that
// finds the client registered updates the metrics.
func (h *eventHub) remove(c *eventClient, reason string) {
	h.mu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	c.signalDone()

	if !registered {
		return
	}

	if h.metrics != nil {
		h.metrics.clientsConnected.Dec()
		h.metrics.disconnections.WithLabelValues(reason).Inc()
	}
	h.logger.Debug("events client disconnected", "reason", reason)
}

// closeAll disconnects every client. New upgrades are refused afterwards.
func (h *eventHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*eventClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.signalDone()
		if h.metrics != nil {
			h.metrics.clientsConnected.Dec()
			h.metrics.disconnections.WithLabelValues("server_shutdown").Inc()
		}
	}
}

// clientCount reports the number of registered clients
func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Package http provides the HTTP gateway serving the telemetry cache.
//
// Every read endpoint answers from *state.GatewayState under its read lock
// and never touches the bus. The only write endpoint, POST /actions/execute,
// forwards the raw request body to the action channel.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/health"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/state"
)

// subjectAction is the bus channel that receives forwarded action commands
const subjectAction = "xbot.action"

// Bus is the slice of the NATS client the gateway needs for command
// forwarding. MaxPayload reports the negotiated message size limit, or 0
// when none is known.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	MaxPayload() int64
}

// Config holds the HTTP gateway settings
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	EnableCORS      bool
	CORSOrigins     []string
	MaxBodySize     int64
}

// DefaultConfig returns the gateway defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodySize:     1 << 20,
	}
}

// Deps holds runtime dependencies for the HTTP gateway
type Deps struct {
	Name       string
	SystemName string
	Config     Config
	State      *state.GatewayState
	Bus        Bus

	// Components are polled on every /health request and folded into
	// the aggregated report.
	Components []component.Discoverable

	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// gatewayMetrics holds Prometheus metrics for the HTTP gateway
type gatewayMetrics struct {
	requests *prometheus.CounterVec
}

func newGatewayMetrics(registry *metric.MetricsRegistry) *gatewayMetrics {
	if registry == nil {
		return nil
	}

	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),
	}

	_ = registry.RegisterCounterVec("http-gateway", "requests", m.requests)

	return m
}

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one so responses can be correlated with gateway logs
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Gateway serves the cached robot telemetry over plain HTTP.
type Gateway struct {
	name       string
	systemName string
	config     Config
	st         *state.GatewayState
	bus        Bus
	components []component.Discoverable
	monitor    *health.Monitor
	hub        *eventHub
	registry   *metric.MetricsRegistry
	logger     *slog.Logger

	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	eg       *errgroup.Group
	shutdown chan struct{}
	stopOnce sync.Once

	running   atomic.Bool
	mu        sync.RWMutex
	startTime time.Time

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	bytesSent      atomic.Uint64
	lastActivity   atomic.Value // stores time.Time

	metrics *gatewayMetrics
}

var _ component.Discoverable = (*Gateway)(nil)
var _ component.LifecycleComponent = (*Gateway)(nil)

// NewGateway creates an HTTP gateway over the given cache
func NewGateway(deps Deps) (*Gateway, error) {
	if deps.State == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil state"),
			"Gateway", "NewGateway", "dependency validation")
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil bus"),
			"Gateway", "NewGateway", "dependency validation")
	}

	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}

	name := deps.Name
	if name == "" {
		name = "http-gateway"
	}
	systemName := deps.SystemName
	if systemName == "" {
		systemName = "xbot-monitoring"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name)

	g := &Gateway{
		name:       name,
		systemName: systemName,
		config:     cfg,
		st:         deps.State,
		bus:        deps.Bus,
		components: deps.Components,
		monitor:    health.NewMonitor(),
		hub:        newEventHub(logger, deps.MetricsRegistry),
		registry:   deps.MetricsRegistry,
		logger:     logger,
		metrics:    newGatewayMetrics(deps.MetricsRegistry),
	}
	g.lastActivity.Store(time.Time{})
	g.mux = g.buildMux()

	return g, nil
}

// Events returns the sink that mirrors cache mutations to /events clients.
// Register it on the applier so WebSocket subscribers see change frames.
func (g *Gateway) Events() state.Sink {
	return g.hub
}

// buildMux wires the route table. There is deliberately no catch-all
// pattern: unmatched paths and mismatched methods fall through to the
// mux's own 404 and 405 responses.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /sensors", g.route("sensors", g.handleSensors))
	mux.HandleFunc("GET /sensors/{id}", g.route("sensor_value", g.handleSensorValue))
	mux.HandleFunc("GET /actions", g.route("actions", g.handleActions))
	mux.HandleFunc("POST /actions/execute", g.route("execute", g.handleExecute))
	mux.HandleFunc("GET /status", g.route("status", g.handleStatus))
	mux.HandleFunc("GET /map", g.route("map", g.handleMap))
	mux.HandleFunc("GET /map/overlay", g.route("map_overlay", g.handleOverlay))
	mux.HandleFunc("GET /health", g.route("health", g.handleHealth))
	mux.Handle("GET /metrics", g.metricsHandler())
	mux.HandleFunc("GET /events", g.hub.handleUpgrade)

	return mux
}

func (g *Gateway) metricsHandler() http.Handler {
	if g.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			g.writeError(w, http.StatusNotFound, "metrics not enabled")
		})
	}
	return promhttp.HandlerFor(g.registry.PrometheusRegistry(), promhttp.HandlerOpts{})
}

// statusRecorder captures the status code and body size a handler produced
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// route wraps a handler with request ID propagation, CORS headers and
// per-route accounting
func (g *Gateway) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", getOrGenerateRequestID(r))
		if g.config.EnableCORS {
			g.applyCORS(w, r)
		}

		g.requestsTotal.Add(1)
		g.lastActivity.Store(time.Now())

		rec := &statusRecorder{ResponseWriter: w}
		h(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if rec.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		g.bytesSent.Add(uint64(rec.bytes))

		if g.metrics != nil {
			g.metrics.requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// handleSensors serves the sensor catalog in discovery order
func (g *Gateway) handleSensors(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.st.Sensors())
}

// handleSensorValue serves the latest reading of one sensor as plain text.
// A sensor that never reported a value is indistinguishable from an unknown
// one: both answer 404.
func (g *Gateway) handleSensorValue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	reading, ok := g.st.Reading(id)
	if !ok {
		g.writeError(w, http.StatusNotFound, "no value for sensor")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reading.Value.Text()))
}

// handleActions serves the flattened action registry
func (g *Gateway) handleActions(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.st.Actions())
}

// handleExecute forwards the request body verbatim to the action channel.
// The accepted body size is the configured maximum or the bus's negotiated
// payload limit, whichever is smaller.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	limit := g.config.MaxBodySize
	if busLimit := g.bus.MaxPayload(); busLimit > 0 && busLimit < limit {
		limit = busLimit
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > limit {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", limit))
		return
	}
	if len(body) == 0 {
		g.writeError(w, http.StatusNotAcceptable, errors.ErrEmptyCommand.Error())
		return
	}

	if err := g.bus.Publish(r.Context(), subjectAction, body); err != nil {
		g.logger.Warn("action forward failed", "error", err)
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}

	g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleStatus serves the latest robot state document
func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rs, ok := g.st.RobotState()
	if !ok {
		g.writeError(w, http.StatusNotFound, "no robot state received")
		return
	}
	g.writeJSON(w, http.StatusOK, rs)
}

// handleMap serves the latest navigation map document
func (g *Gateway) handleMap(w http.ResponseWriter, _ *http.Request) {
	m, ok := g.st.Map()
	if !ok {
		g.writeError(w, http.StatusNotFound, "no map received")
		return
	}
	g.writeJSON(w, http.StatusOK, m)
}

// handleOverlay serves the latest map overlay document
func (g *Gateway) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	o, ok := g.st.MapOverlay()
	if !ok {
		g.writeError(w, http.StatusNotFound, "no map overlay received")
		return
	}
	g.writeJSON(w, http.StatusOK, o)
}

// handleHealth polls every registered component and serves the aggregated
// report. Unhealthy aggregates answer 503 so load balancers can react;
// degraded systems still answer 200.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	for _, c := range g.components {
		meta := c.Meta()
		g.monitor.Update(meta.Name, health.FromComponentHealth(meta.Name, c.Health()))
	}
	g.monitor.Update(g.name, health.FromComponentHealth(g.name, g.Health()))

	agg := g.monitor.AggregateHealth(g.systemName)

	code := http.StatusOK
	if agg.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, agg)
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// mapErrorToHTTPStatus picks the response code from the error class.
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.IsFatal(err):
		return http.StatusInternalServerError
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients.
// Bus subjects and internal details stay in the logs.
func (g *Gateway) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	case strings.Contains(err.Error(), "not found"):
		return "resource not found"
	default:
		return "internal server error"
	}
}

// writeJSON writes a JSON response with the given status code
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

// writeError writes the standard JSON error body.
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

// Initialize prepares the HTTP gateway
func (g *Gateway) Initialize() error {
	if g.config.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Gateway", "Initialize", "listen address required")
	}
	return nil
}

// Start binds the listen address and begins serving. The bind happens
// synchronously so a port conflict surfaces here, not in a goroutine.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", "bind listen address")
	}
	g.listener = ln

	srv := &http.Server{
		Handler:      g.mux,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}
	g.server = srv

	shutdown := make(chan struct{})
	g.shutdown = shutdown

	eg := new(errgroup.Group)
	g.eg = eg

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "Gateway", "Start", "serve")
		}
		return nil
	})

	shutdownTimeout := g.config.ShutdownTimeout
	eg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-shutdown:
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.running.Store(true)
	g.startTime = time.Now()
	g.logger.Info("http gateway listening", "addr", ln.Addr().String())

	return nil
}

// Stop drains in-flight requests, closes WebSocket clients and shuts the
// server down
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	g.mu.RLock()
	eg := g.eg
	g.mu.RUnlock()
	if eg == nil {
		return nil
	}

	g.hub.closeAll()
	g.stopOnce.Do(func() { close(g.shutdown) })

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.WrapTransient(err, "Gateway", "Stop", "graceful shutdown")
		}
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout,
			"Gateway", "Stop", "shutdown deadline exceeded")
	}

	g.logger.Info("http gateway stopped")
	return nil
}

// Addr returns the bound listen address once Start has succeeded
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Meta returns the component metadata
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        g.name,
		Type:        "gateway",
		Description: "REST and WebSocket endpoints over the telemetry cache",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (g *Gateway) DataFlow() component.FlowMetrics {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()

	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var messagesPerSecond, bytesPerSecond float64
	if !startTime.IsZero() {
		if uptime := time.Since(startTime).Seconds(); uptime > 0 {
			messagesPerSecond = float64(total) / uptime
			bytesPerSecond = float64(g.bytesSent.Load()) / uptime
		}
	}

	lastActivity, _ := g.lastActivity.Load().(time.Time)

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/pkg/worker"
	"github.com/raven-worx/xbot-monitoring/state"
)

// Outbound bus subjects for inbound MQTT commands.
const (
	subjectVelocity = "xbot.remote_cmd_vel"
	subjectCommand  = "xbot.remote_command"
)

// Inbound topic names below the configured prefix.
const (
	topicTeleop  = "teleop"
	topicCommand = "command"
)

// publishTimeout bounds a single MQTT publish so a connection lost
// mid-flight cannot stall the pipeline worker for long.
const publishTimeout = 5 * time.Second

// Bus is the outbound slice of the NATS client used for inbound command
// routing.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// mqttConnection is the slice of the autopaho connection manager the
// publisher drives; *autopaho.ConnectionManager satisfies it.
type mqttConnection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Disconnect(ctx context.Context) error
}

// dialFunc opens the MQTT connection; swapped for a fake in tests.
type dialFunc func(ctx context.Context, cfg autopaho.ClientConfig) (mqttConnection, error)

func autopahoDial(ctx context.Context, cfg autopaho.ClientConfig) (mqttConnection, error) {
	return autopaho.NewConnection(ctx, cfg)
}

// Config holds configuration for the MQTT publisher
type Config struct {
	URL               string
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string
	KeepAlive         time.Duration
	ConnectRetryDelay time.Duration
	ConnectTimeout    time.Duration
	QueueSize         int
}

// DefaultConfig returns sensible publisher defaults
func DefaultConfig() Config {
	return Config{
		URL:               "tcp://localhost:1883",
		ClientID:          "xbot-monitoring",
		TopicPrefix:       "xbot",
		KeepAlive:         20 * time.Second,
		ConnectRetryDelay: 2 * time.Second,
		ConnectTimeout:    10 * time.Second,
		QueueSize:         512,
	}
}

// Deps holds runtime dependencies for the MQTT publisher
type Deps struct {
	Name            string
	Config          Config
	Bus             Bus
	State           *state.GatewayState
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// publisherMetrics holds Prometheus metrics for the MQTT publisher
type publisherMetrics struct {
	publishes       *prometheus.CounterVec
	publishFailures prometheus.Counter
	inbound         *prometheus.CounterVec
	connected       prometheus.Gauge
}

func newPublisherMetrics(registry *metric.MetricsRegistry) *publisherMetrics {
	if registry == nil {
		return nil
	}

	m := &publisherMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "MQTT messages published, by domain",
		}, []string{"domain"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "broker",
			Name:      "publish_failures_total",
			Help:      "MQTT publishes that failed or were dropped",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "broker",
			Name:      "inbound_total",
			Help:      "Inbound MQTT command messages, by topic kind",
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xbot",
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while the MQTT connection is up",
		}),
	}

	serviceName := "broker-publisher"
	_ = registry.RegisterCounterVec(serviceName, "publishes", m.publishes)
	_ = registry.RegisterCounter(serviceName, "publish_failures", m.publishFailures)
	_ = registry.RegisterCounterVec(serviceName, "inbound", m.inbound)
	_ = registry.RegisterGauge(serviceName, "connected", m.connected)

	return m
}

// Publisher fans cache mutations out to the MQTT broker and routes inbound
// teleop/command messages back onto the bus. A single pipeline worker keeps
// per-topic ordering; its queue never blocks the caller, excess events are
// dropped and the next mutation self-heals the published snapshot.
type Publisher struct {
	name      string
	config    Config
	serverURL *url.URL
	bus       Bus
	st        *state.GatewayState
	logger    *slog.Logger

	dial dialFunc

	connMu sync.RWMutex
	conn   mqttConnection

	pool       *worker.Pool[state.Event]
	logLimiter *rate.Limiter

	// Lifecycle management
	connected atomic.Bool
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	// Flow counters
	published    atomic.Int64
	inboundCount atomic.Int64
	failedCount  atomic.Int64
	bytesOut     atomic.Int64
	lastErr      atomic.Value // stores string
	lastActivity atomic.Value // stores time.Time

	metrics *publisherMetrics
}

var _ component.Discoverable = (*Publisher)(nil)
var _ component.LifecycleComponent = (*Publisher)(nil)
var _ state.Sink = (*Publisher)(nil)

// NewPublisher creates the MQTT publisher. Configuration problems (an
// unparseable broker URL in particular) fail here; broker unavailability
// at runtime never does.
func NewPublisher(deps Deps) (*Publisher, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil bus"),
			"Publisher", "NewPublisher", "dependency validation")
	}
	if deps.State == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil state"),
			"Publisher", "NewPublisher", "dependency validation")
	}

	cfg := deps.Config
	if cfg.URL == "" {
		cfg.URL = DefaultConfig().URL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultConfig().ClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultConfig().TopicPrefix
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = DefaultConfig().ConnectRetryDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	serverURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.WrapFatal(err, "Publisher", "NewPublisher", "parse broker url")
	}

	name := deps.Name
	if name == "" {
		name = "broker-publisher"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		name:       name,
		config:     cfg,
		serverURL:  serverURL,
		bus:        deps.Bus,
		st:         deps.State,
		logger:     logger.With("component", name),
		dial:       autopahoDial,
		logLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		startTime:  time.Now(),
		metrics:    newPublisherMetrics(deps.MetricsRegistry),
	}
	p.lastActivity.Store(time.Time{})

	p.pool = worker.NewPool(1, cfg.QueueSize, p.process,
		worker.WithMetricsRegistry[state.Event](deps.MetricsRegistry, "xbot_broker_pipeline"))

	return p, nil
}

// Publish implements state.Sink: queue the affected domain for fan-out.
// Never blocks; a full queue drops the event and the next mutation
// republishes the domain.
func (p *Publisher) Publish(_ context.Context, ev state.Event) {
	if !p.running.Load() {
		return
	}
	if err := p.pool.Submit(ev); err != nil {
		p.failedCount.Add(1)
		if p.metrics != nil {
			p.metrics.publishFailures.Inc()
		}
		if p.logLimiter.Allow() {
			p.logger.Warn("publish queue full, dropping fan-out",
				"domain", ev.Domain.String(), "error", err)
		}
	}
}

// Meta returns the component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "publisher",
		Description: "MQTT fan-out with reconnect replay and inbound command routing",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (p *Publisher) Health() component.HealthStatus {
	lastErr, _ := p.lastErr.Load().(string)
	return component.HealthStatus{
		Healthy:    p.running.Load() && p.connected.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.failedCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (p *Publisher) DataFlow() component.FlowMetrics {
	total := p.published.Load() + p.inboundCount.Load()
	failed := p.failedCount.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(p.startTime).Seconds(); uptime > 0 {
		perSecond = float64(total) / uptime
		bytesPerSecond = float64(p.bytesOut.Load()) / uptime
	}
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the publisher configuration
func (p *Publisher) Initialize() error {
	if p.serverURL.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("broker url %q has no host", p.config.URL),
			"Publisher", "Initialize", "config validation")
	}
	return nil
}

// Start launches the publish pipeline and the MQTT connection manager.
// The manager reconnects on its own; an unreachable broker does not fail
// Start.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil // Already running, idempotent
	}

	if err := p.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Publisher", "Start", "start publish pipeline")
	}

	conn, err := p.dial(ctx, p.clientConfig(ctx))
	if err != nil {
		_ = p.pool.Stop(time.Second)
		return errors.WrapFatal(err, "Publisher", "Start", "create mqtt connection")
	}

	p.setConn(conn)
	p.running.Store(true)
	p.startTime = time.Now()

	p.logger.Info("mqtt publisher started",
		"url", p.config.URL, "prefix", p.config.TopicPrefix)
	return nil
}

// Stop drains the publish pipeline and closes the MQTT connection
func (p *Publisher) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	poolErr := p.pool.Stop(timeout)

	if conn := p.connection(); conn != nil {
		dctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := conn.Disconnect(dctx); err != nil {
			p.logger.Debug("mqtt disconnect", "error", err)
		}
	}
	p.connected.Store(false)
	if p.metrics != nil {
		p.metrics.connected.Set(0)
	}

	if poolErr != nil {
		return errors.WrapTransient(poolErr, "Publisher", "Stop", "drain publish pipeline")
	}
	return nil
}

// clientConfig assembles the autopaho configuration
func (p *Publisher) clientConfig(ctx context.Context) autopaho.ClientConfig {
	clientID := fmt.Sprintf("%s-%s", p.config.ClientID, uuid.NewString()[:8])

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{p.serverURL},
		KeepAlive:                     uint16(p.config.KeepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectRetryDelay:             p.config.ConnectRetryDelay,
		ConnectTimeout:                p.config.ConnectTimeout,
		ConnectUsername:               p.config.Username,
		ConnectPassword:               []byte(p.config.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.onConnectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.connected.Store(false)
			if p.metrics != nil {
				p.metrics.connected.Set(0)
			}
			p.recordError(err)
			if p.logLimiter.Allow() {
				p.logger.Warn("mqtt connect failed, retrying", "error", err)
			}
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.onInbound(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				p.recordError(err)
			},
			OnServerDisconnect: func(_ *paho.Disconnect) {
				p.connected.Store(false)
				if p.metrics != nil {
					p.metrics.connected.Set(0)
				}
				p.logger.Warn("mqtt server disconnect")
			},
		},
	}
	if p.config.Password == "" {
		cfg.ConnectPassword = nil
	}
	return cfg
}

// onConnectionUp runs on every (re-)connect: restore the inbound
// subscriptions and replay all retained domains that have content.
// Stores the connection itself since the first connect can beat the
// dial call returning.
func (p *Publisher) onConnectionUp(ctx context.Context, conn mqttConnection) {
	p.setConn(conn)
	p.connected.Store(true)
	if p.metrics != nil {
		p.metrics.connected.Set(1)
	}
	p.logger.Info("mqtt connected", "url", p.config.URL)

	if err := p.subscribeInbound(ctx, conn); err != nil {
		p.recordError(err)
		p.logger.Warn("inbound subscribe failed", "error", err)
	}
	p.replay()
}

// subscribeInbound opens the teleop and command subscriptions
func (p *Publisher) subscribeInbound(ctx context.Context, conn mqttConnection) error {
	_, err := conn.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: p.topicFor(topicTeleop), QoS: 0},
			{Topic: p.topicFor(topicCommand), QoS: 0},
		},
	})
	return err
}

// replay queues every non-empty retained domain for publication
func (p *Publisher) replay() {
	for _, d := range state.RetainedDomains() {
		if !hasDocument(p.st, d) {
			continue
		}
		if err := p.pool.Submit(state.Event{Domain: d}); err != nil {
			p.failedCount.Add(1)
			if p.logLimiter.Allow() {
				p.logger.Warn("replay dropped", "domain", d.String(), "error", err)
			}
		}
	}
}

// process publishes all messages for one domain event. Errors are counted
// by the pipeline and swallowed; the broker being away must never
// propagate past this component.
func (p *Publisher) process(ctx context.Context, ev state.Event) error {
	if !p.connected.Load() {
		p.failedCount.Add(1)
		if p.metrics != nil {
			p.metrics.publishFailures.Inc()
		}
		if p.logLimiter.Allow() {
			p.logger.Warn("mqtt unavailable, dropping publish", "domain", ev.Domain.String())
		}
		return errors.WrapTransient(errors.ErrBrokerUnavailable,
			"Publisher", "process", "mqtt publish")
	}

	msgs, err := buildMessages(p.config.TopicPrefix, p.st, ev)
	if err != nil {
		p.failedCount.Add(1)
		p.recordError(err)
		return err
	}

	conn := p.connection()
	if conn == nil {
		return errors.WrapTransient(errors.ErrBrokerUnavailable,
			"Publisher", "process", "mqtt publish")
	}

	for _, msg := range msgs {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		_, err := conn.Publish(pubCtx, &paho.Publish{
			Topic:   msg.topic,
			Payload: msg.payload,
			QoS:     msg.qos,
			Retain:  msg.retain,
		})
		cancel()
		if err != nil {
			p.failedCount.Add(1)
			p.recordError(err)
			if p.metrics != nil {
				p.metrics.publishFailures.Inc()
			}
			if p.logLimiter.Allow() {
				p.logger.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
			}
			return errors.WrapTransient(err, "Publisher", "process", "mqtt publish")
		}

		p.published.Add(1)
		p.bytesOut.Add(int64(len(msg.payload)))
		p.lastActivity.Store(time.Now())
		if p.metrics != nil {
			p.metrics.publishes.WithLabelValues(ev.Domain.String()).Inc()
		}
	}
	return nil
}

// onInbound routes one inbound MQTT message onto the bus
func (p *Publisher) onInbound(ctx context.Context, topic string, payload []byte) {
	p.inboundCount.Add(1)
	p.lastActivity.Store(time.Now())

	switch topic {
	case p.topicFor(topicTeleop):
		if p.metrics != nil {
			p.metrics.inbound.WithLabelValues(topicTeleop).Inc()
		}
		cmd, err := decodeVelocity(payload)
		if err != nil {
			p.failedCount.Add(1)
			p.logger.Debug("undecodable teleop payload", "error", err)
			return
		}
		data, err := json.Marshal(cmd)
		if err != nil {
			p.failedCount.Add(1)
			return
		}
		p.forward(ctx, subjectVelocity, data)

	case p.topicFor(topicCommand):
		if p.metrics != nil {
			p.metrics.inbound.WithLabelValues(topicCommand).Inc()
		}
		p.forward(ctx, subjectCommand, payload)

	default:
		p.logger.Debug("inbound message on unexpected topic", "topic", topic)
	}
}

// forward publishes an inbound command to the bus
func (p *Publisher) forward(ctx context.Context, subject string, data []byte) {
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		p.failedCount.Add(1)
		p.recordError(err)
		if p.logLimiter.Allow() {
			p.logger.Warn("bus forward failed", "subject", subject, "error", err)
		}
	}
}

func (p *Publisher) topicFor(name string) string {
	return p.config.TopicPrefix + "/" + name
}

func (p *Publisher) setConn(conn mqttConnection) {
	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()
}

func (p *Publisher) connection() mqttConnection {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.conn
}

func (p *Publisher) recordError(err error) {
	if err != nil {
		p.lastErr.Store(err.Error())
	}
}

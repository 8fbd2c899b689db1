package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/raven-worx/xbot-monitoring/errors"
)

// ConnectionStatus represents the state of the bus connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "circuit_open"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// handleTimeout bounds how long a single message handler may run before its
// context expires.
const handleTimeout = 30 * time.Second

// Status is a point-in-time snapshot of the client for status reporting.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client connects the gateway to the robot's NATS bus. It layers three
// things over the plain NATS connection: a circuit breaker that fails fast
// while the bus is down, a watchdog that catches connections which are up
// but no longer answering, and a subject inventory that discovery polls
// because NATS itself cannot enumerate subjects.
type Client struct {
	url    string
	logger *slog.Logger

	status atomic.Value // ConnectionStatus
	conn   *nats.Conn
	subs   []*nats.Subscription

	// Subject inventory, fed by a wildcard tap under the configured root.
	inventory    map[string]struct{}
	inventoryMu  sync.RWMutex
	inventorySub *nats.Subscription

	// Circuit breaker. failures counts every failure for status reporting;
	// roundFailures counts only since the circuit last closed.
	failures         atomic.Int32
	roundFailures    atomic.Int32
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration

	// Dial behaviour.
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	dialTimeout   time.Duration
	drainTimeout  time.Duration

	clientName string
	username   string
	password   string // cleared on Close
	token      string // cleared on Close

	onDisconnect func(error)

	watchdogEvery time.Duration
	watchdogTick  *time.Ticker
	watchdogStop  chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for the given server URL. The client starts
// disconnected; call Connect to dial.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:       url,
		logger:    slog.With("component", "bus-client"),
		inventory: make(map[string]struct{}),

		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		dialTimeout:      5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		watchdogEvery:    10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply client option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy reports whether the client is connected.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the total failure count since the last circuit reset.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current circuit backoff duration.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// GetStatus returns a snapshot for status reporting.
func (c *Client) GetStatus() *Status {
	st := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			st.RTT = rtt
		}
	}
	return st
}

// growBackoff doubles the stored backoff up to the cap and returns the delay
// that applies to the round that just failed.
func (c *Client) growBackoff() time.Duration {
	cur := c.backoff.Load().(time.Duration)
	next := cur * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(next)
	return cur
}

// recordFailure counts a dial failure and opens the circuit once the
// threshold is reached in the current round.
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	round := c.roundFailures.Add(1)
	if round < c.circuitThreshold {
		return
	}

	status := c.Status()
	if status != StatusCircuitOpen {
		// Only one goroutine wins the transition and arms the retry timer.
		if c.status.CompareAndSwap(status, StatusCircuitOpen) {
			delay := c.growBackoff()
			c.roundFailures.Store(0)
			c.logger.Warn("bus circuit opened",
				"round_failures", round, "total_failures", total, "retry_in", delay)
			time.AfterFunc(delay, c.halfOpen)
		}
		return
	}

	// Already open, push the retry window out further.
	c.growBackoff()
	c.roundFailures.Store(0)
	c.logger.Warn("bus circuit still open", "backoff", c.Backoff())
}

// halfOpen lets the next Connect attempt through after the backoff window.
func (c *Client) halfOpen() {
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// resetCircuit clears failure counts after a successful connection.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.roundFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Connect dials the bus. While the circuit is open it fails immediately with
// ErrCircuitOpen; the circuit half-opens again once the backoff elapses.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to bus", "url", c.url)

	dialDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.dialOptions()...)
		if err != nil {
			dialDone <- err
			return
		}
		if ctx.Err() != nil {
			// The caller already gave up on this attempt.
			conn.Close()
			dialDone <- ctx.Err()
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		dialDone <- nil
	}()

	var dialErr error
	select {
	case err := <-dialDone:
		dialErr = err
	case <-ctx.Done():
		dialErr = ctx.Err()
	}
	if dialErr != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(dialErr, "Client", "Connect", "dial bus")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.startWatchdog()

	c.logger.Info("bus connected", "url", c.url)
	return nil
}

// WaitForConnection blocks until the client reports healthy or the context
// expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// Close drains and closes the connection. Safe to call more than once and on
// a client that never connected.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	// Stop the watchdog before taking the main lock, it shares c.mu.
	c.stopWatchdog()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil
	c.inventorySub = nil

	if c.conn != nil {
		if err := c.drainLocked(ctx); err != nil {
			c.logger.Error("bus drain failed", "error", err)
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
	}

	c.username, c.password, c.token = "", "", ""
	c.setStatus(StatusDisconnected)

	return stderrors.Join(errs...)
}

// drainLocked flushes pending messages, bounded by the drain timeout and the
// caller's context deadline, whichever ends first. Callers hold c.mu.
func (c *Client) drainLocked(ctx context.Context) error {
	limit := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < limit {
			limit = remaining
		}
	}

	done := make(chan error, 1)
	conn := c.conn
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(limit):
		return errors.WrapTransient(fmt.Errorf("drain timed out after %v", limit),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

// dialOptions renders the client configuration into NATS connect options.
func (c *Client) dialOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.dialTimeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleAsyncError),
	}

	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	return opts
}

// wrapHandler derives a bounded per-message context so a stuck handler
// cannot pin a subscription goroutine forever.
func wrapHandler(ctx context.Context, handler func(context.Context, []byte)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		handler(msgCtx, msg.Data)
	}
}

// Subscribe subscribes to a subject for the lifetime of the client.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, wrapHandler(ctx, handler))
	if err != nil {
		return errors.Wrap(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// SubscribeOnce subscribes to a subject for exactly one message. The
// subscription self-cancels server-side after the first delivery, so at most
// one message is ever consumed regardless of handler timing. The returned
// subscription lets the caller cancel early; after delivery it is already
// invalid and needs no cleanup.
func (c *Client) SubscribeOnce(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte),
) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, wrapHandler(ctx, handler))
	if err != nil {
		return nil, errors.Wrap(err, "Client", "SubscribeOnce", "subscribe "+subject)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.Wrap(err, "Client", "SubscribeOnce", "arm auto-unsubscribe")
	}

	return sub, nil
}

// SubscribeReply subscribes to a request subject. The handler's return value
// is sent back on the message's reply subject when one is present; a nil
// return suppresses the reply.
func (c *Client) SubscribeReply(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte) []byte,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		reply := handler(msgCtx, msg.Data)
		if reply == nil || msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Error("bus reply failed", "subject", msg.Reply, "error", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "Client", "SubscribeReply", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Publish publishes a message to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.Publish(subject, data)
}

// MaxPayload reports the server's negotiated maximum message size, or 0
// before a connection is established.
func (c *Client) MaxPayload() int64 {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return 0
	}
	return conn.MaxPayload()
}

// StartInventory begins recording every distinct subject observed under the
// given wildcard root (e.g. "xbot.>"). Idempotent; the tap lives until the
// client is closed. Messages are not consumed away from other subscribers -
// core NATS delivers to every matching subscription.
func (c *Client) StartInventory(root string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inventorySub != nil {
		return nil
	}
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(root, func(msg *nats.Msg) {
		c.inventoryMu.Lock()
		c.inventory[msg.Subject] = struct{}{}
		c.inventoryMu.Unlock()
	})
	if err != nil {
		return errors.Wrap(err, "Client", "StartInventory", "subscribe inventory root")
	}

	c.inventorySub = sub
	c.subs = append(c.subs, sub)

	c.logger.Debug("subject inventory started", "root", root)
	return nil
}

// KnownSubjects returns a sorted snapshot of every subject the inventory has
// observed so far.
func (c *Client) KnownSubjects() []string {
	c.inventoryMu.RLock()
	subjects := make([]string, 0, len(c.inventory))
	for s := range c.inventory {
		subjects = append(subjects, s)
	}
	c.inventoryMu.RUnlock()

	sort.Strings(subjects)
	return subjects
}

// RecordSubject adds a subject to the inventory directly (for testing).
func (c *Client) RecordSubject(subject string) {
	c.inventoryMu.Lock()
	c.inventory[subject] = struct{}{}
	c.inventoryMu.Unlock()
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("bus disconnected", "error", err)

	c.mu.RLock()
	notify := c.onDisconnect
	c.mu.RUnlock()
	if notify != nil {
		go notify(err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("bus reconnected", "url", conn.ConnectedUrl())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("bus subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("bus error", "error", err)
}

// startWatchdog begins periodic liveness probing. The NATS library flips
// status on clean disconnects; the watchdog catches the quiet failures where
// the TCP session is up but the server stopped answering, by round-tripping
// a ping every interval.
func (c *Client) startWatchdog() {
	c.stopWatchdog()

	c.mu.Lock()
	ticker := time.NewTicker(c.watchdogEvery)
	stop := make(chan struct{})
	c.watchdogTick = ticker
	c.watchdogStop = stop
	c.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.RLock()
				conn := c.conn
				c.mu.RUnlock()
				if conn == nil {
					continue
				}

				alive := conn.IsConnected()
				if alive {
					if _, err := conn.RTT(); err != nil {
						alive = false
					}
				}

				switch {
				case alive && c.Status() != StatusConnected:
					c.setStatus(StatusConnected)
				case !alive && c.Status() == StatusConnected:
					c.setStatus(StatusReconnecting)
				}
			}
		}
	}()
}

func (c *Client) stopWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchdogTick != nil {
		c.watchdogTick.Stop()
		c.watchdogTick = nil
	}
	if c.watchdogStop != nil {
		close(c.watchdogStop)
		c.watchdogStop = nil
	}
}

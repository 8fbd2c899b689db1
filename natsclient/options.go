package natsclient

import "time"

// ClientOption configures a Client at construction time.
type ClientOption func(*Client) error

// WithName sets the connection name reported to the NATS server, which makes
// the gateway identifiable in server-side monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects bounds the library's own reconnect attempts. -1 retries
// forever, the default for a gateway that must outlive bus restarts.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets how often the NATS library pings the server to
// detect dead connections.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithCredentials enables username and password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken enables token authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many failures in a round open the
// circuit. Values below 1 fall back to the default of 5.
func WithCircuitBreakerThreshold(n int32) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			n = 5
		}
		c.circuitThreshold = n
		return nil
	}
}

// WithDisconnectCallback registers a callback invoked on its own goroutine
// whenever the server connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

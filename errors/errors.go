package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared across gateway components. A sentinel carries no
// class of its own; the site that returns one wraps it with WrapTransient,
// WrapInvalid or WrapFatal to say how callers should treat the failure.
var (
	// Lifecycle misuse, a component called in the wrong state.
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")

	// Bus and broker connectivity.
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// Request and configuration validation.
	ErrEmptyCommand  = errors.New("empty command payload")
	ErrMissingConfig = errors.New("missing required configuration")
)

type class int

const (
	transient class = iota
	invalid
	fatal
)

// classified attaches a handling class to a contextualized error. The class
// is read back through IsTransient, IsInvalid and IsFatal; the original cause
// stays reachable through errors.Is and errors.As. When wraps nest, the
// outermost class wins.
type classified struct {
	class class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() error { return c.err }

// Wrap adds "component.method: action failed" context without assigning a
// class.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(cl class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &classified{class: cl, err: Wrap(err, component, method, action)}
}

// WrapTransient marks a failure worth retrying, such as a lost broker
// connection or a full queue.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(transient, err, component, method, action)
}

// WrapInvalid marks a failure caused by bad input or a bad call, which no
// retry can fix.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(invalid, err, component, method, action)
}

// WrapFatal marks a failure the component cannot recover from on its own.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(fatal, err, component, method, action)
}

func classOf(err error) (class, bool) {
	var c *classified
	if errors.As(err, &c) {
		return c.class, true
	}
	return 0, false
}

// IsTransient reports whether err describes a temporary condition. Errors
// that never passed through WrapTransient still count when they are context
// deadline expiries or network timeouts, which is how bus and broker client
// errors surface.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if cl, ok := classOf(err); ok {
		return cl == transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsInvalid reports whether err was classified with WrapInvalid.
func IsInvalid(err error) bool {
	cl, ok := classOf(err)
	return ok && cl == invalid
}

// IsFatal reports whether err was classified with WrapFatal.
func IsFatal(err error) bool {
	cl, ok := classOf(err)
	return ok && cl == fatal
}

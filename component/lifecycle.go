package component

import (
	"context"
	"time"
)

// State is the lifecycle state of a managed component.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = [...]string{"created", "initialized", "started", "stopped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// LifecycleComponent is a component the Manager can run. Initialize sets up
// resources without doing any work, Start begins work under the given
// context, and Stop shuts down gracefully within the timeout. Components do
// not store their context; the Manager owns it and cancels it on stop.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent is the Manager's bookkeeping for one registered component.
// Cancel tears down the child context Start ran under. LastError holds the
// error that moved the component to StateFailed, if any.
type ManagedComponent struct {
	Component LifecycleComponent
	State     State
	Cancel    context.CancelFunc
	LastError error
}

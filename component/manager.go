package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/raven-worx/xbot-monitoring/errors"
)

// Manager coordinates the lifecycle of a fixed set of components.
// Components are initialized and started in registration order and stopped
// in reverse order, each under its own child context so a single component
// can be cancelled without tearing down the rest.
type Manager struct {
	components []*ManagedComponent
	logger     *slog.Logger
}

// NewManager creates a component manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("subsystem", "component-manager")}
}

// Register adds a component to the managed set. Registration order is start
// order. Not safe for concurrent use; register everything before Start.
func (m *Manager) Register(comp LifecycleComponent) {
	m.components = append(m.components, &ManagedComponent{
		Component: comp,
		State:     StateCreated,
	})
}

// Components returns the managed components for inspection.
func (m *Manager) Components() []*ManagedComponent {
	return m.components
}

// StartAll initializes and starts every registered component in order.
// The first failure stops the sequence; already-started components are
// stopped in reverse before the error is returned.
func (m *Manager) StartAll(ctx context.Context, stopTimeout time.Duration) error {
	for i, mc := range m.components {
		meta := mc.Component.Meta()

		if err := mc.Component.Initialize(); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.stopStarted(i, stopTimeout)
			return errors.Wrap(err, "Manager", "StartAll", "initialize "+meta.Name)
		}
		mc.State = StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		mc.Cancel = cancel

		if err := mc.Component.Start(childCtx); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			cancel()
			m.stopStarted(i, stopTimeout)
			return errors.Wrap(err, "Manager", "StartAll", "start "+meta.Name)
		}
		mc.State = StateStarted

		m.logger.Info("component started", "component", meta.Name, "type", meta.Type)
	}
	return nil
}

// StopAll stops every started component in reverse start order. All stops
// are attempted; the first error encountered is returned.
func (m *Manager) StopAll(timeout time.Duration) error {
	var firstErr error
	for i := len(m.components) - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.State != StateStarted {
			continue
		}
		meta := mc.Component.Meta()
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.logger.Error("component stop failed", "component", meta.Name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Manager", "StopAll", "stop "+meta.Name)
			}
		} else {
			mc.State = StateStopped
			m.logger.Info("component stopped", "component", meta.Name)
		}
		if mc.Cancel != nil {
			mc.Cancel()
		}
	}
	return firstErr
}

// stopStarted unwinds components started before index i, in reverse order.
func (m *Manager) stopStarted(i int, timeout time.Duration) {
	for j := i - 1; j >= 0; j-- {
		mc := m.components[j]
		if mc.State != StateStarted {
			continue
		}
		if err := mc.Component.Stop(timeout); err != nil {
			m.logger.Error("component stop during unwind failed",
				"component", mc.Component.Meta().Name, "error", err)
			mc.State = StateFailed
			mc.LastError = err
		} else {
			mc.State = StateStopped
		}
		if mc.Cancel != nil {
			mc.Cancel()
		}
	}
}

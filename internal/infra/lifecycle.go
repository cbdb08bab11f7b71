// Package infra carries the gateway's cross-cutting runtime plumbing:
// component start/stop sequencing, health aggregation, and retry with
// backoff. lifecycle.go defines the component state machine the
// session manager and its HTTP server embed so cmd/gateway can start
// and stop both in a fixed, rollback-safe order.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Lifecycle is the minimal start/stop contract every managed gateway
// component satisfies. Start and Stop need not be idempotent:
// ComponentManager ignores a repeated Start or Stop of itself, and the
// gateway's own components return an error from a second Start.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ComponentHealthChecker reports a component's current health, distinct
// from HealthChecker (health.go's function type for ad-hoc checks).
type ComponentHealthChecker interface {
	Health(ctx context.Context) ComponentHealth
}

// ComponentHealth is the health snapshot a managed component returns.
type ComponentHealth struct {
	State   ServiceHealth     `json:"state"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Named gives a component a stable identifier for logging and the
// aggregated health report.
type Named interface {
	Name() string
}

// FullLifecycleComponent is what ComponentManager registers: something
// that starts, stops, reports health, and can name itself in logs.
type FullLifecycleComponent interface {
	Lifecycle
	ComponentHealthChecker
	Named
}

// ComponentState tracks where a component sits in the start/stop cycle.
// The gateway's components only ever walk New -> Starting -> Running ->
// Stopping -> Stopped; there is no Failed state here because neither
// the session manager nor its HTTP server retries a failed start — a
// failed Start simply propagates the error up to cmd/gateway's rollback
// path in ComponentManager.Start.
type ComponentState int32

const (
	ComponentStateNew ComponentState = iota
	ComponentStateStarting
	ComponentStateRunning
	ComponentStateStopping
	ComponentStateStopped
)

func (s ComponentState) String() string {
	switch s {
	case ComponentStateNew:
		return "new"
	case ComponentStateStarting:
		return "starting"
	case ComponentStateRunning:
		return "running"
	case ComponentStateStopping:
		return "stopping"
	case ComponentStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BaseComponent gives a gateway component atomic state tracking and a
// scoped logger. Embedded by manager.Manager and manager.HTTPServer,
// the two components cmd/gateway registers with a ComponentManager.
type BaseComponent struct {
	name   string
	state  atomic.Int32
	logger *slog.Logger
}

// NewBaseComponent creates a component in ComponentStateNew.
func NewBaseComponent(name string, logger *slog.Logger) *BaseComponent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseComponent{name: name, logger: logger}
}

// Name returns the component's registered name.
func (c *BaseComponent) Name() string {
	return c.name
}

// State returns the current state.
func (c *BaseComponent) State() ComponentState {
	return ComponentState(c.state.Load())
}

// IsRunning reports whether the component is in ComponentStateRunning.
func (c *BaseComponent) IsRunning() bool {
	return c.State() == ComponentStateRunning
}

// Logger returns the component's scoped logger.
func (c *BaseComponent) Logger() *slog.Logger {
	return c.logger
}

// TransitionTo attempts an atomic state change, logging it on success.
func (c *BaseComponent) TransitionTo(from, to ComponentState) bool {
	if c.state.CompareAndSwap(int32(from), int32(to)) {
		c.logger.Debug("component state transition", "component", c.name, "from", from.String(), "to", to.String())
		return true
	}
	return false
}

// MarkStarted forces the component into ComponentStateRunning.
func (c *BaseComponent) MarkStarted() {
	c.state.Store(int32(ComponentStateRunning))
}

// MarkStopped forces the component into ComponentStateStopped.
func (c *BaseComponent) MarkStopped() {
	c.state.Store(int32(ComponentStateStopped))
}

// ComponentManager starts and stops the gateway's registered
// components in a fixed order, rolling back a partial start if any
// component fails.
type ComponentManager struct {
	mu         sync.Mutex
	components []FullLifecycleComponent
	logger     *slog.Logger
	started    atomic.Bool
}

// NewComponentManager creates an empty manager.
func NewComponentManager(logger *slog.Logger) *ComponentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentManager{logger: logger}
}

// Register appends a component. Components start in registration order
// and stop in reverse order.
func (m *ComponentManager) Register(c FullLifecycleComponent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Start starts every registered component in order. If one fails,
// every component already started is stopped before Start returns the
// error, so a failed boot never leaves a partial set running.
func (m *ComponentManager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	components := append([]FullLifecycleComponent(nil), m.components...)
	m.mu.Unlock()

	started := make([]FullLifecycleComponent, 0, len(components))
	for _, c := range components {
		m.logger.Info("starting component", "component", c.Name())
		if err := c.Start(ctx); err != nil {
			m.logger.Error("component failed to start", "component", c.Name(), "error", err)
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(ctx); stopErr != nil {
					m.logger.Error("error stopping component during rollback", "component", started[i].Name(), "error", stopErr)
				}
			}
			m.started.Store(false)
			return fmt.Errorf("component %s failed to start: %w", c.Name(), err)
		}
		started = append(started, c)
	}

	m.logger.Info("all components started", "count", len(started))
	return nil
}

// Stop stops every registered component in reverse order, collecting
// and returning every error rather than stopping at the first.
func (m *ComponentManager) Stop(ctx context.Context) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}

	m.mu.Lock()
	components := append([]FullLifecycleComponent(nil), m.components...)
	m.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		m.logger.Info("stopping component", "component", c.Name())
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("error stopping component", "component", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("component %s: %w", c.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping components: %v", errs)
	}
	m.logger.Info("all components stopped")
	return nil
}

package triggers

import (
	"context"
	"fmt"
	"time"

	"traderHive/internal/ports"
)

// Manager evaluates triggers for a trader in a fixed order (time before
// price) and reports at most one event per trader per sweep. Trigger
// evaluation errors are logged and the trigger skipped.
type Manager struct {
	triggers []Trigger
	logger   ports.Logger
	// enabled gates each trigger type; nil means always enabled.
	enabled func(Type) bool
	now     func() time.Time
}

// ManagerConfig holds the dependencies for a Manager.
type ManagerConfig struct {
	// Triggers are evaluated in slice order.
	Triggers []Trigger
	Logger   ports.Logger
	// Enabled reports whether a trigger type is currently active. Nil
	// enables everything.
	Enabled func(Type) bool
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewManager creates a trigger manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Triggers) == 0 {
		return nil, fmt.Errorf("at least one trigger is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrInvalidRequest)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		triggers: cfg.Triggers,
		logger:   cfg.Logger,
		enabled:  cfg.Enabled,
		now:      now,
	}, nil
}

// Check evaluates the triggers for one trader and returns the first event
// that fired, or nil when nothing fired. Later triggers are not evaluated
// once one fires, so their state does not advance spuriously.
func (m *Manager) Check(ctx context.Context, traderID string, tctx Context) *Event {
	for _, trigger := range m.triggers {
		if m.enabled != nil && !m.enabled(trigger.Type()) {
			continue
		}
		fired, err := trigger.ShouldFire(ctx, traderID, tctx)
		if err != nil {
			m.logger.Error(ctx, err, "trigger evaluation failed", map[string]interface{}{
				"trader_id": traderID,
				"trigger":   string(trigger.Type()),
			})
			continue
		}
		if !fired {
			continue
		}
		return &Event{
			Type:      trigger.Type(),
			TraderID:  traderID,
			Timestamp: m.now(),
			Metadata: map[string]interface{}{
				"trigger": string(trigger.Type()),
			},
		}
	}
	return nil
}

// ResetTrader clears every trigger's state for a trader, forcing the next
// evaluation to start from scratch. Used after trader config changes.
func (m *Manager) ResetTrader(traderID string) {
	for _, trigger := range m.triggers {
		trigger.Reset(traderID)
	}
}

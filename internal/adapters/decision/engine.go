package decision

import (
	"context"
	"fmt"

	"traderHive/internal/ports"
)

// Backend is the raw external decision engine: it receives trader context
// and answers with an action string in the grammar accepted by ParseAction.
type Backend interface {
	Decide(ctx context.Context, traderID string, dctx ports.DecisionContext) (string, error)
	Optimize(ctx context.Context, traderID string) error
}

// TextEngine adapts a text-speaking Backend into ports.DecisionEngine.
// Backend failures are wrapped with ErrDecisionEngine; unparseable responses
// degrade to Hold rather than erroring.
type TextEngine struct {
	backend Backend
	logger  ports.Logger
}

// NewTextEngine creates the adapter.
func NewTextEngine(backend Backend, logger ports.Logger) (*TextEngine, error) {
	if backend == nil || logger == nil {
		return nil, fmt.Errorf("backend and logger are required for decision engine")
	}
	return &TextEngine{backend: backend, logger: logger}, nil
}

// Decide runs one decision cycle and parses the engine's response.
func (e *TextEngine) Decide(ctx context.Context, traderID string, dctx ports.DecisionContext) (ports.Action, error) {
	raw, err := e.backend.Decide(ctx, traderID, dctx)
	if err != nil {
		return nil, fmt.Errorf("decide for trader %s: %w: %w", traderID, ports.ErrDecisionEngine, err)
	}

	action := ParseAction(raw)
	if _, held := action.(ports.Hold); held && raw != "" {
		e.logger.Debug(ctx, "Decision response parsed as hold", map[string]interface{}{
			"traderID": traderID,
			"response": raw,
		})
	}
	return action, nil
}

// Optimize delegates the optimization pass to the backend.
func (e *TextEngine) Optimize(ctx context.Context, traderID string) error {
	if err := e.backend.Optimize(ctx, traderID); err != nil {
		return fmt.Errorf("optimize for trader %s: %w: %w", traderID, ports.ErrDecisionEngine, err)
	}
	return nil
}

// NopBackend is a stand-in backend that always holds. Useful for running the
// scheduler without a live engine attached.
type NopBackend struct{}

func (NopBackend) Decide(ctx context.Context, traderID string, dctx ports.DecisionContext) (string, error) {
	return "hold", nil
}

func (NopBackend) Optimize(ctx context.Context, traderID string) error {
	return nil
}

package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
)

// Action is the tagged result of a decision cycle. The concrete types below
// are the only implementations; executors can type-switch exhaustively.
type Action interface {
	isAction()
}

// OpenLong opens a new long position.
type OpenLong struct {
	Exchange string
	Symbol   string
	Size     decimal.Decimal
	Leverage decimal.Decimal // zero means "use default"
}

// OpenShort opens a new short position.
type OpenShort struct {
	Exchange string
	Symbol   string
	Size     decimal.Decimal
	Leverage decimal.Decimal
}

// ClosePosition closes one open position by id.
type ClosePosition struct {
	PositionID int64
}

// CloseAll closes every open position the trader holds.
type CloseAll struct{}

// Hold takes no action. It is also the fallback for any response the
// engine produced that could not be understood.
type Hold struct{}

func (OpenLong) isAction()      {}
func (OpenShort) isAction()     {}
func (ClosePosition) isAction() {}
func (CloseAll) isAction()      {}
func (Hold) isAction()          {}

// DecisionContext bundles what the decision engine sees for one trader.
type DecisionContext struct {
	Trader        *domain.Trader
	OpenPositions []*domain.Position
	// Prices maps "exchange:SYMBOL" to the latest cached price.
	Prices map[string]decimal.Decimal
}

// DecisionEngine is the external engine that turns trader context into an
// action. Failures should be wrapped with ErrDecisionEngine.
type DecisionEngine interface {
	// Decide runs one decision cycle for a trader.
	Decide(ctx context.Context, traderID string, dctx DecisionContext) (Action, error)
	// Optimize runs a (slow) parameter optimization pass for a trader.
	Optimize(ctx context.Context, traderID string) error
}

package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
	"traderHive/internal/ports"
)

// DefaultLeverage applies when an open action does not specify leverage.
var DefaultLeverage = decimal.NewFromInt(5)

// LedgerOps is the slice of the ledger the executor drives.
type LedgerOps interface {
	Open(ctx context.Context, traderID, exchange, symbol string, side domain.Side, size, leverage decimal.Decimal) (*domain.Position, error)
	Close(ctx context.Context, positionID int64, exitPrice decimal.Decimal) (decimal.Decimal, error)
}

// PriceSource supplies the current price for a pair. Satisfied by the
// price cache.
type PriceSource interface {
	Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
	GetMany(ctx context.Context, pairs []string) map[string]decimal.Decimal
}

// Executor turns decision-engine actions into ledger operations.
type Executor struct {
	ledger    LedgerOps
	positions ports.PositionRepository
	prices    PriceSource
	logger    ports.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(ledger LedgerOps, positions ports.PositionRepository, prices PriceSource, logger ports.Logger) *Executor {
	return &Executor{
		ledger:    ledger,
		positions: positions,
		prices:    prices,
		logger:    logger,
	}
}

// Apply carries out a single action on behalf of a trader. Hold is a
// no-op. ClosePosition on a position the trader does not own fails with
// ErrInvalidRequest.
func (e *Executor) Apply(ctx context.Context, traderID string, action ports.Action) error {
	switch a := action.(type) {
	case ports.Hold:
		return nil
	case ports.OpenLong:
		return e.open(ctx, traderID, domain.Long, a.Exchange, a.Symbol, a.Size, a.Leverage)
	case ports.OpenShort:
		return e.open(ctx, traderID, domain.Short, a.Exchange, a.Symbol, a.Size, a.Leverage)
	case ports.ClosePosition:
		return e.closeOne(ctx, traderID, a.PositionID)
	case ports.CloseAll:
		return e.closeAll(ctx, traderID)
	default:
		return fmt.Errorf("unknown action %T: %w", action, ports.ErrInvalidRequest)
	}
}

func (e *Executor) open(ctx context.Context, traderID string, side domain.Side, exchange, symbol string, size, leverage decimal.Decimal) error {
	if leverage.IsZero() {
		leverage = DefaultLeverage
	}
	if exchange == "" {
		exchange = "binance"
	}
	_, err := e.ledger.Open(ctx, traderID, strings.ToLower(exchange), strings.ToUpper(symbol), side, size, leverage)
	return err
}

func (e *Executor) closeOne(ctx context.Context, traderID string, positionID int64) error {
	pos, err := e.positions.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if pos.TraderID != traderID {
		return fmt.Errorf("position %d belongs to another trader: %w", positionID, ports.ErrInvalidRequest)
	}

	price, err := e.prices.Get(ctx, pos.Exchange, pos.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch exit price for position %d: %w", positionID, err)
	}
	_, err = e.ledger.Close(ctx, positionID, price)
	return err
}

func (e *Executor) closeAll(ctx context.Context, traderID string) error {
	open, err := e.positions.ListByTrader(ctx, traderID, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to list open positions for trader %s: %w", traderID, err)
	}

	var firstErr error
	for _, pos := range open {
		price, err := e.prices.Get(ctx, pos.Exchange, pos.Symbol)
		if err == nil {
			_, err = e.ledger.Close(ctx, pos.ID, price)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Error(ctx, err, "failed to close position", map[string]interface{}{
				"trader_id":   traderID,
				"position_id": pos.ID,
			})
		}
	}
	return firstErr
}

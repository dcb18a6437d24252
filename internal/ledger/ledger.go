// Package ledger owns the position lifecycle and its effect on trader
// balances: opening with margin and fees, marking to market, closing and
// forced liquidation.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
	"traderHive/internal/ports"
)

// lockStripes is the size of the striped lock table serializing lifecycle
// transitions. Unrelated positions proceed concurrently.
const lockStripes = 64

// PriceSource supplies the current price for a pair. Satisfied by the
// price cache.
type PriceSource interface {
	Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
}

// Config holds the dependencies for a Ledger.
type Config struct {
	Traders   ports.TraderRepository
	Positions ports.PositionRepository
	Fees      ports.FeeSchedule
	Prices    PriceSource
	Logger    ports.Logger
	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Ledger applies position lifecycle transitions and keeps trader balance
// and equity consistent with them.
type Ledger struct {
	traders   ports.TraderRepository
	positions ports.PositionRepository
	fees      ports.FeeSchedule
	prices    PriceSource
	logger    ports.Logger
	now       func() time.Time

	stripes [lockStripes]sync.Mutex
}

// New creates a ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Traders == nil || cfg.Positions == nil {
		return nil, fmt.Errorf("trader and position repositories are required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Fees == nil {
		return nil, fmt.Errorf("fee schedule is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrInvalidRequest)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		traders:   cfg.Traders,
		positions: cfg.Positions,
		fees:      cfg.Fees,
		prices:    cfg.Prices,
		logger:    cfg.Logger,
		now:       now,
	}, nil
}

// Open opens a leveraged position for a trader. The entry fee is charged
// at the taker rate and, together with the margin, deducted from the
// trader's balance. Fails with ErrInsufficientBalance when the balance
// cannot cover margin plus fee.
func (l *Ledger) Open(ctx context.Context, traderID, exchange, symbol string, side domain.Side, size, leverage decimal.Decimal) (*domain.Position, error) {
	if size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("position size must be positive: %w", ports.ErrInvalidRequest)
	}
	if leverage.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("leverage must be positive: %w", ports.ErrInvalidRequest)
	}

	l.lockTrader(traderID)
	defer l.unlockTrader(traderID)

	trader, err := l.traders.GetTrader(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trader %s: %w", traderID, err)
	}
	if trader == nil {
		return nil, fmt.Errorf("trader %s: %w", traderID, ports.ErrNotFound)
	}

	entryPrice, err := l.prices.Get(ctx, exchange, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entry price for %s %s: %w", exchange, symbol, err)
	}

	entryFee, err := l.fees.Fee(exchange, size, entryPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry fee: %w", err)
	}

	now := l.now()
	pos := &domain.Position{
		TraderID:      traderID,
		Exchange:      exchange,
		Symbol:        symbol,
		Side:          side,
		Status:        domain.StatusOpen,
		Leverage:      leverage,
		EntryPrice:    entryPrice,
		EntryTime:     now,
		EntryFee:      entryFee,
		Size:          size,
		UnrealizedPnL: entryFee.Neg(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	pos.Margin = pos.ComputeMargin()
	pos.LiquidationPrice = pos.ComputeLiquidationPrice()
	pos.ROI = pos.ComputeROI(pos.UnrealizedPnL)

	cost := pos.Margin.Add(entryFee)
	if trader.Balance.LessThan(cost) {
		return nil, fmt.Errorf("balance %s cannot cover margin %s plus fee %s: %w",
			trader.Balance, pos.Margin, entryFee, ports.ErrInsufficientBalance)
	}

	id, err := l.positions.CreatePosition(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("failed to persist position: %w", err)
	}
	pos.ID = id

	newBalance := trader.Balance.Sub(cost)
	equity, err := l.equityFor(ctx, traderID, newBalance)
	if err != nil {
		return nil, err
	}
	if err := l.traders.ApplyBalanceChange(ctx, traderID, cost.Neg(), equity); err != nil {
		return nil, fmt.Errorf("failed to deduct margin for position %d: %w", id, err)
	}

	l.logger.Info(ctx, "position opened", map[string]interface{}{
		"trader_id":   traderID,
		"position_id": id,
		"symbol":      symbol,
		"side":        string(side),
		"size":        size.String(),
		"leverage":    leverage.String(),
		"entry_price": entryPrice.String(),
		"margin":      pos.Margin.String(),
		"entry_fee":   entryFee.String(),
	})
	return pos, nil
}

// MarkToMarket returns the unrealized PnL of a position at a price. Pure;
// nothing is persisted.
func (l *Ledger) MarkToMarket(pos *domain.Position, price decimal.Decimal) decimal.Decimal {
	return pos.ComputeUnrealizedPnL(price)
}

// UpdateMark persists a fresh mark-to-market result for an open position.
func (l *Ledger) UpdateMark(ctx context.Context, pos *domain.Position, price decimal.Decimal) error {
	unrealized := pos.ComputeUnrealizedPnL(price)
	roi := pos.ComputeROI(unrealized)
	if err := l.positions.UpdatePnL(ctx, pos.ID, unrealized, roi); err != nil {
		return fmt.Errorf("failed to update pnl for position %d: %w", pos.ID, err)
	}
	pos.UnrealizedPnL = unrealized
	pos.ROI = roi
	return nil
}

// Close closes an open position at the given exit price. The exit fee is
// charged at the taker rate; realized PnL is the raw price move minus both
// fees and the margin is returned to the balance.
func (l *Ledger) Close(ctx context.Context, positionID int64, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	l.lockPosition(positionID)
	defer l.unlockPosition(positionID)

	pos, err := l.positions.GetPosition(ctx, positionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return decimal.Zero, fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if !pos.IsOpen() {
		return decimal.Zero, fmt.Errorf("position %d is %s: %w", positionID, pos.Status, ports.ErrPositionClosed)
	}

	exitFee, err := l.fees.Fee(pos.Exchange, pos.Size, exitPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute exit fee: %w", err)
	}

	raw := pos.Side.Sign().Mul(pos.Size).Mul(exitPrice.Sub(pos.EntryPrice))
	realized := raw.Sub(pos.EntryFee).Sub(exitFee)
	roi := pos.ComputeROI(realized)

	if err := l.positions.CloseOut(ctx, positionID, domain.StatusClosed, exitPrice, l.now(), exitFee, realized, roi); err != nil {
		return decimal.Zero, fmt.Errorf("failed to close position %d: %w", positionID, err)
	}

	if err := l.settleBalance(ctx, pos.TraderID, pos.Margin.Add(realized)); err != nil {
		return decimal.Zero, err
	}

	l.logger.Info(ctx, "position closed", map[string]interface{}{
		"trader_id":   pos.TraderID,
		"position_id": positionID,
		"exit_price":  exitPrice.String(),
		"realized":    realized.String(),
		"roi":         roi.String(),
	})
	return realized, nil
}

// ForceLiquidate marks an open position liquidated at the given price. The
// margin is forfeited; the realized figure is the unrealized loss at that
// price less the entry fee. No exit fee is charged.
func (l *Ledger) ForceLiquidate(ctx context.Context, positionID int64, price decimal.Decimal) error {
	l.lockPosition(positionID)
	defer l.unlockPosition(positionID)

	pos, err := l.positions.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if !pos.IsOpen() {
		return fmt.Errorf("position %d is %s: %w", positionID, pos.Status, ports.ErrPositionClosed)
	}

	realized := pos.ComputeUnrealizedPnL(price).Sub(pos.EntryFee)
	roi := pos.ComputeROI(realized)

	if err := l.positions.CloseOut(ctx, positionID, domain.StatusLiquidated, price, l.now(), decimal.Zero, realized, roi); err != nil {
		return fmt.Errorf("failed to liquidate position %d: %w", positionID, err)
	}

	if err := l.RecomputeEquity(ctx, pos.TraderID); err != nil {
		return err
	}

	l.logger.Warn(ctx, "position liquidated", map[string]interface{}{
		"trader_id":   pos.TraderID,
		"position_id": positionID,
		"price":       price.String(),
		"realized":    realized.String(),
		"margin_lost": pos.Margin.String(),
	})
	return nil
}

// RecomputeEquity recalculates a trader's equity as balance plus the
// stored unrealized PnL of every open position, and persists it.
func (l *Ledger) RecomputeEquity(ctx context.Context, traderID string) error {
	trader, err := l.traders.GetTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("failed to load trader %s: %w", traderID, err)
	}
	if trader == nil {
		return fmt.Errorf("trader %s: %w", traderID, ports.ErrNotFound)
	}
	equity, err := l.equityFor(ctx, traderID, trader.Balance)
	if err != nil {
		return err
	}
	if err := l.traders.SetEquity(ctx, traderID, equity); err != nil {
		return fmt.Errorf("failed to persist equity for trader %s: %w", traderID, err)
	}
	return nil
}

// Summary aggregates a trader's position history.
type Summary struct {
	TraderID        string
	Open            int
	Closed          int
	Liquidated      int
	TotalUnrealized decimal.Decimal
	TotalRealized   decimal.Decimal
	// AvgClosedROI is the mean ROI over closed positions, zero when none.
	AvgClosedROI decimal.Decimal
}

// TraderSummary reports counts by status and aggregate PnL for a trader.
func (l *Ledger) TraderSummary(ctx context.Context, traderID string) (*Summary, error) {
	all, err := l.positions.ListByTrader(ctx, traderID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for trader %s: %w", traderID, err)
	}

	s := &Summary{TraderID: traderID}
	closedROI := decimal.Zero
	for _, pos := range all {
		switch pos.Status {
		case domain.StatusOpen:
			s.Open++
			s.TotalUnrealized = s.TotalUnrealized.Add(pos.UnrealizedPnL)
		case domain.StatusClosed:
			s.Closed++
			s.TotalRealized = s.TotalRealized.Add(pos.RealizedPnL)
			closedROI = closedROI.Add(pos.ROI)
		case domain.StatusLiquidated:
			s.Liquidated++
			s.TotalRealized = s.TotalRealized.Add(pos.RealizedPnL)
		}
	}
	if s.Closed > 0 {
		s.AvgClosedROI = closedROI.Div(decimal.NewFromInt(int64(s.Closed)))
	}
	return s, nil
}

func (l *Ledger) settleBalance(ctx context.Context, traderID string, delta decimal.Decimal) error {
	trader, err := l.traders.GetTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("failed to load trader %s: %w", traderID, err)
	}
	if trader == nil {
		return fmt.Errorf("trader %s: %w", traderID, ports.ErrNotFound)
	}
	equity, err := l.equityFor(ctx, traderID, trader.Balance.Add(delta))
	if err != nil {
		return err
	}
	if err := l.traders.ApplyBalanceChange(ctx, traderID, delta, equity); err != nil {
		return fmt.Errorf("failed to settle balance for trader %s: %w", traderID, err)
	}
	return nil
}

// equityFor computes balance plus the stored unrealized PnL of the
// trader's open positions.
func (l *Ledger) equityFor(ctx context.Context, traderID string, balance decimal.Decimal) (decimal.Decimal, error) {
	open, err := l.positions.ListByTrader(ctx, traderID, domain.StatusOpen)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list open positions for trader %s: %w", traderID, err)
	}
	equity := balance
	for _, pos := range open {
		equity = equity.Add(pos.UnrealizedPnL)
	}
	return equity, nil
}

func (l *Ledger) lockPosition(id int64) {
	l.stripes[uint64(id)%lockStripes].Lock()
}

func (l *Ledger) unlockPosition(id int64) {
	l.stripes[uint64(id)%lockStripes].Unlock()
}

func (l *Ledger) lockTrader(id string) {
	l.stripes[hashString(id)%lockStripes].Lock()
}

func (l *Ledger) unlockTrader(id string) {
	l.stripes[hashString(id)%lockStripes].Unlock()
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

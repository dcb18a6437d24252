package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position (long or short).
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Sign returns +1 for long and -1 for short, the multiplier applied to
// raw price movement when computing PnL.
func (s Side) Sign() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// PositionStatus is the lifecycle state of a position. Transitions are
// one-way: open -> closed or open -> liquidated, terminal once left open.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "open"
	StatusClosed     PositionStatus = "closed"
	StatusLiquidated PositionStatus = "liquidated"
)

// IsTerminal reports whether the status permits no further transitions.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

// MaintenanceMarginRate is the fixed maintenance margin used for the
// liquidation price formula (0.5%, typical for USDT perpetuals).
var MaintenanceMarginRate = decimal.NewFromFloat(0.005)

// Position represents a simulated leveraged futures position.
type Position struct {
	ID       int64
	TraderID string
	Exchange string
	Symbol   string
	Side     Side
	Status   PositionStatus

	Leverage   decimal.Decimal // > 0
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	EntryFee   decimal.Decimal
	ExitPrice  decimal.Decimal // set only on close/liquidation
	ExitTime   time.Time
	ExitFee    decimal.Decimal

	Size   decimal.Decimal // base-currency quantity, > 0
	Margin decimal.Decimal // Size * EntryPrice / Leverage

	UnrealizedPnL decimal.Decimal // meaningful only while open
	RealizedPnL   decimal.Decimal // meaningful only once closed/liquidated
	ROI           decimal.Decimal // pnl / margin * 100

	LiquidationPrice decimal.Decimal // computed once at open

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// ComputeMargin returns Size * EntryPrice / Leverage.
func (p *Position) ComputeMargin() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice).Div(p.Leverage)
}

// ComputeUnrealizedPnL marks the position to the given price:
//
//	sideSign * size * (price - entry) - entryFee
//
// Leverage scales the margin requirement, never the raw PnL. A closed or
// liquidated position always marks to zero.
func (p *Position) ComputeUnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}
	raw := p.Side.Sign().Mul(p.Size).Mul(price.Sub(p.EntryPrice))
	return raw.Sub(p.EntryFee)
}

// ComputeROI returns pnl as a percentage of the position's margin.
func (p *Position) ComputeROI(pnl decimal.Decimal) decimal.Decimal {
	if p.Margin.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(p.Margin).Mul(decimal.NewFromInt(100))
}

// ComputeLiquidationPrice derives the adverse price at which losses consume
// the margin past the maintenance threshold:
//
//	long:  entry * (1 - 1/leverage + maintenanceMargin)
//	short: entry * (1 + 1/leverage - maintenanceMargin)
//
// The result is floored at zero.
func (p *Position) ComputeLiquidationPrice() decimal.Decimal {
	one := decimal.NewFromInt(1)
	invLev := one.Div(p.Leverage)

	var liq decimal.Decimal
	if p.Side == Long {
		liq = p.EntryPrice.Mul(one.Sub(invLev).Add(MaintenanceMarginRate))
	} else {
		liq = p.EntryPrice.Mul(one.Add(invLev).Sub(MaintenanceMarginRate))
	}
	if liq.IsNegative() {
		return decimal.Zero
	}
	return liq
}

// ShouldLiquidate reports whether the given price has crossed the
// liquidation price in the adverse direction: <= for longs, >= for shorts.
func (p *Position) ShouldLiquidate(price decimal.Decimal) bool {
	if !p.IsOpen() {
		return false
	}
	liq := p.LiquidationPrice
	if liq.IsZero() {
		liq = p.ComputeLiquidationPrice()
	}
	if p.Side == Long {
		return price.LessThanOrEqual(liq)
	}
	return price.GreaterThanOrEqual(liq)
}
